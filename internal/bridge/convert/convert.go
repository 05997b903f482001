// Package convert implements the Bridge's command-to-velocity conversion
// (C10). Grounded on original_source/rpi/bridge/converter.py, including
// its own closed preset table — deliberately different from the
// Manager's internal/manager.CommandPresets; see that package's doc
// comment for why the divergence is kept.
package convert

import (
	"strings"

	"teleop-go/internal/mathx"
)

// Preset is a raw (throttle, steer, brake) triple.
type Preset struct {
	Throttle float64
	Steer    float64
	Brake    float64
}

// CommandPresets is the Bridge's own closed set of named commands.
// ToVelocity applies an entry when it is given a recognised command name;
// the subscriber relays the numeric last_ctrl triple and always passes an
// empty name, so it never selects one of these entries.
var CommandPresets = map[string]Preset{
	"IDLE":  {Throttle: 0.0, Steer: 0.0, Brake: 0.4},
	"UP":    {Throttle: 1.0, Steer: 0.0, Brake: 0.0},
	"DOWN":  {Throttle: -1.0, Steer: 0.0, Brake: 0.0},
	"LEFT":  {Throttle: 0.0, Steer: -1.0, Brake: 0.0},
	"RIGHT": {Throttle: 0.0, Steer: 1.0, Brake: 0.0},
}

// Converter holds the Bridge's velocity limits and brake threshold.
type Converter struct {
	MaxLinearSpeed  float64
	MaxAngularSpeed float64
	BrakeThreshold  float64
}

// ToVelocity maps a command name (optional) or raw throttle/steer/brake
// into (linear, angular) SI velocities. A non-empty, recognised command
// name overrides the raw triple; an unrecognised one is ignored and the
// raw triple is used as-is. estopActive or brake at/above the threshold
// forces a hard zero.
func (c Converter) ToVelocity(command string, throttle, steer, brake float64, estopActive bool) (linear, angular float64) {
	if command != "" {
		if preset, ok := CommandPresets[strings.ToUpper(command)]; ok {
			throttle, steer, brake = preset.Throttle, preset.Steer, preset.Brake
		}
	}

	if estopActive || brake >= c.BrakeThreshold {
		return 0.0, 0.0
	}

	throttle = mathx.Clamp(throttle, -1.0, 1.0)
	steer = mathx.Clamp(steer, -1.0, 1.0)

	return throttle * c.MaxLinearSpeed, steer * c.MaxAngularSpeed
}
