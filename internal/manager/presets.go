// Package manager holds the Manager's own closed preset table (§3 data
// model, SIMPLE_COMMAND_PRESETS). This table is intentionally different
// from the Bridge's convert.CommandPresets: the Manager interprets a
// preset as a ready-made (throttle, steer, brake, mode) command for its
// own physics integrator, while the Bridge's table holds its own
// (throttle, steer, brake) triples that convert.ToVelocity scales into
// (linear, angular) velocities for a downstream motion stack. Keeping two
// tables is the Open Question resolution recorded in DESIGN.md.
package manager

import "strings"

// Preset is a ready-made (throttle, steer, brake) command, with an
// optional mode override.
type Preset struct {
	Throttle float64
	Steer    float64
	Brake    float64
	Mode     string // empty means "use the caller's default mode"
}

// CommandPresets is the Manager's authoritative closed set of named
// commands (grounded on original_source/server/domain/control.py
// SIMPLE_COMMAND_PRESETS).
var CommandPresets = map[string]Preset{
	"IDLE":  {Throttle: 0.0, Steer: 0.0, Brake: 0.4},
	"UP":    {Throttle: 0.9, Steer: 0.0, Brake: 0.0},
	"DOWN":  {Throttle: -0.5, Steer: 0.0, Brake: 0.0},
	"LEFT":  {Throttle: 0.6, Steer: -0.7, Brake: 0.0},
	"RIGHT": {Throttle: 0.6, Steer: 0.7, Brake: 0.0},
}

// LookupPreset resolves a preset name case-insensitively. ok is false for
// any name outside the closed set.
func LookupPreset(name string) (Preset, bool) {
	p, ok := CommandPresets[strings.ToUpper(name)]
	return p, ok
}
