// Package vehicle implements the planar rigid-body integrator the
// Manager's physics loop drives at a fixed rate.
package vehicle

import (
	"math"
	"sync"
	"time"

	"teleop-go/internal/control"
	"teleop-go/internal/mathx"
)

// Physics constants, SI units.
const (
	MaxSpeed      = 20.0 // m/s
	MaxAccel      = 9.0  // m/s^2
	BrakeDecel    = 14.0
	CoastDecel    = 2.0
	IdleDecel     = 1.5
	YawRateMax    = 2.5 // rad/s
	YawSlew       = 6.0 // rad/s^2
	AngularDamp   = 4.0
	PhysicsRateHz = 60

	// CtrlHoldSec is how long raw control values are used verbatim before
	// age-based decay kicks in.
	CtrlHoldSec = 0.2
	// CtrlDampSec is the decay window following CtrlHoldSec.
	CtrlDampSec = 1.0

	snapZero = 1e-3
)

// State is the Manager's single vehicle state instance. All mutation goes
// through Step or Estop/ClearEstop, under mu.
type State struct {
	mu sync.Mutex

	x, y, z, yaw float64
	vx, wz       float64

	lastDt      time.Duration
	lastCtrlAge time.Duration
	estopActive bool
}

// New returns a vehicle at rest at the origin.
func New() *State {
	return &State{lastDt: time.Second / PhysicsRateHz, lastCtrlAge: math.MaxInt64}
}

// Snapshot is a consistent, lock-free-to-read copy of the vehicle state.
type Snapshot struct {
	X, Y, Z, Yaw float64
	Vx, Wz       float64
	LastDt       time.Duration
	LastCtrlAge  time.Duration
	EstopActive  bool
}

// Snapshot copies out the current state under the vehicle lock.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		X: s.x, Y: s.y, Z: s.z, Yaw: s.yaw,
		Vx: s.vx, Wz: s.wz,
		LastDt:      s.lastDt,
		LastCtrlAge: s.lastCtrlAge,
		EstopActive: s.estopActive,
	}
}

// Step advances the vehicle by dt seconds given an optional control
// snapshot and the current monotonic time. dt is clamped to 1/PhysicsRateHz
// if non-positive.
func (s *State) Step(ctrl *control.Snapshot, dt time.Duration, now time.Time) {
	if dt <= 0 {
		dt = time.Second / PhysicsRateHz
	}
	dtSec := dt.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastDt = dt

	var throttle, steer, brake float64
	age := time.Duration(math.MaxInt64)
	if ctrl != nil {
		age = ctrl.Age(now)
		ageSec := age.Seconds()
		if ageSec <= CtrlHoldSec {
			throttle, steer, brake = ctrl.Throttle, ctrl.Steer, ctrl.Brake
		} else {
			decay := mathx.Clamp((ageSec-CtrlHoldSec)/CtrlDampSec, 0.0, 1.0)
			throttle = ctrl.Throttle * (1.0 - decay)
			steer = ctrl.Steer * (1.0 - decay)
			brake = math.Max(ctrl.Brake, decay)
		}
	}
	s.lastCtrlAge = age

	if s.estopActive {
		throttle = 0
		brake = 1
	}

	accel := throttle * MaxAccel
	if math.Abs(throttle) < snapZero {
		if math.Abs(s.vx) > snapZero {
			accel -= math.Copysign(CoastDecel, s.vx)
		} else {
			accel = 0
		}
	}
	if brake > 0 && math.Abs(s.vx) > snapZero {
		accel -= math.Copysign(BrakeDecel*brake, s.vx)
	}
	if ctrl == nil && !s.estopActive {
		if math.Abs(s.vx) > snapZero {
			accel -= math.Copysign(IdleDecel, s.vx)
		} else {
			s.vx = 0
		}
	}

	s.vx += accel * dtSec
	if math.Abs(s.vx) < snapZero {
		s.vx = 0
	}
	s.vx = mathx.Clamp(s.vx, -MaxSpeed, MaxSpeed)

	targetWz := steer * YawRateMax
	slew := YawSlew * dtSec
	if ctrl != nil {
		delta := mathx.Clamp(targetWz-s.wz, -slew, slew)
		s.wz += delta
	} else {
		damping := mathx.Clamp(AngularDamp*dtSec, 0.0, 1.0)
		s.wz *= 1.0 - damping
	}
	if math.Abs(s.wz) < snapZero {
		s.wz = 0
	}

	yawNow := wrapAngle(s.yaw + s.wz*dtSec)
	headingX := math.Sin(yawNow)
	headingZ := math.Cos(yawNow)
	s.x += s.vx * headingX * dtSec
	s.z += s.vx * headingZ * dtSec
	s.yaw = yawNow
}

// Estop latches the emergency stop and zeros velocity immediately.
func (s *State) Estop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estopActive = true
	s.vx = 0
	s.wz = 0
}

// ClearEstop clears the latch without restarting motion.
func (s *State) ClearEstop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estopActive = false
}

// EstopActive reports the current latch state.
func (s *State) EstopActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estopActive
}

// wrapAngle normalises rad into (-pi, pi].
func wrapAngle(rad float64) float64 {
	for rad > math.Pi {
		rad -= 2 * math.Pi
	}
	for rad <= -math.Pi {
		rad += 2 * math.Pi
	}
	return rad
}

// WrapAngle exposes wrapAngle for the payload builder and tests.
func WrapAngle(rad float64) float64 { return wrapAngle(rad) }
