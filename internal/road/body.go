package road

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"trafficsim/internal/sim"
)

// Body is the packed per-car record the physics kernel reads and writes.
// Its layout matches the Body struct in the OpenCL kernel source: every
// field is 4 bytes wide and the order must not change.
type Body struct {
	PosX, PosY      float32
	VelX, VelY      float32
	AccX, AccY      float32
	Heading         float32
	TargetSpeed     float32
	FollowingFactor float32
	MaxAcceleration float32
	MaxDeceleration float32
	Length          float32
	Lane            int32
	TargetLane      int32
	Progress        float32
	Ramp            int32
	RampTravel      float32
}

// Speed is the velocity magnitude.
func (b Body) Speed() float32 {
	return hypot32(b.VelX, b.VelY)
}

// Pack copies the fields the kernel needs out of c.
func Pack(c *sim.Car) Body {
	return Body{
		PosX:            float32(c.Position.X),
		PosY:            float32(c.Position.Y),
		VelX:            float32(c.Velocity.X),
		VelY:            float32(c.Velocity.Y),
		AccX:            float32(c.Acceleration.X),
		AccY:            float32(c.Acceleration.Y),
		Heading:         float32(c.Heading),
		TargetSpeed:     float32(c.Behavior.TargetSpeed),
		FollowingFactor: float32(c.Behavior.FollowingDistanceFactor),
		MaxAcceleration: float32(c.MaxAcceleration),
		MaxDeceleration: float32(c.MaxDeceleration),
		Length:          float32(c.Length),
		Lane:            int32(c.CurrentLane),
		TargetLane:      int32(c.TargetLane),
		Progress:        float32(c.LaneChangeProgress),
		Ramp:            int32(c.Ramp),
		RampTravel:      float32(c.RampTravel),
	}
}

// Unpack writes the kinematic and lane fields of b back into c. Behaviour
// fields are owned by the host and are left alone.
func Unpack(b Body, c *sim.Car) {
	c.Position = r2.Vec{X: float64(b.PosX), Y: float64(b.PosY)}
	c.Velocity = r2.Vec{X: float64(b.VelX), Y: float64(b.VelY)}
	c.Acceleration = r2.Vec{X: float64(b.AccX), Y: float64(b.AccY)}
	c.Heading = float64(b.Heading)
	c.CurrentLane = int(b.Lane)
	c.TargetLane = int(b.TargetLane)
	c.LaneChangeProgress = float64(b.Progress)
	c.Ramp = int(b.Ramp)
	c.RampTravel = float64(b.RampTravel)
}

// Pose is where and how a car starts at an entry point.
type Pose struct {
	Position   r2.Vec
	Direction  r2.Vec // unit vector
	Heading    float64
	Ramp       int
	RampTravel float64
}

// Body returns a zero-speed record at the pose, used for clearance and
// distance queries against an entry.
func (p Pose) Body(lane int) Body {
	return Body{
		PosX:       float32(p.Position.X),
		PosY:       float32(p.Position.Y),
		Heading:    float32(p.Heading),
		Lane:       int32(lane),
		Ramp:       int32(p.Ramp),
		RampTravel: float32(p.RampTravel),
	}
}

const (
	pi32    = float32(math.Pi)
	twoPi32 = float32(2 * math.Pi)
)

func sin32(x float32) float32      { return float32(math.Sin(float64(x))) }
func cos32(x float32) float32      { return float32(math.Cos(float64(x))) }
func atan232(y, x float32) float32 { return float32(math.Atan2(float64(y), float64(x))) }
func hypot32(x, y float32) float32 { return float32(math.Sqrt(float64(x*x + y*y))) }

func abs32(x float32) float32 {
	if x < 0 {
		return -x
	}
	return x
}

// wrap maps x into [0, period).
func wrap(x, period float32) float32 {
	for x < 0 {
		x += period
	}
	for x >= period {
		x -= period
	}
	return x
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}
