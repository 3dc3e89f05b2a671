package sim

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// CarID identifies a car for the lifetime of a run. IDs are never reused.
type CarID uint64

// SpeedHistoryLen is the number of recent speed samples kept per car.
const SpeedHistoryLen = 3

// BehaviorState is the per-car copy of a behaviour profile plus the intent
// fields the behaviour engine writes every tick.
type BehaviorState struct {
	FollowingDistanceFactor float64
	LaneChangeFrequency     float64 // changes per minute
	SpeedVariance           float64
	ReactionTime            float64
	ExitProbability         float64
	LastLaneChangeTime      float64
	TargetSpeed             float64
}

// Car is one vehicle agent.
type Car struct {
	ID           CarID
	Position     r2.Vec
	Velocity     r2.Vec
	Acceleration r2.Vec
	Heading      float64

	Length          float64
	Width           float64
	MaxAcceleration float64
	MaxDeceleration float64
	PreferredSpeed  float64

	CurrentLane int
	// TargetLane is 0 when no lane change is in progress.
	TargetLane         int
	LaneChangeProgress float64

	// Ramp is the 1-based loop ramp index while the car is on a cloverleaf
	// loop ramp, 0 otherwise. RampTravel is the angle swept on the ramp.
	Ramp       int
	RampTravel float64

	Behavior     BehaviorState
	BehaviorType string
	CarType      string

	SpeedHistory [SpeedHistoryLen]float64

	MarkedForExit bool
	ExitIntent    bool
	// ExitWindow is the exit whose approach window the car is currently in;
	// the exit intent draw happens once per window.
	ExitWindow string
	SpawnTime  float64
	ExitTime   *float64
}

// Speed is the magnitude of the velocity.
func (c *Car) Speed() float64 {
	return r2.Norm(c.Velocity)
}

// RecordSpeed shifts the current speed into the history.
func (c *Car) RecordSpeed() {
	copy(c.SpeedHistory[:], c.SpeedHistory[1:])
	c.SpeedHistory[SpeedHistoryLen-1] = c.Speed()
}

// AverageSpeed is the mean of the recorded speed history.
func (c *Car) AverageSpeed() float64 {
	sum := 0.0
	for _, s := range c.SpeedHistory {
		sum += s
	}
	return sum / SpeedHistoryLen
}

// Changing reports whether a lane change is in progress.
func (c *Car) Changing() bool {
	return c.TargetLane != 0
}

// SetSpeed rescales the velocity to speed, keeping its direction. A car at
// rest keeps its heading direction.
func (c *Car) SetSpeed(speed float64) {
	n := r2.Norm(c.Velocity)
	if n == 0 {
		c.Velocity = r2.Vec{X: math.Cos(c.Heading) * speed, Y: math.Sin(c.Heading) * speed}
		return
	}
	c.Velocity = r2.Scale(speed/n, c.Velocity)
}
