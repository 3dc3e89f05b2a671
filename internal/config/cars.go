package config

import (
	"errors"
	"fmt"
	"sort"
)

// CarsConfig is the vehicle, behaviour and spawn catalog.
type CarsConfig struct {
	Simulation         SimulationParams          `json:"simulation"`
	CarTypes           []CarType                 `json:"car_types"`
	Behavior           map[string]DriverBehavior `json:"behavior"`
	CollisionAvoidance CollisionAvoidance        `json:"collision_avoidance"`
	TrafficFlow        TrafficFlow               `json:"traffic_flow"`
	Spawn              *SpawnPolicy              `json:"spawn,omitempty"`
	Random             RandomConfig              `json:"random"`
}

type SimulationParams struct {
	TotalCars          int     `json:"total_cars"`
	SpawnRate          float64 `json:"spawn_rate"`
	SimulationDuration float64 `json:"simulation_duration"`
}

type CarType struct {
	ID              string  `json:"id"`
	Weight          int     `json:"weight"`
	Length          float64 `json:"length"`
	Width           float64 `json:"width"`
	MaxAcceleration float64 `json:"max_acceleration"`
	MaxDeceleration float64 `json:"max_deceleration"`
	PreferredSpeed  float64 `json:"preferred_speed"`
}

// DriverBehavior is one behaviour profile. LaneChangeFrequency is in changes
// per minute.
type DriverBehavior struct {
	Name                    string  `json:"name"`
	Weight                  int     `json:"weight"`
	FollowingDistanceFactor float64 `json:"following_distance_factor"`
	LaneChangeFrequency     float64 `json:"lane_change_frequency"`
	SpeedVariance           float64 `json:"speed_variance"`
	ReactionTime            float64 `json:"reaction_time"`
	ExitProbability         float64 `json:"exit_probability"`
}

type CollisionAvoidance struct {
	SafetyMargin           float64 `json:"safety_margin"`
	EmergencyBrakeDistance float64 `json:"emergency_brake_distance"`
	WarningDistance        float64 `json:"warning_distance"`
	LateralSafetyMargin    float64 `json:"lateral_safety_margin"`
}

type TrafficFlow struct {
	EntryIntervals []EntryInterval `json:"entry_intervals"`
}

// EntryInterval bounds the uniformly drawn time between spawns at one entry.
type EntryInterval struct {
	EntryID     string  `json:"entry_id"`
	MinInterval float64 `json:"min_interval"`
	MaxInterval float64 `json:"max_interval"`
}

// RandomConfig seeds the simulation PRNG. A nil seed means a fresh seed per run.
type RandomConfig struct {
	Seed *uint64 `json:"seed,omitempty"`
}

// BehaviorNames returns the profile names in sorted order. Every consumer
// that draws against profile weights iterates in this order so seeded runs
// stay reproducible.
func (c *CarsConfig) BehaviorNames() []string {
	names := make([]string, 0, len(c.Behavior))
	for name := range c.Behavior {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Interval returns the spawn interval configured for entryID, if any.
func (c *CarsConfig) Interval(entryID string) (EntryInterval, bool) {
	for _, ei := range c.TrafficFlow.EntryIntervals {
		if ei.EntryID == entryID {
			return ei, true
		}
	}
	return EntryInterval{}, false
}

// Validate checks catalog consistency.
func (c *CarsConfig) Validate() error {
	s := c.Simulation
	if s.TotalCars <= 0 {
		return errors.New("total_cars must be greater than zero")
	}
	if s.SpawnRate <= 0 {
		return errors.New("spawn_rate must be positive")
	}
	if s.SimulationDuration <= 0 {
		return errors.New("simulation_duration must be positive")
	}

	if len(c.CarTypes) == 0 {
		return errors.New("at least one car type must be defined")
	}
	total := 0
	for _, ct := range c.CarTypes {
		if ct.Weight < 0 {
			return fmt.Errorf("car type %s: weight must be non-negative", ct.ID)
		}
		total += ct.Weight
		if ct.Length <= 0 || ct.Width <= 0 {
			return fmt.Errorf("car type %s: dimensions must be positive", ct.ID)
		}
		if ct.MaxAcceleration <= 0 || ct.MaxDeceleration <= 0 {
			return fmt.Errorf("car type %s: acceleration values must be positive", ct.ID)
		}
		if ct.PreferredSpeed <= 0 {
			return fmt.Errorf("car type %s: preferred_speed must be positive", ct.ID)
		}
	}
	if total != 100 {
		return fmt.Errorf("car type weights must sum to 100, got %d", total)
	}

	if len(c.Behavior) == 0 {
		return errors.New("at least one behavior must be defined")
	}
	total = 0
	for _, name := range c.BehaviorNames() {
		b := c.Behavior[name]
		if b.Weight < 0 {
			return fmt.Errorf("behavior %q: weight must be non-negative", name)
		}
		total += b.Weight
		if b.FollowingDistanceFactor <= 0 {
			return fmt.Errorf("behavior %q: following_distance_factor must be positive", name)
		}
		if b.LaneChangeFrequency < 0 {
			return fmt.Errorf("behavior %q: lane_change_frequency must be non-negative", name)
		}
		if b.SpeedVariance <= 0 {
			return fmt.Errorf("behavior %q: speed_variance must be positive", name)
		}
		if b.ReactionTime <= 0 {
			return fmt.Errorf("behavior %q: reaction_time must be positive", name)
		}
		if b.ExitProbability < 0 || b.ExitProbability > 1 {
			return fmt.Errorf("behavior %q: exit_probability must be in range [0, 1]", name)
		}
	}
	if total != 100 {
		return fmt.Errorf("behavior weights must sum to 100, got %d", total)
	}

	ca := c.CollisionAvoidance
	if ca.SafetyMargin < 0 {
		return errors.New("safety_margin must be non-negative")
	}
	if ca.EmergencyBrakeDistance <= 0 || ca.WarningDistance <= 0 {
		return errors.New("brake distances must be positive")
	}
	if ca.EmergencyBrakeDistance >= ca.WarningDistance {
		return fmt.Errorf("emergency_brake_distance %.2f must be less than warning_distance %.2f", ca.EmergencyBrakeDistance, ca.WarningDistance)
	}

	for _, ei := range c.TrafficFlow.EntryIntervals {
		if ei.MinInterval <= 0 || ei.MaxInterval < ei.MinInterval {
			return fmt.Errorf("entry interval %s: need 0 < min_interval <= max_interval, got %.2f/%.2f", ei.EntryID, ei.MinInterval, ei.MaxInterval)
		}
	}

	return c.Spawn.Validate()
}
