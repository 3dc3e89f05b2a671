package config

import "fmt"

// SpawnPolicy tunes spawning and eviction. All fields are optional; the Get*
// methods return the default for anything not set, and are safe to call on
// a nil policy.
type SpawnPolicy struct {
	// Strict clearance required for an ordinary spawn.
	MinClearance *float64 `json:"min_clearance,omitempty"`
	// Clearance required for a manual spawn.
	PermissiveClearance *float64 `json:"permissive_clearance,omitempty"`

	// Adaptive spawn speed for ordinary spawns: mean speed of cars within
	// SpeedCheckRadius, clamped to [SpeedMin, SpeedMax].
	DefaultSpeed     *float64 `json:"default_speed,omitempty"`
	SpeedCheckRadius *float64 `json:"speed_check_radius,omitempty"`
	SpeedMin         *float64 `json:"speed_min,omitempty"`
	SpeedMax         *float64 `json:"speed_max,omitempty"`

	// Manual spawns use the minimum nearby speed instead.
	ManualCheckRadius *float64 `json:"manual_check_radius,omitempty"`
	ManualSpeedMin    *float64 `json:"manual_speed_min,omitempty"`
	ManualSpeedMax    *float64 `json:"manual_speed_max,omitempty"`

	GapForcing *GapForcing `json:"gap_forcing,omitempty"`

	// Cars older than MaxResidency seconds are evicted with
	// EvictionProbability per tick.
	MaxResidency        *float64 `json:"max_residency,omitempty"`
	EvictionProbability *float64 `json:"eviction_probability,omitempty"`
}

// GapForcing slows approaching traffic near a blocked entry so a deferred
// spawn can go ahead.
type GapForcing struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Cars within Radius of the entry are slowed.
	Radius *float64 `json:"radius,omitempty"`
	// Spawning is refused while any car is within Floor of the entry.
	Floor *float64 `json:"floor,omitempty"`
	// Slowed target speeds never drop below MinSpeed, nor below the route's
	// min_speed, which the physics applies to every target. An explicit
	// value under the route minimum is rejected by CheckRoute.
	MinSpeed *float64 `json:"min_speed,omitempty"`
	// Cars within BrakeZone*Radius also lose BrakeFraction of their maximum
	// deceleration for one tick.
	BrakeZone     *float64 `json:"brake_zone,omitempty"`
	BrakeFraction *float64 `json:"brake_fraction,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func (p *SpawnPolicy) GetMinClearance() float64 {
	if p == nil {
		return 5.0
	}
	return getFloat(p.MinClearance, 5.0)
}

func (p *SpawnPolicy) GetPermissiveClearance() float64 {
	if p == nil {
		return 2.0
	}
	return getFloat(p.PermissiveClearance, 2.0)
}

// GetDefaultSpeed is used when no car is near the entry (35 mph).
func (p *SpawnPolicy) GetDefaultSpeed() float64 {
	if p == nil {
		return 15.6
	}
	return getFloat(p.DefaultSpeed, 15.6)
}

func (p *SpawnPolicy) GetSpeedCheckRadius() float64 {
	if p == nil {
		return 30.0
	}
	return getFloat(p.SpeedCheckRadius, 30.0)
}

func (p *SpawnPolicy) GetSpeedMin() float64 {
	if p == nil {
		return 10.0
	}
	return getFloat(p.SpeedMin, 10.0)
}

func (p *SpawnPolicy) GetSpeedMax() float64 {
	if p == nil {
		return 35.0
	}
	return getFloat(p.SpeedMax, 35.0)
}

func (p *SpawnPolicy) GetManualCheckRadius() float64 {
	if p == nil {
		return 25.0
	}
	return getFloat(p.ManualCheckRadius, 25.0)
}

func (p *SpawnPolicy) GetManualSpeedMin() float64 {
	if p == nil {
		return 5.0
	}
	return getFloat(p.ManualSpeedMin, 5.0)
}

func (p *SpawnPolicy) GetManualSpeedMax() float64 {
	if p == nil {
		return 30.0
	}
	return getFloat(p.ManualSpeedMax, 30.0)
}

func (p *SpawnPolicy) GetMaxResidency() float64 {
	if p == nil {
		return 600.0
	}
	return getFloat(p.MaxResidency, 600.0)
}

func (p *SpawnPolicy) GetEvictionProbability() float64 {
	if p == nil {
		return 0.001
	}
	return getFloat(p.EvictionProbability, 0.001)
}

// GetGapForcing returns the gap forcing block, or an empty one whose getters
// yield the defaults.
func (p *SpawnPolicy) GetGapForcing() *GapForcing {
	if p == nil || p.GapForcing == nil {
		return &GapForcing{}
	}
	return p.GapForcing
}

func (g *GapForcing) GetEnabled() bool {
	if g.Enabled == nil {
		return true
	}
	return *g.Enabled
}

func (g *GapForcing) GetRadius() float64        { return getFloat(g.Radius, 15.0) }
func (g *GapForcing) GetFloor() float64         { return getFloat(g.Floor, 3.0) }
func (g *GapForcing) GetMinSpeed() float64      { return getFloat(g.MinSpeed, 2.0) }
func (g *GapForcing) GetBrakeZone() float64     { return getFloat(g.BrakeZone, 0.6) }
func (g *GapForcing) GetBrakeFraction() float64 { return getFloat(g.BrakeFraction, 0.7) }

// Validate checks the resolved policy values. A nil policy is valid.
func (p *SpawnPolicy) Validate() error {
	if p.GetMinClearance() <= 0 || p.GetPermissiveClearance() <= 0 {
		return fmt.Errorf("spawn clearances must be positive")
	}
	if p.GetPermissiveClearance() > p.GetMinClearance() {
		return fmt.Errorf("permissive_clearance %.2f must not exceed min_clearance %.2f", p.GetPermissiveClearance(), p.GetMinClearance())
	}
	if p.GetSpeedMin() < 0 || p.GetSpeedMax() < p.GetSpeedMin() {
		return fmt.Errorf("spawn speed range [%.2f, %.2f] is invalid", p.GetSpeedMin(), p.GetSpeedMax())
	}
	if p.GetManualSpeedMin() < 0 || p.GetManualSpeedMax() < p.GetManualSpeedMin() {
		return fmt.Errorf("manual spawn speed range [%.2f, %.2f] is invalid", p.GetManualSpeedMin(), p.GetManualSpeedMax())
	}
	if p.GetDefaultSpeed() <= 0 || p.GetSpeedCheckRadius() <= 0 || p.GetManualCheckRadius() <= 0 {
		return fmt.Errorf("default_speed and speed check radii must be positive")
	}
	if p.GetMaxResidency() <= 0 {
		return fmt.Errorf("max_residency must be positive, got %.2f", p.GetMaxResidency())
	}
	if pr := p.GetEvictionProbability(); pr < 0 || pr > 1 {
		return fmt.Errorf("eviction_probability must be in range [0, 1], got %f", pr)
	}

	g := p.GetGapForcing()
	if g.GetRadius() <= 0 || g.GetFloor() < 0 || g.GetFloor() >= g.GetRadius() {
		return fmt.Errorf("gap_forcing needs 0 <= floor < radius, got %.2f/%.2f", g.GetFloor(), g.GetRadius())
	}
	if g.GetMinSpeed() < 0 {
		return fmt.Errorf("gap_forcing min_speed must be non-negative")
	}
	if z := g.GetBrakeZone(); z < 0 || z > 1 {
		return fmt.Errorf("gap_forcing brake_zone must be in range [0, 1], got %.2f", z)
	}
	if f := g.GetBrakeFraction(); f < 0 || f > 1 {
		return fmt.Errorf("gap_forcing brake_fraction must be in range [0, 1], got %.2f", f)
	}
	return nil
}

// CheckRoute validates the policy against the route it will run on.
func (p *SpawnPolicy) CheckRoute(rules TrafficRules) error {
	g := p.GetGapForcing()
	if g.MinSpeed != nil && *g.MinSpeed < rules.MinSpeed {
		return fmt.Errorf("gap_forcing min_speed %.2f is below the route min_speed %.2f", *g.MinSpeed, rules.MinSpeed)
	}
	return nil
}
