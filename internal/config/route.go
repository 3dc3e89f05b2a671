package config

import (
	"errors"
	"fmt"
)

// Supported geometry types.
const (
	GeometryDonut      = "donut"
	GeometryCloverleaf = "cloverleaf"
)

// Entry point types. Donut entries are on-ramps; cloverleaf entries either
// start on a carriageway ("through") or on one of the four loop ramps.
const (
	EntryOnRamp   = "on_ramp"
	EntryThrough  = "through"
	EntryLoopRamp = "loop_ramp"
)

// Loop ramp quadrant names accepted by EntryPoint.Ramp.
var RampNames = []string{"ne", "se", "sw", "nw"}

// RouteConfig describes the road network a simulation runs on.
type RouteConfig struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Geometry     Geometry     `json:"geometry"`
	Entries      []EntryPoint `json:"entries"`
	Exits        []ExitPoint  `json:"exits"`
	TrafficRules TrafficRules `json:"traffic_rules"`
	Surface      RoadSurface  `json:"surface"`
}

// Geometry holds the shape parameters. Donut routes use the radii; cloverleaf
// routes use the optional highway and loop dimensions.
type Geometry struct {
	Type        string  `json:"type"`
	CenterX     float64 `json:"center_x"`
	CenterY     float64 `json:"center_y"`
	InnerRadius float64 `json:"inner_radius"`
	OuterRadius float64 `json:"outer_radius"`
	LaneWidth   float64 `json:"lane_width"`
	LaneCount   int     `json:"lane_count"`

	// Cloverleaf
	HighwayWidth  *float64 `json:"highway_width,omitempty"`
	HighwayLength *float64 `json:"highway_length,omitempty"`
	LoopRadius    *float64 `json:"loop_radius,omitempty"`
}

// EntryPoint is a location where the traffic manager creates cars.
type EntryPoint struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	// Angle is the donut position in degrees, [0, 360).
	Angle float64 `json:"angle"`
	// Offset is the along-lane distance in metres from the start of a
	// cloverleaf carriageway, or from the start of a loop ramp.
	Offset float64 `json:"offset"`
	Lane   int     `json:"lane"`
	// Ramp optionally names the loop ramp quadrant for loop_ramp entries.
	Ramp string `json:"ramp,omitempty"`
}

// ExitPoint is a location where cars with exit intent leave the network.
type ExitPoint struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Angle        float64 `json:"angle"`
	Offset       float64 `json:"offset"`
	Lane         int     `json:"lane"`
	ExitDistance float64 `json:"exit_distance"`
}

// TrafficRules are the network-wide speed and spacing rules.
type TrafficRules struct {
	SpeedLimit        float64 `json:"speed_limit"`
	MinSpeed          float64 `json:"min_speed"`
	FollowingDistance float64 `json:"following_distance"`
	LaneChangeTime    float64 `json:"lane_change_time"`
}

// RoadSurface is carried for completeness; friction and banking do not
// influence the kinematics.
type RoadSurface struct {
	FrictionCoefficient float64 `json:"friction_coefficient"`
	BankingAngle        float64 `json:"banking_angle"`
}

// GetHighwayWidth returns highway_width or the default of 40 m.
func (g *Geometry) GetHighwayWidth() float64 {
	if g.HighwayWidth == nil {
		return 40.0
	}
	return *g.HighwayWidth
}

// GetHighwayLength returns highway_length or the default of 500 m.
func (g *Geometry) GetHighwayLength() float64 {
	if g.HighwayLength == nil {
		return 500.0
	}
	return *g.HighwayLength
}

// GetLoopRadius returns loop_radius or the default of 60 m.
func (g *Geometry) GetLoopRadius() float64 {
	if g.LoopRadius == nil {
		return 60.0
	}
	return *g.LoopRadius
}

// LanesPerDirection is the number of lanes in each of the four cloverleaf
// carriageways.
func (g *Geometry) LanesPerDirection() int {
	return g.LaneCount / 4
}

// Validate rejects routes the engine cannot run.
func (c *RouteConfig) Validate() error {
	g := &c.Geometry
	switch g.Type {
	case GeometryDonut:
		if g.InnerRadius <= 0 || g.InnerRadius >= g.OuterRadius {
			return fmt.Errorf("inner_radius must be positive and less than outer_radius, got %.2f/%.2f", g.InnerRadius, g.OuterRadius)
		}
	case GeometryCloverleaf:
		if g.LaneCount%4 != 0 {
			return fmt.Errorf("cloverleaf lane_count must be a multiple of 4, got %d", g.LaneCount)
		}
		if g.GetHighwayWidth() <= 0 || g.GetHighwayLength() <= 0 || g.GetLoopRadius() <= 0 {
			return errors.New("cloverleaf highway_width, highway_length and loop_radius must be positive")
		}
	default:
		return fmt.Errorf("unsupported geometry type %q (want %q or %q)", g.Type, GeometryDonut, GeometryCloverleaf)
	}
	if g.LaneWidth <= 0 || g.LaneCount <= 0 {
		return errors.New("lane_width and lane_count must be positive")
	}
	if g.Type == GeometryDonut && g.InnerRadius+float64(g.LaneCount)*g.LaneWidth > g.OuterRadius {
		return fmt.Errorf("%d lanes of %.2f m do not fit between radii %.2f and %.2f", g.LaneCount, g.LaneWidth, g.InnerRadius, g.OuterRadius)
	}

	if len(c.Entries) == 0 {
		return errors.New("at least one entry point must be defined")
	}
	seen := make(map[string]bool, len(c.Entries))
	for _, e := range c.Entries {
		if e.ID == "" {
			return errors.New("entry id must not be empty")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate entry id %q", e.ID)
		}
		seen[e.ID] = true
		if e.Lane < 1 || e.Lane > g.LaneCount {
			return fmt.Errorf("entry %s: lane %d is out of range (1-%d)", e.ID, e.Lane, g.LaneCount)
		}
		if e.Angle < 0 || e.Angle >= 360 {
			return fmt.Errorf("entry %s: angle %.1f must be in range [0, 360)", e.ID, e.Angle)
		}
		if e.Offset < 0 {
			return fmt.Errorf("entry %s: offset must be non-negative", e.ID)
		}
		if err := c.validateEntryType(e); err != nil {
			return err
		}
	}

	for _, x := range c.Exits {
		if x.Lane < 1 || x.Lane > g.LaneCount {
			return fmt.Errorf("exit %s: lane %d is out of range (1-%d)", x.ID, x.Lane, g.LaneCount)
		}
		if x.Angle < 0 || x.Angle >= 360 {
			return fmt.Errorf("exit %s: angle %.1f must be in range [0, 360)", x.ID, x.Angle)
		}
		if x.ExitDistance <= 0 {
			return fmt.Errorf("exit %s: exit_distance must be positive", x.ID)
		}
	}

	r := c.TrafficRules
	if r.SpeedLimit <= 0 || r.MinSpeed <= 0 {
		return errors.New("speed limits must be positive")
	}
	if r.MinSpeed >= r.SpeedLimit {
		return fmt.Errorf("min_speed %.2f must be less than speed_limit %.2f", r.MinSpeed, r.SpeedLimit)
	}
	if r.FollowingDistance <= 0 || r.LaneChangeTime <= 0 {
		return errors.New("following_distance and lane_change_time must be positive")
	}

	if f := c.Surface.FrictionCoefficient; f <= 0 || f > 1 {
		return fmt.Errorf("friction_coefficient must be in range (0, 1], got %.2f", f)
	}
	return nil
}

func (c *RouteConfig) validateEntryType(e EntryPoint) error {
	switch c.Geometry.Type {
	case GeometryDonut:
		if e.Type != "" && e.Type != EntryOnRamp {
			return fmt.Errorf("entry %s: type %q is not valid on a donut route", e.ID, e.Type)
		}
	case GeometryCloverleaf:
		switch e.Type {
		case "", EntryThrough:
		case EntryLoopRamp:
			if e.Ramp == "" {
				return nil
			}
			idx := RampIndex(e.Ramp)
			if idx == 0 {
				return fmt.Errorf("entry %s: unknown ramp %q", e.ID, e.Ramp)
			}
			group := (e.Lane - 1) / c.Geometry.LanesPerDirection()
			if RampGroup(idx) != group {
				return fmt.Errorf("entry %s: ramp %q does not feed lane %d", e.ID, e.Ramp, e.Lane)
			}
		default:
			return fmt.Errorf("entry %s: type %q is not valid on a cloverleaf route", e.ID, e.Type)
		}
	}
	return nil
}

// RampIndex maps a ramp name to its 1-based index, or 0 when unknown.
func RampIndex(name string) int {
	for i, n := range RampNames {
		if n == name {
			return i + 1
		}
	}
	return 0
}

// rampGroups is the carriageway group each loop ramp merges into:
// ne feeds westbound, se northbound, sw eastbound, nw southbound.
var rampGroups = [5]int{-1, 2, 1, 3, 0}

// RampGroup returns the carriageway group fed by ramp idx.
func RampGroup(idx int) int {
	if idx < 1 || idx > 4 {
		return -1
	}
	return rampGroups[idx]
}

// RampForGroup returns the ramp index feeding carriageway group g.
func RampForGroup(g int) int {
	for i := 1; i <= 4; i++ {
		if rampGroups[i] == g {
			return i
		}
	}
	return 0
}
