package road

import (
	"errors"
	"fmt"

	"trafficsim/internal/config"
)

var (
	// ErrUnknownGeometry is returned for geometry types without a Network.
	ErrUnknownGeometry = errors.New("unknown geometry type")
	// ErrLaneOutOfRange is returned for entries or exits on lanes the
	// geometry does not have.
	ErrLaneOutOfRange = errors.New("lane out of range")
)

// Geometry kinds as stored in RouteParams.Kind.
const (
	KindDonut      int32 = 1
	KindCloverleaf int32 = 2
)

// RouteParams is the shared read-only record handed to the physics kernel
// alongside the bodies. Its layout matches RouteParams in the OpenCL kernel
// source.
type RouteParams struct {
	Kind              int32
	LaneCount         int32
	LanesPerDirection int32

	CenterX     float32
	CenterY     float32
	InnerRadius float32
	LaneWidth   float32

	// Cloverleaf: carriageway offset from the centre line, half length of
	// each carriageway, loop ramp radius, and loop ramp centre offset.
	Separation float32
	Extent     float32
	LoopRadius float32
	RampOffset float32

	SpeedLimit        float32
	MinSpeed          float32
	FollowingDistance float32
	LaneChangeTime    float32

	SafetyMargin           float32
	EmergencyBrakeDistance float32
	WarningDistance        float32
}

// Network answers geometry questions for one road topology. All distances
// are measured along the lane: arc length on curves, linear offset on
// straights.
type Network interface {
	Kind() string
	Params() *RouteParams
	LaneCount() int

	// AdjacentLanes lists the lanes b may change into.
	AdjacentLanes(b Body) []int32
	// EntryPose is the spawn position and direction of travel for e.
	EntryPose(e config.EntryPoint) (Pose, error)

	// Gap is the along-lane distance from `from` forward to `to` when `to`
	// is ahead in the same lane, or in the target lane while `from` is
	// changing lanes.
	Gap(from, to Body) (float32, bool)
	// Separation is the unsigned along-lane distance between a and b when
	// they share a carriageway or ramp.
	Separation(a, b Body) (float32, bool)
	// ExitDistance is the unsigned along-lane distance from b to exit x.
	ExitDistance(b Body, x config.ExitPoint) (float32, bool)

	// Advance moves b at speed for dt with the given lane change progress,
	// returning the updated position, velocity, heading and ramp state.
	Advance(b Body, speed, progress, dt float32) Body
}

// NewParams builds the kernel parameter record from the route and the
// collision avoidance thresholds.
func NewParams(route *config.RouteConfig, ca config.CollisionAvoidance) RouteParams {
	g := route.Geometry
	r := route.TrafficRules
	p := RouteParams{
		LaneCount:              int32(g.LaneCount),
		CenterX:                float32(g.CenterX),
		CenterY:                float32(g.CenterY),
		InnerRadius:            float32(g.InnerRadius),
		LaneWidth:              float32(g.LaneWidth),
		SpeedLimit:             float32(r.SpeedLimit),
		MinSpeed:               float32(r.MinSpeed),
		FollowingDistance:      float32(r.FollowingDistance),
		LaneChangeTime:         float32(r.LaneChangeTime),
		SafetyMargin:           float32(ca.SafetyMargin),
		EmergencyBrakeDistance: float32(ca.EmergencyBrakeDistance),
		WarningDistance:        float32(ca.WarningDistance),
	}
	switch g.Type {
	case config.GeometryDonut:
		p.Kind = KindDonut
	case config.GeometryCloverleaf:
		p.Kind = KindCloverleaf
		p.LanesPerDirection = int32(g.LanesPerDirection())
		p.Separation = float32(g.GetHighwayWidth()/2 + 5)
		p.Extent = float32(g.GetHighwayLength() / 2)
		p.LoopRadius = float32(g.GetLoopRadius())
		p.RampOffset = p.Separation + float32(p.LanesPerDirection)*p.LaneWidth/2 + p.LoopRadius
	}
	return p
}

// New selects the Network implementation for the route. Unknown geometries
// and entries or exits on missing lanes are rejected here rather than
// defaulted at simulation time.
func New(route *config.RouteConfig, ca config.CollisionAvoidance) (Network, error) {
	p := NewParams(route, ca)
	var net Network
	switch p.Kind {
	case KindDonut:
		net = &Donut{p: p}
	case KindCloverleaf:
		if p.LanesPerDirection < 1 || int(p.LaneCount)%4 != 0 {
			return nil, fmt.Errorf("cloverleaf needs a positive multiple of 4 lanes, got %d: %w", p.LaneCount, ErrLaneOutOfRange)
		}
		if p.Extent <= p.RampOffset {
			return nil, fmt.Errorf("loop ramps at offset %.1f do not fit inside highway extent %.1f", p.RampOffset, p.Extent)
		}
		net = &Cloverleaf{p: p}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownGeometry, route.Geometry.Type)
	}

	for _, e := range route.Entries {
		if e.Lane < 1 || e.Lane > int(p.LaneCount) {
			return nil, fmt.Errorf("entry %s lane %d: %w", e.ID, e.Lane, ErrLaneOutOfRange)
		}
		if _, err := net.EntryPose(e); err != nil {
			return nil, err
		}
	}
	for _, x := range route.Exits {
		if x.Lane < 1 || x.Lane > int(p.LaneCount) {
			return nil, fmt.Errorf("exit %s lane %d: %w", x.ID, x.Lane, ErrLaneOutOfRange)
		}
	}
	return net, nil
}

// sameCorridor reports whether `to` is in the lane `from` drives in, or in
// the lane it is changing into.
func sameCorridor(from, to Body) bool {
	if to.Lane == from.Lane {
		return true
	}
	return from.TargetLane != 0 && to.Lane == from.TargetLane
}

// heading returns the direction of (vx, vy), or the fallback when the
// vector is too short to carry a direction.
func heading(vx, vy, fallback float32) float32 {
	if hypot32(vx, vy) > 0.1 {
		return atan232(vy, vx)
	}
	return fallback
}
