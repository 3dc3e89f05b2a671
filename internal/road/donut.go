package road

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"trafficsim/internal/config"
)

// Donut is a circular multi-lane loop. Cars travel counter-clockwise and
// are located by their angle around the centre.
type Donut struct {
	p RouteParams
}

func (d *Donut) Kind() string         { return config.GeometryDonut }
func (d *Donut) Params() *RouteParams { return &d.p }
func (d *Donut) LaneCount() int       { return int(d.p.LaneCount) }

// LaneRadius is the radius of the centre line of lane.
func (d *Donut) LaneRadius(lane int32) float32 {
	return d.p.InnerRadius + d.p.LaneWidth/2 + float32(lane-1)*d.p.LaneWidth
}

func (d *Donut) angle(b Body) float32 {
	return atan232(b.PosY-d.p.CenterY, b.PosX-d.p.CenterX)
}

func (d *Donut) radius(b Body) float32 {
	return hypot32(b.PosX-d.p.CenterX, b.PosY-d.p.CenterY)
}

func (d *Donut) AdjacentLanes(b Body) []int32 {
	var lanes []int32
	if b.Lane > 1 {
		lanes = append(lanes, b.Lane-1)
	}
	if b.Lane < d.p.LaneCount {
		lanes = append(lanes, b.Lane+1)
	}
	return lanes
}

func (d *Donut) EntryPose(e config.EntryPoint) (Pose, error) {
	theta := e.Angle * math.Pi / 180
	r := float64(d.LaneRadius(int32(e.Lane)))
	tangent := theta + math.Pi/2
	dir := r2.Vec{X: math.Cos(tangent), Y: math.Sin(tangent)}
	return Pose{
		Position: r2.Vec{
			X: float64(d.p.CenterX) + r*math.Cos(theta),
			Y: float64(d.p.CenterY) + r*math.Sin(theta),
		},
		Direction: dir,
		Heading:   math.Atan2(dir.Y, dir.X),
	}, nil
}

func (d *Donut) Gap(from, to Body) (float32, bool) {
	if !sameCorridor(from, to) {
		return 0, false
	}
	diff := wrap(d.angle(to)-d.angle(from), twoPi32)
	if diff <= 0 || diff >= pi32 {
		return 0, false
	}
	return diff * d.radius(from), true
}

func (d *Donut) Separation(a, b Body) (float32, bool) {
	return d.arc(a, d.angle(b), d.radius(a)), true
}

func (d *Donut) ExitDistance(b Body, x config.ExitPoint) (float32, bool) {
	theta := float32(x.Angle * math.Pi / 180)
	return d.arc(b, theta, d.LaneRadius(b.Lane)), true
}

// arc is the shorter arc at radius r between b and the angle theta.
func (d *Donut) arc(b Body, theta, r float32) float32 {
	diff := abs32(wrap(theta-d.angle(b), twoPi32))
	if diff > pi32 {
		diff = twoPi32 - diff
	}
	return diff * r
}

// Advance integrates the angular position at the effective radius, which is
// interpolated between the current and target lane while changing lanes.
func (d *Donut) Advance(b Body, speed, progress, dt float32) Body {
	r := d.LaneRadius(b.Lane)
	if b.TargetLane != 0 {
		r = lerp(r, d.LaneRadius(b.TargetLane), progress)
	}
	theta := d.angle(b) + speed*dt/r
	tangent := theta + pi32/2
	tx, ty := cos32(tangent), sin32(tangent)

	b.PosX = d.p.CenterX + r*cos32(theta)
	b.PosY = d.p.CenterY + r*sin32(theta)
	b.VelX = tx * speed
	b.VelY = ty * speed
	b.Heading = heading(b.VelX, b.VelY, tangent)
	b.Progress = progress
	return b
}
