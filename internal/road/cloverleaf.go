package road

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"trafficsim/internal/config"
)

// Cloverleaf is a four-way interchange. Lanes are split into four
// carriageway groups of LanesPerDirection lanes each:
//
//	group 0: southbound, west of the centre line
//	group 1: northbound, east of the centre line
//	group 2: westbound, north of the centre line
//	group 3: eastbound, south of the centre line
//
// Each carriageway is 2*Extent long and wraps at its end. Four loop ramps,
// one per quadrant, sweep 270 degrees clockwise around a fixed centre and
// merge into the outer side of one carriageway.
type Cloverleaf struct {
	p RouteParams
}

// rampSweep is the angle a car travels on a loop ramp before merging.
const rampSweep = 3 * pi32 / 2

// carriageways holds the direction of travel per group. Lateral offsets run
// along the other axis.
var carriageways = [4]struct {
	dx, dy float32
}{
	{0, -1}, // southbound
	{0, 1},  // northbound
	{-1, 0}, // westbound
	{1, 0},  // eastbound
}

// ramps holds the quadrant signs and the end angle of each loop ramp,
// indexed by ramp number (1-based). The ramp feeds config.RampGroup(i).
var ramps = [5]struct {
	sx, sy, end float32
}{
	{},
	{1, 1, -pi32 / 2},  // ne -> westbound
	{1, -1, pi32},      // se -> northbound
	{-1, -1, pi32 / 2}, // sw -> eastbound
	{-1, 1, 0},         // nw -> southbound
}

func (c *Cloverleaf) Kind() string         { return config.GeometryCloverleaf }
func (c *Cloverleaf) Params() *RouteParams { return &c.p }
func (c *Cloverleaf) LaneCount() int       { return int(c.p.LaneCount) }

// length is the length of one carriageway.
func (c *Cloverleaf) length() float32 { return 2 * c.p.Extent }

func (c *Cloverleaf) group(lane int32) int32 {
	return (lane - 1) / c.p.LanesPerDirection
}

// lateral is the offset of lane from its carriageway's reference line.
func (c *Cloverleaf) lateral(lane int32) float32 {
	k := (lane - 1) % c.p.LanesPerDirection
	return (float32(k) - float32(c.p.LanesPerDirection-1)/2) * c.p.LaneWidth
}

// origin is the start of the reference line of group g.
func (c *Cloverleaf) origin(g int32) (float32, float32) {
	cx, cy, sep, e := c.p.CenterX, c.p.CenterY, c.p.Separation, c.p.Extent
	switch g {
	case 0:
		return cx - sep, cy + e
	case 1:
		return cx + sep, cy - e
	case 2:
		return cx + e, cy + sep
	default:
		return cx - e, cy - sep
	}
}

// point returns the position at along-lane coordinate s with lateral offset off.
func (c *Cloverleaf) point(g int32, off, s float32) (float32, float32) {
	ox, oy := c.origin(g)
	d := carriageways[g]
	// The lateral axis is the one the direction of travel does not use.
	return ox + d.dx*s + abs32(d.dy)*off, oy + d.dy*s + abs32(d.dx)*off
}

// along projects (x, y) onto the reference line of group g.
func (c *Cloverleaf) along(g int32, x, y float32) float32 {
	ox, oy := c.origin(g)
	d := carriageways[g]
	return (x-ox)*d.dx + (y-oy)*d.dy
}

func (c *Cloverleaf) rampCenter(r int32) (float32, float32) {
	q := ramps[r]
	return c.p.CenterX + q.sx*c.p.RampOffset, c.p.CenterY + q.sy*c.p.RampOffset
}

func (c *Cloverleaf) AdjacentLanes(b Body) []int32 {
	if b.Ramp != 0 {
		return nil
	}
	k := (b.Lane - 1) % c.p.LanesPerDirection
	var lanes []int32
	if k > 0 {
		lanes = append(lanes, b.Lane-1)
	}
	if k < c.p.LanesPerDirection-1 {
		lanes = append(lanes, b.Lane+1)
	}
	return lanes
}

func (c *Cloverleaf) EntryPose(e config.EntryPoint) (Pose, error) {
	lane := int32(e.Lane)
	g := c.group(lane)
	if e.Type != config.EntryLoopRamp {
		s := wrap(float32(e.Offset), c.length())
		x, y := c.point(g, c.lateral(lane), s)
		d := carriageways[g]
		return Pose{
			Position:  r2.Vec{X: float64(x), Y: float64(y)},
			Direction: r2.Vec{X: float64(d.dx), Y: float64(d.dy)},
			Heading:   math.Atan2(float64(d.dy), float64(d.dx)),
		}, nil
	}

	r := config.RampForGroup(int(g))
	if e.Ramp != "" {
		r = config.RampIndex(e.Ramp)
		if config.RampGroup(r) != int(g) {
			return Pose{}, fmt.Errorf("entry %s: ramp %q does not feed lane %d: %w", e.ID, e.Ramp, e.Lane, ErrLaneOutOfRange)
		}
	}
	travel := float32(e.Offset) / c.p.LoopRadius
	if travel >= rampSweep {
		return Pose{}, fmt.Errorf("entry %s: offset %.1f is beyond the end of ramp %q", e.ID, e.Offset, config.RampNames[r-1])
	}
	qx, qy := c.rampCenter(int32(r))
	phi := float64(ramps[r].end + rampSweep - travel)
	lr := float64(c.p.LoopRadius)
	dir := r2.Vec{X: math.Sin(phi), Y: -math.Cos(phi)}
	return Pose{
		Position:   r2.Vec{X: float64(qx) + lr*math.Cos(phi), Y: float64(qy) + lr*math.Sin(phi)},
		Direction:  dir,
		Heading:    math.Atan2(dir.Y, dir.X),
		Ramp:       r,
		RampTravel: float64(travel),
	}, nil
}

// Gap measures along the carriageway of from's lane. A car on a loop ramp
// already carries the lane it merges into and is placed on that carriageway
// behind the merge point by the arc it still has to travel, so ramp traffic
// and carriageway traffic follow each other through the merge.
func (c *Cloverleaf) Gap(from, to Body) (float32, bool) {
	if !sameCorridor(from, to) {
		return 0, false
	}
	l := c.length()
	d := wrap(c.projected(to)-c.projected(from), l)
	if d <= 0 || d >= l/2 {
		return 0, false
	}
	return d, true
}

// projected is the along-lane coordinate of b on its lane's carriageway.
func (c *Cloverleaf) projected(b Body) float32 {
	g := c.group(b.Lane)
	if b.Ramp == 0 {
		return c.along(g, b.PosX, b.PosY)
	}
	return c.mergeAlong(b.Ramp, g) - (rampSweep-b.RampTravel)*c.p.LoopRadius
}

// mergeAlong is the along-lane coordinate where ramp r joins group g.
func (c *Cloverleaf) mergeAlong(r, g int32) float32 {
	lr := c.p.LoopRadius
	end := ramps[r].end
	qx, qy := c.rampCenter(r)
	return c.along(g, qx+lr*cos32(end), qy+lr*sin32(end))
}

func (c *Cloverleaf) Separation(a, b Body) (float32, bool) {
	if a.Ramp != 0 || b.Ramp != 0 {
		if a.Ramp != b.Ramp {
			return 0, false
		}
		return abs32(a.RampTravel-b.RampTravel) * c.p.LoopRadius, true
	}
	g := c.group(a.Lane)
	if c.group(b.Lane) != g {
		return 0, false
	}
	return c.unsigned(c.along(g, b.PosX, b.PosY) - c.along(g, a.PosX, a.PosY)), true
}

func (c *Cloverleaf) ExitDistance(b Body, x config.ExitPoint) (float32, bool) {
	g := c.group(b.Lane)
	if b.Ramp != 0 || c.group(int32(x.Lane)) != g {
		return 0, false
	}
	return c.unsigned(float32(x.Offset) - c.along(g, b.PosX, b.PosY)), true
}

// unsigned is the shorter way round a wrapped carriageway.
func (c *Cloverleaf) unsigned(d float32) float32 {
	l := c.length()
	d = wrap(d, l)
	if d > l/2 {
		d = l - d
	}
	return d
}

func (c *Cloverleaf) Advance(b Body, speed, progress, dt float32) Body {
	if b.Ramp != 0 {
		return c.advanceRamp(b, speed, dt)
	}
	g := c.group(b.Lane)
	off := c.lateral(b.Lane)
	if b.TargetLane != 0 {
		off = lerp(off, c.lateral(b.TargetLane), progress)
	}
	s := wrap(c.along(g, b.PosX, b.PosY)+speed*dt, c.length())
	d := carriageways[g]

	b.PosX, b.PosY = c.point(g, off, s)
	b.VelX = d.dx * speed
	b.VelY = d.dy * speed
	b.Heading = atan232(d.dy, d.dx)
	b.Progress = progress
	return b
}

// advanceRamp sweeps clockwise around the ramp centre and merges onto the
// car's lane once the sweep is complete.
func (c *Cloverleaf) advanceRamp(b Body, speed, dt float32) Body {
	lr := c.p.LoopRadius
	travel := b.RampTravel + speed*dt/lr
	q := ramps[b.Ramp]
	qx, qy := c.rampCenter(b.Ramp)

	if travel >= rampSweep {
		g := c.group(b.Lane)
		s := wrap(c.mergeAlong(b.Ramp, g)+(travel-rampSweep)*lr, c.length())
		d := carriageways[g]
		b.PosX, b.PosY = c.point(g, c.lateral(b.Lane), s)
		b.VelX = d.dx * speed
		b.VelY = d.dy * speed
		b.Heading = atan232(d.dy, d.dx)
		b.Ramp = 0
		b.RampTravel = 0
		return b
	}

	phi := q.end + rampSweep - travel
	tx, ty := sin32(phi), -cos32(phi)
	b.PosX = qx + lr*cos32(phi)
	b.PosY = qy + lr*sin32(phi)
	b.VelX = tx * speed
	b.VelY = ty * speed
	b.Heading = heading(b.VelX, b.VelY, atan232(ty, tx))
	b.RampTravel = travel
	return b
}
