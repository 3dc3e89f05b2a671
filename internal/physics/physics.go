package physics

import (
	"fmt"

	"trafficsim/internal/road"
	"trafficsim/internal/sim"
)

// Step advances bodies[i] by dt against a read-only view of every body and
// returns the new record. It is the only kinematics kernel: the sequential
// loop, the worker device and the OpenCL source all compute exactly this.
func Step(net road.Network, bodies []road.Body, i int, dt float32) road.Body {
	p := net.Params()
	b := bodies[i]
	v := b.Speed()

	gap, lead, found := Leader(net, bodies, i)
	target := TargetSpeed(p, b, v, gap, lead, found)

	a := (target - v) / dt
	if a > 0 {
		a = min(a, b.MaxAcceleration)
	} else {
		a = max(a, -b.MaxDeceleration)
	}
	speed := max(0, v+a*dt)

	progress := b.Progress
	if b.TargetLane != 0 {
		progress = min(1, progress+dt/p.LaneChangeTime)
	}

	out := net.Advance(b, speed, progress, dt)
	out.AccX = (out.VelX - b.VelX) / dt
	out.AccY = (out.VelY - b.VelY) / dt
	if out.TargetLane != 0 && out.Progress >= 1 {
		out.Lane = out.TargetLane
		out.TargetLane = 0
		out.Progress = 0
	}
	return out
}

// Leader finds the nearest body ahead of bodies[i] in its lane, or in its
// target lane while it changes lanes. It returns the gap and the leader's
// speed.
func Leader(net road.Network, bodies []road.Body, i int) (gap, speed float32, found bool) {
	b := bodies[i]
	for j := range bodies {
		if j == i {
			continue
		}
		d, ok := net.Gap(b, bodies[j])
		if !ok {
			continue
		}
		if !found || d < gap {
			gap, speed, found = d, bodies[j].Speed(), true
		}
	}
	return gap, speed, found
}

// TargetSpeed applies the car-following rules. v is the current speed of b;
// gap and lead describe the leader when found is true.
//
// Inside the warning band the speed that would otherwise apply is scaled
// linearly from 0 at the emergency distance up to full at the warning
// distance, so a close leader caps the follower twice.
func TargetSpeed(p *road.RouteParams, b road.Body, v, gap, lead float32, found bool) float32 {
	desired := min(max(b.TargetSpeed, p.MinSpeed), p.SpeedLimit)
	if !found {
		return desired
	}
	follow := p.FollowingDistance*v*b.FollowingFactor + p.SafetyMargin
	switch {
	case gap < p.EmergencyBrakeDistance:
		return 0
	case gap < p.WarningDistance:
		base := desired
		if gap < follow {
			base = min(desired, lead)
		}
		band := p.WarningDistance - p.EmergencyBrakeDistance
		return base * (gap - p.EmergencyBrakeDistance) / band
	case gap < follow:
		return min(lead, desired)
	}
	return desired
}

// Engine runs Step over a whole state in two phases: pack every car into a
// read-only snapshot, compute all results into a separate slice, then apply.
type Engine struct {
	net road.Network
	in  []road.Body
	out []road.Body
}

// New returns an engine stepping cars over net.
func New(net road.Network) *Engine {
	return &Engine{net: net}
}

// Network is the road geometry the engine steps over.
func (e *Engine) Network() road.Network { return e.net }

// Pack snapshots the cars of s in spawn order. The returned slice is reused
// by the next call.
func (e *Engine) Pack(s *sim.State) []road.Body {
	cars := s.Cars()
	e.in = e.in[:0]
	for _, c := range cars {
		e.in = append(e.in, road.Pack(c))
	}
	return e.in
}

// Compute runs the kernel for every body in order.
func (e *Engine) Compute(in, out []road.Body, dt float32) {
	for i := range in {
		out[i] = Step(e.net, in, i, dt)
	}
}

// Output returns a result slice of length n, reused between ticks.
func (e *Engine) Output(n int) []road.Body {
	if cap(e.out) < n {
		e.out = make([]road.Body, n)
	}
	e.out = e.out[:n]
	return e.out
}

// Apply writes results back by index, records speed history and advances
// the clock by one tick.
func (e *Engine) Apply(s *sim.State, out []road.Body) error {
	cars := s.Cars()
	if len(out) != len(cars) {
		return fmt.Errorf("apply: %d results for %d cars", len(out), len(cars))
	}
	for i, c := range cars {
		road.Unpack(out[i], c)
		c.RecordSpeed()
	}
	s.Advance()
	return nil
}

// Update is one sequential physics tick.
func (e *Engine) Update(s *sim.State) error {
	in := e.Pack(s)
	out := e.Output(len(in))
	e.Compute(in, out, float32(s.DT))
	return e.Apply(s, out)
}
