package sim

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"
)

// State owns every car plus the clock and counters. Cars are kept in spawn
// order in a slice with an id index, so backends can address them both by
// stable id and by position.
type State struct {
	Time         float64
	DT           float64
	TotalSpawned uint64
	ActiveCars   int

	cars  []*Car
	index map[CarID]int
}

// NewState returns an empty state advancing by dt per tick.
func NewState(dt float64) *State {
	return &State{
		DT:    dt,
		index: make(map[CarID]int),
	}
}

// AddCar assigns the next id to c and stores it.
func (s *State) AddCar(c *Car) CarID {
	c.ID = CarID(s.TotalSpawned)
	s.TotalSpawned++
	s.index[c.ID] = len(s.cars)
	s.cars = append(s.cars, c)
	s.ActiveCars = len(s.cars)
	return c.ID
}

// RemoveCar deletes the car with id, preserving the order of the rest.
// It reports whether the car existed.
func (s *State) RemoveCar(id CarID) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	delete(s.index, id)
	copy(s.cars[i:], s.cars[i+1:])
	s.cars[len(s.cars)-1] = nil
	s.cars = s.cars[:len(s.cars)-1]
	for j := i; j < len(s.cars); j++ {
		s.index[s.cars[j].ID] = j
	}
	s.ActiveCars = len(s.cars)
	return true
}

// Car returns the car with id, or nil.
func (s *State) Car(id CarID) *Car {
	i, ok := s.index[id]
	if !ok {
		return nil
	}
	return s.cars[i]
}

// Cars returns the live cars in spawn order. The slice must not be modified.
func (s *State) Cars() []*Car {
	return s.cars
}

// Len is the number of live cars.
func (s *State) Len() int {
	return len(s.cars)
}

// Advance moves the clock forward by one tick.
func (s *State) Advance() {
	s.Time += s.DT
}

// MarkCarForExit flags the first unflagged car with the given behaviour
// profile and stamps its exit time. It reports whether a car was found.
func (s *State) MarkCarForExit(behavior string) bool {
	for _, c := range s.cars {
		if c.BehaviorType == behavior && !c.MarkedForExit {
			c.MarkedForExit = true
			t := s.Time
			c.ExitTime = &t
			return true
		}
	}
	return false
}

// BehaviorCounts counts live cars per behaviour profile.
func (s *State) BehaviorCounts() map[string]int {
	counts := make(map[string]int)
	for _, c := range s.cars {
		counts[c.BehaviorType]++
	}
	return counts
}

// Speeds returns the current speed of every car in spawn order.
func (s *State) Speeds() []float64 {
	speeds := make([]float64, len(s.cars))
	for i, c := range s.cars {
		speeds[i] = c.Speed()
	}
	return speeds
}

// MeanSpeed is the mean speed of all cars, 0 when empty.
func (s *State) MeanSpeed() float64 {
	if len(s.cars) == 0 {
		return 0
	}
	return stat.Mean(s.Speeds(), nil)
}

// VelocityDistribution buckets car speeds into n equal-width buckets from 0
// to the current maximum speed.
func (s *State) VelocityDistribution(n int) []int {
	dist := make([]int, n)
	if n == 0 || len(s.cars) == 0 {
		return dist
	}
	speeds := s.Speeds()
	maxSpeed := floats.Max(speeds)
	if maxSpeed == 0 {
		return dist
	}
	size := maxSpeed / float64(n)
	for _, v := range speeds {
		b := int(v / size)
		if b >= n {
			b = n - 1
		}
		dist[b]++
	}
	return dist
}

// CarView is the read-only projection of a car handed to collaborators.
type CarView struct {
	ID            CarID
	Position      r2.Vec
	Velocity      r2.Vec
	Heading       float64
	Speed         float64
	Lane          int
	TargetLane    int
	Ramp          int
	BehaviorType  string
	CarType       string
	MarkedForExit bool
}

// Snapshot is a deep copy of the state for renderers, recorders and tests.
type Snapshot struct {
	Time           float64
	TotalSpawned   uint64
	ActiveCars     int
	MeanSpeed      float64
	BehaviorCounts map[string]int
	Cars           []CarView
}

// Snapshot copies the observable state.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Time:           s.Time,
		TotalSpawned:   s.TotalSpawned,
		ActiveCars:     s.ActiveCars,
		MeanSpeed:      s.MeanSpeed(),
		BehaviorCounts: s.BehaviorCounts(),
		Cars:           make([]CarView, len(s.cars)),
	}
	for i, c := range s.cars {
		snap.Cars[i] = CarView{
			ID:            c.ID,
			Position:      c.Position,
			Velocity:      c.Velocity,
			Heading:       c.Heading,
			Speed:         c.Speed(),
			Lane:          c.CurrentLane,
			TargetLane:    c.TargetLane,
			Ramp:          c.Ramp,
			BehaviorType:  c.BehaviorType,
			CarType:       c.CarType,
			MarkedForExit: c.MarkedForExit,
		}
	}
	return snap
}

// IDs returns the ids of the snapshot cars in ascending order.
func (s Snapshot) IDs() []CarID {
	ids := make([]CarID, len(s.Cars))
	for i, c := range s.Cars {
		ids[i] = c.ID
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}
