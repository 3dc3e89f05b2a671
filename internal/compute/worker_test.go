package compute

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficsim/internal/config"
	"trafficsim/internal/physics"
	"trafficsim/internal/road"
	"trafficsim/internal/sim"
)

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk(0, 4))
	assert.Equal(t, []span{{0, 0}, {1, 1}, {2, 2}}, chunk(3, 4))

	spans := chunk(37, 2)
	covered := 0
	for i, sp := range spans {
		if i > 0 {
			assert.Equal(t, spans[i-1].end+1, sp.start)
		}
		covered += sp.end - sp.start + 1
	}
	assert.Equal(t, 37, covered)
	assert.Equal(t, 36, spans[len(spans)-1].end)
}

func TestAssignSpansRoundRobin(t *testing.T) {
	masks := assignSpans(2, []span{{0, 1}, {2, 3}, {4, 5}})
	require.Len(t, masks, 2)
	assert.Equal(t, []span{{0, 1}, {4, 5}}, masks[0].spans)
	assert.Equal(t, []span{{2, 3}}, masks[1].spans)

	assert.Len(t, assignSpans(0, nil), 1)
}

// busyBodies returns the packed bodies of a donut run that has been filling
// for a while.
func busyBodies(t *testing.T) (road.Network, []road.Body) {
	t.Helper()
	route := config.MustLoadRoute(config.DefaultDonutPath)
	cars := config.MustLoadCars()
	b, err := New(route, cars, Options{Seed: 3})
	require.NoError(t, err)
	defer b.Close()

	s := sim.NewState(0.1)
	for i := 0; i < 400; i++ {
		require.NoError(t, b.Update(s))
	}
	require.Greater(t, s.Len(), 4)

	net, err := road.New(route, cars.CollisionAvoidance)
	require.NoError(t, err)
	in := physics.New(net).Pack(s)
	return net, append([]road.Body(nil), in...)
}

func TestWorkerDeviceMatchesEngine(t *testing.T) {
	net, in := busyBodies(t)

	want := make([]road.Body, len(in))
	physics.New(net).Compute(in, want, 0.1)

	for _, workers := range []int{1, 3, 16} {
		dev := NewWorkerDevice(net, workers)
		got := make([]road.Body, len(in))
		require.NoError(t, dev.Run(in, got, 0.1))
		require.NoError(t, dev.Close())
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%d workers diverged:\n%s", workers, diff)
		}
	}
}

func TestWorkerDeviceReuse(t *testing.T) {
	net, in := busyBodies(t)
	dev := NewWorkerDevice(net, 2)
	defer dev.Close()

	a := make([]road.Body, len(in))
	for i := 0; i < 5; i++ {
		require.NoError(t, dev.Run(in, a, 0.1))
	}
	require.NoError(t, dev.Run(nil, nil, 0.1))

	err := dev.Run(in, a[:1], 0.1)
	assert.ErrorContains(t, err, "output holds 1 bodies")
}

func TestWorkerDeviceClose(t *testing.T) {
	net, in := busyBodies(t)
	dev := NewWorkerDevice(net, 0)
	assert.Equal(t, "workers(1)", dev.Name())

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close())
	err := dev.Run(in, make([]road.Body, len(in)), 0.1)
	assert.ErrorIs(t, err, errDeviceClosed)
}
