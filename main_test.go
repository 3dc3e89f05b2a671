package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trafficsim/internal/compute"
	"trafficsim/internal/config"
	"trafficsim/internal/monitoring"
)

func TestParseActions(t *testing.T) {
	cars := config.MustLoadCars()

	actions, err := parseActions(" aggressive@30, cautious@4.5,,", actionSpawn, cars)
	require.NoError(t, err)
	assert.Equal(t, []action{
		{At: 30, Profile: "aggressive", Kind: actionSpawn},
		{At: 4.5, Profile: "cautious", Kind: actionSpawn},
	}, actions)

	none, err := parseActions("", actionMarkExit, cars)
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, bad := range []string{"aggressive", "reckless@3", "normal@soon", "normal@-1"} {
		_, err := parseActions(bad, actionMarkExit, cars)
		assert.Error(t, err, bad)
	}
}

func TestScheduleOrdersSpawnsFirst(t *testing.T) {
	got := schedule(
		[]action{{At: 5, Profile: "normal", Kind: actionSpawn}, {At: 1, Profile: "cautious", Kind: actionSpawn}},
		[]action{{At: 5, Profile: "normal", Kind: actionMarkExit}, {At: 0, Profile: "normal", Kind: actionMarkExit}},
	)
	assert.Equal(t, []action{
		{At: 0, Profile: "normal", Kind: actionMarkExit},
		{At: 1, Profile: "cautious", Kind: actionSpawn},
		{At: 5, Profile: "normal", Kind: actionSpawn},
		{At: 5, Profile: "normal", Kind: actionMarkExit},
	}, got)
}

func TestResolveSeed(t *testing.T) {
	clock := func() time.Time { return time.Unix(0, 12345) }
	configured := uint64(99)

	assert.Equal(t, uint64(7), resolveSeed(7, &configured, clock))
	assert.Equal(t, uint64(0), resolveSeed(0, nil, clock))
	assert.Equal(t, uint64(99), resolveSeed(-1, &configured, clock))
	assert.Equal(t, uint64(12345), resolveSeed(-1, nil, clock))
}

func testConfig(t *testing.T) runConfig {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	cars := config.MustLoadCars()
	return runConfig{
		route:       config.MustLoadRoute(config.DefaultDonutPath),
		cars:        cars,
		opts:        compute.Options{Backend: compute.BackendSequential, Seed: 11},
		duration:    60,
		dt:          0.1,
		sampleEvery: 5,
	}
}

func TestSimulateRecordsAndPlots(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.recordPath = filepath.Join(dir, "run.db")
	cfg.plotDir = filepath.Join(dir, "plots")

	res, err := simulate(cfg)
	require.NoError(t, err)
	assert.Equal(t, compute.BackendSequential, res.Backend)
	assert.InDelta(t, 60.0, res.Final.Time, 1e-6)
	assert.Positive(t, res.Final.TotalSpawned)
	assert.NotEmpty(t, res.RunID)
	assert.GreaterOrEqual(t, res.Plots, 3)

	_, err = os.Stat(cfg.recordPath)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.plotDir, "mean_speed.png"))
	require.NoError(t, err)
}

func TestSimulateFiresActions(t *testing.T) {
	cfg := testConfig(t)
	cfg.duration = 5
	cfg.actions = schedule(
		[]action{{At: 1, Profile: "aggressive", Kind: actionSpawn}},
		[]action{{At: 2, Profile: "aggressive", Kind: actionMarkExit}},
	)

	res, err := simulate(cfg)
	require.NoError(t, err)
	marked := 0
	for _, c := range res.Final.Cars {
		if c.MarkedForExit {
			marked++
			assert.Equal(t, "aggressive", c.BehaviorType)
		}
	}
	assert.Equal(t, 1, marked)
}

func TestSimulateBackendsMatch(t *testing.T) {
	seq := testConfig(t)
	par := testConfig(t)
	par.opts.Backend = compute.BackendParallel
	par.opts.Workers = 3

	a, err := simulate(seq)
	require.NoError(t, err)
	b, err := simulate(par)
	require.NoError(t, err)
	assert.Equal(t, "parallel/workers(3)", b.Backend)
	assert.Equal(t, a.Final.TotalSpawned, b.Final.TotalSpawned)
	assert.Equal(t, a.Departures, b.Departures)
}

func TestProfilePath(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "run.pprof"), profilePath(filepath.Join(dir, "run.pprof"), "Donut", "sequential", 1))
	assert.Equal(t, filepath.Join(dir, "cpu-Donut_Ring-parallel-workers4-42.pprof"),
		profilePath(dir, "Donut Ring", "parallel/workers(4)", 42))

	missing := filepath.Join(dir, "profiles") + string(os.PathSeparator)
	assert.Equal(t, filepath.Join(dir, "profiles", "cpu-Donut-sequential-7.pprof"), profilePath(missing, "Donut", "sequential", 7))
}

func TestSimulateWritesCPUProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.duration = 5
	cfg.cpuProfile = filepath.Join(t.TempDir(), "profiles") + string(os.PathSeparator)

	res, err := simulate(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, res.Profile)
	assert.Equal(t, filepath.Dir(res.Profile), filepath.Clean(cfg.cpuProfile))
	info, err := os.Stat(res.Profile)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	// The profile was stopped with the run, so another one can start.
	again, err := simulate(cfg)
	require.NoError(t, err)
	assert.Equal(t, res.Profile, again.Profile)
}

func TestRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.duration = 2
	require.NoError(t, run(cfg))

	cfg.opts.Backend = "quantum"
	assert.ErrorContains(t, run(cfg), `unknown backend "quantum"`)

	cfg = testConfig(t)
	cfg.recordPath = filepath.Join(t.TempDir(), "missing", "run.db")
	assert.ErrorContains(t, run(cfg), "opening recorder")
}
