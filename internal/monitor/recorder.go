// Package monitor persists simulation runs and renders charts from them.
package monitor

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"trafficsim/internal/sim"
	"trafficsim/internal/traffic"
)

// RunInfo describes the configuration a run was started with.
type RunInfo struct {
	Route   string
	Backend string
	Seed    uint64
	DT      float64
}

// Sample is one recorded row of the samples table.
type Sample struct {
	Time         float64
	ActiveCars   int
	TotalSpawned uint64
	MeanSpeed    float64
}

// Recorder writes run metadata, periodic samples and departures to SQLite.
// Each Recorder owns one run, identified by a random UUID.
type Recorder struct {
	*sql.DB
	runID string
}

// NewRecorder opens or creates the SQLite database at path, creates the
// schema if needed and starts a new run described by info.
func NewRecorder(path string, info RunInfo) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id            TEXT PRIMARY KEY,
			route             TEXT,
			backend           TEXT,
			seed              BIGINT,
			dt                DOUBLE,
			total_spawned     BIGINT,
			sim_time          DOUBLE,
			started_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			finished_at       TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS samples (
			run_id            TEXT,
			sim_time          DOUBLE,
			active_cars       BIGINT,
			total_spawned     BIGINT,
			mean_speed        DOUBLE,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
		CREATE TABLE IF NOT EXISTS behavior_counts (
			run_id            TEXT,
			sim_time          DOUBLE,
			behavior          TEXT,
			cars              BIGINT,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
		CREATE TABLE IF NOT EXISTS departures (
			run_id            TEXT,
			car_id            BIGINT,
			sim_time          DOUBLE,
			behavior          TEXT,
			car_type          TEXT,
			exit_id           TEXT,
			reason            TEXT,
			residency         DOUBLE,
			FOREIGN KEY(run_id) REFERENCES runs(run_id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	r := &Recorder{DB: db, runID: uuid.New().String()}
	_, err = db.Exec(
		`INSERT INTO runs (run_id, route, backend, seed, dt) VALUES (?, ?, ?, ?, ?)`,
		r.runID, info.Route, info.Backend, int64(info.Seed), info.DT,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return r, nil
}

// RunID is the UUID of the run this recorder writes.
func (r *Recorder) RunID() string { return r.runID }

// RecordSample stores the aggregate state and per-profile counts at the
// snapshot time.
func (r *Recorder) RecordSample(snap sim.Snapshot) error {
	tx, err := r.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO samples (run_id, sim_time, active_cars, total_spawned, mean_speed) VALUES (?, ?, ?, ?, ?)`,
		r.runID, snap.Time, snap.ActiveCars, int64(snap.TotalSpawned), snap.MeanSpeed,
	); err != nil {
		return fmt.Errorf("failed to insert sample: %v", err)
	}
	for behavior, n := range snap.BehaviorCounts {
		if _, err := tx.Exec(
			`INSERT INTO behavior_counts (run_id, sim_time, behavior, cars) VALUES (?, ?, ?, ?)`,
			r.runID, snap.Time, behavior, n,
		); err != nil {
			return fmt.Errorf("failed to insert behavior count: %v", err)
		}
	}
	return tx.Commit()
}

// RecordDepartures stores one row per departure in a single transaction.
func (r *Recorder) RecordDepartures(departures []traffic.Departure) error {
	if len(departures) == 0 {
		return nil
	}
	tx, err := r.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO departures
		(run_id, car_id, sim_time, behavior, car_type, exit_id, reason, residency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, d := range departures {
		if _, err := stmt.Exec(r.runID, int64(d.ID), d.Time, d.Behavior, d.CarType, d.Exit, string(d.Reason), d.Residency); err != nil {
			return fmt.Errorf("failed to insert departure %d: %v", d.ID, err)
		}
	}
	return tx.Commit()
}

// Finish stamps the run with its final totals.
func (r *Recorder) Finish(snap sim.Snapshot) error {
	_, err := r.Exec(
		`UPDATE runs SET total_spawned = ?, sim_time = ?, finished_at = CURRENT_TIMESTAMP WHERE run_id = ?`,
		int64(snap.TotalSpawned), snap.Time, r.runID,
	)
	return err
}

// Samples returns this run's samples in time order.
func (r *Recorder) Samples() ([]Sample, error) {
	rows, err := r.Query(
		`SELECT sim_time, active_cars, total_spawned, mean_speed FROM samples WHERE run_id = ? ORDER BY sim_time`,
		r.runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		var spawned int64
		if err := rows.Scan(&s.Time, &s.ActiveCars, &spawned, &s.MeanSpeed); err != nil {
			return nil, err
		}
		s.TotalSpawned = uint64(spawned)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// DepartureCounts returns how many cars left this run for each reason.
func (r *Recorder) DepartureCounts() (map[traffic.Reason]int, error) {
	rows, err := r.Query(
		`SELECT reason, COUNT(*) FROM departures WHERE run_id = ? GROUP BY reason`,
		r.runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[traffic.Reason]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[traffic.Reason(reason)] = n
	}
	return counts, rows.Err()
}
