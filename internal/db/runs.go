package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Pipeline run terminal states.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusPartial   = "completed_with_errors"
)

// InsertPipelineRun opens a new run record.
func (s *Store) InsertPipelineRun(ctx context.Context, run *PipelineRun) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO pipeline_runs (id, date_from_unix, date_to_unix, status, started_unix)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.DateFrom.Unix(), run.DateTo.Unix(), RunStatusRunning,
		run.Started.Unix())
	return err
}

// FinishPipelineRun closes a run with its final status and snapshots.
func (s *Store) FinishPipelineRun(ctx context.Context, runID, status string, finished time.Time, stepsJSON, countsJSON, volumeJSON, driftJSON string) error {
	_, err := s.ExecContext(ctx, `
		UPDATE pipeline_runs SET status = ?, finished_unix = ?, steps_json = ?,
			detector_counts_json = ?, data_volume_json = ?,
			drift_disabled_detectors_json = ?
		WHERE id = ?`,
		status, finished.Unix(), stepsJSON, countsJSON, volumeJSON, driftJSON, runID)
	return err
}

const runColumns = `id, date_from_unix, date_to_unix, status, started_unix, finished_unix,
	steps_json, detector_counts_json, data_volume_json, drift_disabled_detectors_json`

func scanRun(row interface{ Scan(...any) error }) (*PipelineRun, error) {
	var run PipelineRun
	var from, to, started int64
	var finished sql.NullInt64
	var steps, counts, volume, drift sql.NullString

	err := row.Scan(&run.ID, &from, &to, &run.Status, &started, &finished,
		&steps, &counts, &volume, &drift)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.DateFrom = time.Unix(from, 0).UTC()
	run.DateTo = time.Unix(to, 0).UTC()
	run.Started = time.Unix(started, 0).UTC()
	if finished.Valid {
		t := time.Unix(finished.Int64, 0).UTC()
		run.Finished = &t
	}
	run.StepsJSON = stringOrNil(steps)
	run.DetectorCountsJSON = stringOrNil(counts)
	run.DataVolumeJSON = stringOrNil(volume)
	run.DriftDisabledJSON = stringOrNil(drift)
	return &run, nil
}

// PipelineRunByID fetches one run.
func (s *Store) PipelineRunByID(ctx context.Context, id string) (*PipelineRun, error) {
	row := s.QueryRowContext(ctx,
		"SELECT "+runColumns+" FROM pipeline_runs WHERE id = ?", id)
	return scanRun(row)
}

// RecentCompletedRuns returns the latest finished runs, newest first. The
// drift detector reads detector counts from these.
func (s *Store) RecentCompletedRuns(ctx context.Context, limit int) ([]*PipelineRun, error) {
	rows, err := s.QueryContext(ctx,
		"SELECT "+runColumns+` FROM pipeline_runs
		 WHERE status != ? AND finished_unix IS NOT NULL
		 ORDER BY finished_unix DESC LIMIT ?`,
		RunStatusRunning, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PipelineRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
