/*
Copyright The Sentinel Updater Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	// PostgreSQL driver
	_ "github.com/lib/pq"

	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// PostgresStore persists the engine state in PostgreSQL. Jobs are kept
// as JSON snapshots, outcomes and rollback events as append-only rows.
type PostgresStore struct {
	db  *sql.DB
	log log.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS update_jobs (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	state TEXT NOT NULL,
	snapshot JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS asset_leases (
	asset_id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS update_outcomes (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	asset_id TEXT NOT NULL,
	code TEXT NOT NULL,
	from_version TEXT NOT NULL,
	to_version TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS rollback_events (
	id BIGSERIAL PRIMARY KEY,
	asset_id TEXT NOT NULL,
	triggered_at TIMESTAMPTZ NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	from_version TEXT NOT NULL,
	to_version TEXT NOT NULL,
	succeeded BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS rollback_events_asset_time
	ON rollback_events (asset_id, triggered_at);
`

// NewPostgresStore connects to PostgreSQL and bootstraps the schema
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot reach database: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cannot bootstrap schema: %w", err)
	}

	return &PostgresStore{
		db:  db,
		log: log.WithName("store"),
	}, nil
}

// Close releases the database connection pool
func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// SaveJob implements the Store interface
func (p *PostgresStore) SaveJob(ctx context.Context, job *update.Job) error {
	snapshot, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("cannot serialize job %s: %w", job.ID, err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO update_jobs (id, asset_id, state, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, snapshot = EXCLUDED.snapshot, updated_at = now()`,
		job.ID, job.Decision.Candidate.Asset.ID, string(job.State), snapshot)
	return err
}

// Job implements the Store interface
func (p *PostgresStore) Job(ctx context.Context, id string) (*update.Job, error) {
	var snapshot []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT snapshot FROM update_jobs WHERE id = $1`, id).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", update.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var job update.Job
	if err := json.Unmarshal(snapshot, &job); err != nil {
		return nil, fmt.Errorf("cannot deserialize job %s: %w", id, err)
	}
	return &job, nil
}

// LiveJobs implements the Store interface
func (p *PostgresStore) LiveJobs(ctx context.Context) ([]*update.Job, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT snapshot FROM update_jobs
		WHERE state NOT IN ($1, $2, $3)`,
		string(update.JobStateSucceeded), string(update.JobStateRolledBack), string(update.JobStateFailed))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var jobs []*update.Job
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, err
		}
		var job update.Job
		if err := json.Unmarshal(snapshot, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// AcquireLease implements the Store interface
func (p *PostgresStore) AcquireLease(ctx context.Context, assetID, jobID string) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO asset_leases (asset_id, job_id)
		VALUES ($1, $2)
		ON CONFLICT (asset_id) DO UPDATE SET job_id = EXCLUDED.job_id
		WHERE asset_leases.job_id = EXCLUDED.job_id`,
		assetID, jobID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: asset %s", update.ErrConcurrentConflict, assetID)
	}
	return nil
}

// ReleaseLease implements the Store interface
func (p *PostgresStore) ReleaseLease(ctx context.Context, assetID, jobID string) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM asset_leases WHERE asset_id = $1 AND job_id = $2`, assetID, jobID)
	return err
}

// AppendOutcome implements the Store interface
func (p *PostgresStore) AppendOutcome(ctx context.Context, outcome update.Outcome) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO update_outcomes
			(job_id, asset_id, code, from_version, to_version, reason, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		outcome.JobID, outcome.AssetID, string(outcome.Code),
		outcome.FromVersion, outcome.ToVersion, outcome.Reason,
		outcome.StartedAt, outcome.FinishedAt)
	return err
}

// Outcomes implements the Store interface
func (p *PostgresStore) Outcomes(ctx context.Context, assetID string, limit int) ([]update.Outcome, error) {
	query := `
		SELECT job_id, asset_id, code, from_version, to_version, reason, started_at, finished_at
		FROM update_outcomes`
	args := []interface{}{}
	if assetID != "" {
		args = append(args, assetID)
		query += fmt.Sprintf(" WHERE asset_id = $%d", len(args))
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var outcomes []update.Outcome
	for rows.Next() {
		var outcome update.Outcome
		var code string
		if err := rows.Scan(&outcome.JobID, &outcome.AssetID, &code,
			&outcome.FromVersion, &outcome.ToVersion, &outcome.Reason,
			&outcome.StartedAt, &outcome.FinishedAt); err != nil {
			return nil, err
		}
		outcome.Code = update.OutcomeCode(code)
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}

// AppendRollback implements the Store interface
func (p *PostgresStore) AppendRollback(ctx context.Context, event update.RollbackEvent) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO rollback_events
			(asset_id, triggered_at, reason, from_version, to_version, succeeded)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		event.AssetID, event.TriggeredAt, event.Reason,
		event.FromVersion, event.ToVersion, event.Succeeded).Scan(&id)
	return id, err
}

// MarkRollbackSucceeded implements the Store interface
func (p *PostgresStore) MarkRollbackSucceeded(ctx context.Context, id int64) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE rollback_events SET succeeded = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("unknown rollback event %d", id)
	}
	return nil
}

// RollbackEventsSince implements the Store interface
func (p *PostgresStore) RollbackEventsSince(
	ctx context.Context, assetID string, since time.Time,
) ([]update.RollbackEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT asset_id, triggered_at, reason, from_version, to_version, succeeded
		FROM rollback_events
		WHERE asset_id = $1 AND triggered_at > $2
		ORDER BY triggered_at`,
		assetID, since)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []update.RollbackEvent
	for rows.Next() {
		var event update.RollbackEvent
		if err := rows.Scan(&event.AssetID, &event.TriggeredAt, &event.Reason,
			&event.FromVersion, &event.ToVersion, &event.Succeeded); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
