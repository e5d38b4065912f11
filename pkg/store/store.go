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

// Package store persists the engine state: jobs, per-asset leases, the
// outcome history and the rollback audit trail. Two implementations are
// provided, an in-memory one for tests and single-process runs and a
// PostgreSQL one for durable deployments.
package store

import (
	"context"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// Store is the persistence boundary of the engine
type Store interface {
	// SaveJob inserts or updates a job snapshot
	SaveJob(ctx context.Context, job *update.Job) error

	// Job fetches a job by ID, update.ErrJobNotFound when missing
	Job(ctx context.Context, id string) (*update.Job, error)

	// LiveJobs lists the jobs that did not reach a terminal state. It is
	// used to recover leases after a restart.
	LiveJobs(ctx context.Context) ([]*update.Job, error)

	// AcquireLease grants the per-asset execution lease to a job, and
	// returns update.ErrConcurrentConflict while another job holds it
	AcquireLease(ctx context.Context, assetID, jobID string) error

	// ReleaseLease gives the lease back. Releasing a lease held by a
	// different job is a no-op.
	ReleaseLease(ctx context.Context, assetID, jobID string) error

	// AppendOutcome adds a terminal job outcome to the history
	AppendOutcome(ctx context.Context, outcome update.Outcome) error

	// Outcomes lists the most recent outcomes, newest first. A non-empty
	// assetID restricts the list to that asset.
	Outcomes(ctx context.Context, assetID string, limit int) ([]update.Outcome, error)

	// AppendRollback records a rollback attempt and returns its ID
	AppendRollback(ctx context.Context, event update.RollbackEvent) (int64, error)

	// MarkRollbackSucceeded flips the succeeded flag of an attempt
	MarkRollbackSucceeded(ctx context.Context, id int64) error

	// RollbackEventsSince lists the rollback attempts recorded for an
	// asset after the given instant
	RollbackEventsSince(ctx context.Context, assetID string, since time.Time) ([]update.RollbackEvent, error)
}
