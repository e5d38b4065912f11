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

// Package orchestrator executes approved update decisions: it queues
// them, bounds their concurrency, serializes updates per asset, applies
// the change through the registered backend, monitors health for a
// fixed window and reverts when the asset turns out unhealthy.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-updater/sentinel-updater/pkg/health"
	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/metrics"
	"github.com/sentinel-updater/sentinel-updater/pkg/policy"
	"github.com/sentinel-updater/sentinel-updater/pkg/rollback"
	"github.com/sentinel-updater/sentinel-updater/pkg/semver"
	"github.com/sentinel-updater/sentinel-updater/pkg/store"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
	"github.com/sentinel-updater/sentinel-updater/pkg/updater"
)

// Defaults for the orchestrator configuration
const (
	DefaultMaxConcurrent      = 3
	DefaultQueueSize          = 100
	DefaultMonitoringDuration = 5 * time.Minute
	DefaultPollInterval       = 10 * time.Second
	DefaultFailureThreshold   = 0.1
	DefaultWindowPollInterval = 30 * time.Second
	DefaultApplyTimeout       = 5 * time.Minute
)

// Config tunes the orchestrator. Zero values fall back to the defaults.
type Config struct {
	// Policy is the gate table consulted by Submit, defaults to the
	// built-in gates
	Policy *policy.Table

	// MaxConcurrent bounds the number of in-flight jobs
	MaxConcurrent int

	// QueueSize bounds the number of queued jobs
	QueueSize int

	// MonitoringDuration is how long health is observed after an apply
	MonitoringDuration time.Duration

	// PollInterval is the delay between health check rounds
	PollInterval time.Duration

	// FailureThreshold is the health sample failure ratio above which
	// the update is considered unhealthy
	FailureThreshold float64

	// ApplyTimeout bounds a single backend Apply or Revert call
	ApplyTimeout time.Duration

	// DryRun makes every job report a synthetic success without
	// touching any asset
	DryRun bool

	// Window restricts when non-forced jobs may start, nil is open
	Window Window

	// WindowPollInterval is how often a queued job rechecks the window
	WindowPollInterval time.Duration

	// DefaultChecks are the health checks used for assets without a
	// dedicated entry in AssetChecks
	DefaultChecks []health.CheckSpec

	// AssetChecks maps asset IDs to their health checks
	AssetChecks map[string][]health.CheckSpec
}

func (c *Config) withDefaults() Config {
	config := *c
	if config.Policy == nil {
		config.Policy = policy.NewTable()
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.MonitoringDuration <= 0 {
		config.MonitoringDuration = DefaultMonitoringDuration
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if config.ApplyTimeout <= 0 {
		config.ApplyTimeout = DefaultApplyTimeout
	}
	if config.Window == nil {
		config.Window = AlwaysOpen()
	}
	if config.WindowPollInterval <= 0 {
		config.WindowPollInterval = DefaultWindowPollInterval
	}
	return config
}

// EnqueueOptions alter how a single job is executed
type EnqueueOptions struct {
	// Priority orders the job inside the queue
	Priority update.Priority

	// Force accepts decisions that are not auto-approved and ignores
	// the update window
	Force bool

	// DryRun overrides the global dry-run flag for this job
	DryRun bool
}

// Orchestrator owns the job queue and the worker pool
type Orchestrator struct {
	config   Config
	store    store.Store
	router   *updater.Router
	checker  *health.Checker
	rollback *rollback.Manager
	queue    *jobQueue
	log      log.Logger

	running sync.WaitGroup
}

// New creates an orchestrator. Run must be called before jobs make
// progress.
func New(
	config Config,
	jobStore store.Store,
	router *updater.Router,
	checker *health.Checker,
	rollbackManager *rollback.Manager,
) *Orchestrator {
	config = config.withDefaults()
	return &Orchestrator{
		config:   config,
		store:    jobStore,
		router:   router,
		checker:  checker,
		rollback: rollbackManager,
		queue:    newJobQueue(config.QueueSize),
		log:      log.WithName("orchestrator"),
	}
}

// Submit evaluates a candidate against the gate policy. It is
// synchronous and has no side effect beyond metrics and logging; the
// resulting decision can be handed to Enqueue.
func (o *Orchestrator) Submit(candidate update.Candidate) (update.Decision, error) {
	if err := candidate.Validate(); err != nil {
		return update.Decision{}, err
	}

	_, _, class := semver.Classify(
		candidate.CurrentVersion, candidate.ProposedVersion,
		o.config.Policy.CoercePartialVersions)
	decision := o.config.Policy.Evaluate(candidate, class)
	metrics.UpdatesEvaluated.WithLabelValues(string(class), string(decision.Verdict)).Inc()

	o.log.Debug("Candidate evaluated",
		"assetID", candidate.Asset.ID,
		"classification", class,
		"verdict", decision.Verdict,
		"safe", decision.Safe)
	return decision, nil
}

// Enqueue accepts an approved decision and queues a job for it. Only
// safe decisions are accepted unless the force option is set.
func (o *Orchestrator) Enqueue(
	ctx context.Context, decision update.Decision, options EnqueueOptions,
) (*update.Job, error) {
	if !decision.Safe && !options.Force {
		return nil, fmt.Errorf("%w: %s", update.ErrNotSafe, decision.Reason)
	}

	job := &update.Job{
		ID:         uuid.New().String(),
		Decision:   decision,
		State:      update.JobStateQueued,
		Priority:   options.Priority,
		Force:      options.Force,
		DryRun:     options.DryRun || o.config.DryRun,
		EnqueuedAt: time.Now(),
	}

	if err := o.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("cannot persist job: %w", err)
	}
	if err := o.queue.push(job); err != nil {
		job.State = update.JobStateFailed
		job.Outcome = update.CodeCapacityExceeded
		job.Reason = "update queue is full"
		_ = o.store.SaveJob(ctx, job)
		return nil, err
	}

	metrics.QueueDepth.Set(float64(o.queue.depth()))
	o.log.Info("Job enqueued",
		"jobID", job.ID,
		"assetID", decision.Candidate.Asset.ID,
		"fromVersion", decision.Candidate.CurrentVersion,
		"toVersion", decision.Candidate.ProposedVersion,
		"priority", job.Priority,
		"force", job.Force,
		"dryRun", job.DryRun)
	return job, nil
}

// Status fetches a job snapshot by ID
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*update.Job, error) {
	return o.store.Job(ctx, jobID)
}

// History lists the most recent terminal outcomes, newest first. A
// non-empty assetID restricts the list to that asset.
func (o *Orchestrator) History(ctx context.Context, assetID string, limit int) ([]update.Outcome, error) {
	return o.store.Outcomes(ctx, assetID, limit)
}

// Run dispatches queued jobs to the worker pool until the context is
// cancelled, then waits for in-flight jobs to finish
func (o *Orchestrator) Run(ctx context.Context) error {
	o.recoverLeases(ctx)

	slots := make(chan struct{}, o.config.MaxConcurrent)

	for {
		// take the slot first, so backlogged jobs keep counting against
		// the queue capacity
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}

		job, err := o.queue.pop(ctx)
		if err != nil {
			<-slots
			break
		}
		metrics.QueueDepth.Set(float64(o.queue.depth()))

		if !job.Force && !o.config.Window.Open(time.Now()) {
			// park the job without holding its slot, so forced jobs and
			// open-window work keep flowing; a shutdown leaves the job
			// queued for the next run to recover
			<-slots
			if err := o.queue.push(job); err != nil {
				o.finish(ctx, job, update.JobStateFailed, update.CodeCapacityExceeded,
					"update queue filled up while waiting for the update window")
				continue
			}
			select {
			case <-ctx.Done():
			case <-time.After(o.config.WindowPollInterval):
			}
			continue
		}

		o.running.Add(1)
		metrics.RunningJobs.Inc()
		go func(job *update.Job) {
			defer func() {
				<-slots
				metrics.RunningJobs.Dec()
				o.running.Done()
			}()
			o.execute(ctx, job)
		}(job)
	}

	o.running.Wait()
	return ctx.Err()
}

// recoverLeases re-acquires the leases of jobs that were live when the
// previous process stopped, so a restart cannot double-run an asset
func (o *Orchestrator) recoverLeases(ctx context.Context) {
	live, err := o.store.LiveJobs(ctx)
	if err != nil {
		o.log.Error(err, "Cannot list live jobs while recovering leases")
		return
	}

	for _, job := range live {
		assetID := job.Decision.Candidate.Asset.ID
		if err := o.store.AcquireLease(ctx, assetID, job.ID); err != nil {
			o.log.Warning("Cannot recover lease", "jobID", job.ID, "assetID", assetID, "err", err)
			continue
		}
		if job.State == update.JobStateQueued {
			// jobs enqueued before Run started are already in the queue,
			// pushing them again would run the same update twice
			if o.queue.contains(job.ID) {
				continue
			}
			if err := o.queue.push(job); err != nil {
				o.log.Warning("Cannot requeue recovered job", "jobID", job.ID, "err", err)
			}
		}
	}
}

// execute drives one job through its whole lifecycle
func (o *Orchestrator) execute(ctx context.Context, job *update.Job) {
	asset := job.Decision.Candidate.Asset
	contextLogger := o.log.WithValues("jobID", job.ID, "assetID", asset.ID)

	if err := o.store.AcquireLease(ctx, asset.ID, job.ID); err != nil {
		if errors.Is(err, update.ErrConcurrentConflict) {
			o.finish(ctx, job, update.JobStateFailed, update.CodeConcurrentConflict, err.Error())
			return
		}
		o.finish(ctx, job, update.JobStateFailed, update.CodeApplyFailed,
			fmt.Sprintf("cannot acquire lease: %v", err))
		return
	}
	defer func() {
		if err := o.store.ReleaseLease(ctx, asset.ID, job.ID); err != nil {
			contextLogger.Error(err, "Cannot release lease")
		}
	}()

	started := time.Now()
	job.StartedAt = &started
	job.State = update.JobStateRunning
	if err := o.store.SaveJob(ctx, job); err != nil {
		contextLogger.Error(err, "Cannot persist job state")
	}

	if job.DryRun {
		contextLogger.Info("Dry run, skipping apply and monitoring")
		o.finish(ctx, job, update.JobStateSucceeded, update.CodeSucceeded,
			"dry run, no change applied")
		return
	}

	backend, err := o.router.For(asset.Type)
	if err != nil {
		o.finish(ctx, job, update.JobStateFailed, update.CodeApplyFailed, err.Error())
		return
	}

	contextLogger.Info("Applying update",
		"backend", backend.Name(),
		"fromVersion", job.Decision.Candidate.CurrentVersion,
		"toVersion", job.Decision.Candidate.ProposedVersion)

	applyCtx, cancel := context.WithTimeout(ctx, o.config.ApplyTimeout)
	outcome := backend.Apply(applyCtx, asset, job.Decision.Candidate.ProposedVersion)
	cancel()

	// a partial outcome means the change may have landed, so it gets one
	// revert attempt instead of being dropped as a plain failure
	if outcome.Status == updater.StatusPartial {
		o.revertPartial(ctx, job, backend, outcome.Message)
		return
	}
	if !outcome.Succeeded() {
		o.finish(ctx, job, update.JobStateFailed, update.CodeApplyFailed, outcome.Message)
		return
	}

	o.monitor(ctx, job, backend)
}

// monitor observes the asset health for the configured window and
// decides between success and the rollback path
func (o *Orchestrator) monitor(ctx context.Context, job *update.Job, backend updater.Updater) {
	asset := job.Decision.Candidate.Asset
	contextLogger := o.log.WithValues("jobID", job.ID, "assetID", asset.ID)

	job.State = update.JobStateMonitoring
	if err := o.store.SaveJob(ctx, job); err != nil {
		contextLogger.Error(err, "Cannot persist job state")
	}

	specs := o.checksFor(asset.ID)
	target := health.Target{
		Namespace: asset.Namespace,
		Name:      asset.Name,
		AssetType: string(asset.Type),
	}

	var window []health.Verdict
	deadline := time.Now().Add(o.config.MonitoringDuration)
	for {
		verdicts := o.checker.CheckAll(ctx, target, specs)
		for _, verdict := range verdicts {
			metrics.RecordHealthVerdict(string(verdict.CheckKind), verdict.Passed)
			job.Health = append(job.Health, update.HealthSample{
				CheckKind:  string(verdict.CheckKind),
				Passed:     verdict.Passed,
				LatencyMS:  verdict.LatencyMS,
				Message:    verdict.Message,
				ObservedAt: verdict.ObservedAt,
			})
		}
		window = append(window, verdicts...)
		if err := o.store.SaveJob(ctx, job); err != nil {
			contextLogger.Error(err, "Cannot persist health samples")
		}

		// the threshold is checked at every sampling point, a clearly
		// broken update is reverted without waiting out the window
		ratio := health.FailureRatio(window)
		if ratio > o.config.FailureThreshold {
			contextLogger.Warning("Health failure ratio above threshold",
				"samples", len(window), "failureRatio", ratio, "threshold", o.config.FailureThreshold)
			o.revert(ctx, job, backend, fmt.Sprintf(
				"health failure ratio %.2f above threshold %.2f", ratio, o.config.FailureThreshold))
			return
		}

		if !time.Now().Add(o.config.PollInterval).Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			// treat shutdown mid-monitoring as an unhealthy outcome:
			// better a spurious rollback than an unwatched update
			contextLogger.Warning("Shut down while monitoring, treating update as unhealthy")
			o.revert(ctx, job, backend, "monitoring interrupted by shutdown")
			return
		case <-time.After(o.config.PollInterval):
		}
	}

	contextLogger.Info("Monitoring window closed",
		"samples", len(window), "failureRatio", health.FailureRatio(window))
	o.finish(ctx, job, update.JobStateSucceeded, update.CodeSucceeded,
		fmt.Sprintf("healthy after %d samples", len(window)))
}

// revert drives the rollback path of an update that failed health
// validation
func (o *Orchestrator) revert(ctx context.Context, job *update.Job, backend updater.Updater, reason string) {
	asset := job.Decision.Candidate.Asset

	if err := o.rollback.Authorize(ctx, asset.ID); err != nil {
		metrics.Rollbacks.WithLabelValues("denied").Inc()
		o.log.Warning("Rollback denied",
			"jobID", job.ID, "assetID", asset.ID, "reason", reason, "err", err)
		o.finish(ctx, job, update.JobStateFailed, update.CodeHealthFailedRollbackDeniedLoop,
			fmt.Sprintf("%s; rollback denied: %v", reason, err))
		return
	}

	if err := o.runRevert(ctx, job, backend, reason); err != nil {
		o.finish(ctx, job, update.JobStateFailed, update.CodeRollbackFailed,
			fmt.Sprintf("%s; %v", reason, err))
		return
	}
	o.finish(ctx, job, update.JobStateRolledBack, update.CodeHealthFailedRolledBack, reason)
}

// revertPartial handles an apply that may have landed part of a change
// before failing: the asset gets exactly one revert attempt and the job
// is terminal failed either way
func (o *Orchestrator) revertPartial(ctx context.Context, job *update.Job, backend updater.Updater, message string) {
	asset := job.Decision.Candidate.Asset
	reason := fmt.Sprintf("apply left a partial change: %s", message)

	if err := o.rollback.Authorize(ctx, asset.ID); err != nil {
		metrics.Rollbacks.WithLabelValues("denied").Inc()
		o.log.Warning("Rollback of partial apply denied",
			"jobID", job.ID, "assetID", asset.ID, "err", err)
		o.finish(ctx, job, update.JobStateFailed, update.CodeApplyFailed,
			fmt.Sprintf("%s; rollback denied: %v", reason, err))
		return
	}

	if err := o.runRevert(ctx, job, backend, reason); err != nil {
		o.finish(ctx, job, update.JobStateFailed, update.CodeRollbackFailed,
			fmt.Sprintf("%s; %v", reason, err))
		return
	}
	o.finish(ctx, job, update.JobStateFailed, update.CodeApplyFailed,
		reason+"; asset reverted to the previous version")
}

// runRevert records one rollback attempt and performs it. The event is
// written before the revert call, so a crash in between still counts
// against the loop budget.
func (o *Orchestrator) runRevert(ctx context.Context, job *update.Job, backend updater.Updater, reason string) error {
	asset := job.Decision.Candidate.Asset

	eventID, err := o.rollback.Begin(ctx, update.RollbackEvent{
		AssetID:     asset.ID,
		Reason:      reason,
		FromVersion: job.Decision.Candidate.ProposedVersion,
		ToVersion:   job.Decision.Candidate.CurrentVersion,
	})
	if err != nil {
		metrics.Rollbacks.WithLabelValues("failed").Inc()
		return fmt.Errorf("cannot record rollback: %w", err)
	}

	revertCtx, cancel := context.WithTimeout(ctx, o.config.ApplyTimeout)
	defer cancel()
	outcome := backend.Revert(revertCtx, asset, job.Decision.Candidate.CurrentVersion)
	if !outcome.Succeeded() {
		metrics.Rollbacks.WithLabelValues("failed").Inc()
		return fmt.Errorf("rollback failed: %s", outcome.Message)
	}

	if err := o.rollback.Complete(ctx, eventID); err != nil {
		o.log.Error(err, "Cannot mark rollback as succeeded", "jobID", job.ID)
	}
	metrics.Rollbacks.WithLabelValues("succeeded").Inc()
	return nil
}

// finish moves a job to a terminal state and records its outcome
func (o *Orchestrator) finish(
	ctx context.Context, job *update.Job, state update.JobState, code update.OutcomeCode, reason string,
) {
	finished := time.Now()
	job.State = state
	job.Outcome = code
	job.Reason = reason
	job.FinishedAt = &finished

	if err := o.store.SaveJob(ctx, job); err != nil {
		o.log.Error(err, "Cannot persist terminal job state", "jobID", job.ID)
	}

	started := job.EnqueuedAt
	if job.StartedAt != nil {
		started = *job.StartedAt
		metrics.UpdateDuration.Observe(finished.Sub(started).Seconds())
	}
	metrics.UpdatesApplied.WithLabelValues(string(code)).Inc()

	candidate := job.Decision.Candidate
	if err := o.store.AppendOutcome(ctx, update.Outcome{
		JobID:       job.ID,
		AssetID:     candidate.Asset.ID,
		Code:        code,
		FromVersion: candidate.CurrentVersion,
		ToVersion:   candidate.ProposedVersion,
		Reason:      reason,
		StartedAt:   started,
		FinishedAt:  finished,
	}); err != nil {
		o.log.Error(err, "Cannot append outcome to history", "jobID", job.ID)
	}

	o.log.Info("Job finished",
		"jobID", job.ID, "assetID", candidate.Asset.ID, "state", state, "outcome", code, "reason", reason)
}

func (o *Orchestrator) checksFor(assetID string) []health.CheckSpec {
	if specs, found := o.config.AssetChecks[assetID]; found {
		return specs
	}
	return o.config.DefaultChecks
}
