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

// Package update contains the shared data model of the update engine:
// candidates submitted by the discovery layer, the decisions produced by
// the gate policy, the jobs executed by the orchestrator and the terminal
// outcomes surfaced to the API and audit stream.
package update

import (
	"errors"
	"fmt"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/semver"
)

// AssetType is the kind of deployment unit a candidate refers to
type AssetType string

const (
	// AssetTypeContainer is a plain container managed through Watchtower
	AssetTypeContainer AssetType = "container"

	// AssetTypeDeployment is a Kubernetes Deployment
	AssetTypeDeployment AssetType = "deployment"

	// AssetTypeStatefulSet is a Kubernetes StatefulSet
	AssetTypeStatefulSet AssetType = "statefulset"

	// AssetTypeDaemonSet is a Kubernetes DaemonSet
	AssetTypeDaemonSet AssetType = "daemonset"

	// AssetTypeHelmRelease is a Helm release
	AssetTypeHelmRelease AssetType = "helm_release"
)

// Asset identifies a tracked deployment unit
type Asset struct {
	// ID is the unique identifier of the asset, usually "namespace/name"
	ID string `json:"id"`

	// Name is the workload or release name
	Name string `json:"name"`

	// Namespace is the Kubernetes namespace, empty for plain containers
	Namespace string `json:"namespace,omitempty"`

	// Type is the kind of deployment unit
	Type AssetType `json:"type"`
}

// Candidate is a detected version change for an asset, as submitted by
// the discovery layer. It is read-only to the engine.
type Candidate struct {
	Asset Asset `json:"asset"`

	// CurrentVersion is the version currently deployed
	CurrentVersion string `json:"currentVersion"`

	// ProposedVersion is the version the asset could be updated to
	ProposedVersion string `json:"proposedVersion"`

	// RequestedAt is the detection timestamp
	RequestedAt time.Time `json:"requestedAt"`
}

// Validate checks the candidate is well formed enough to be evaluated
func (c *Candidate) Validate() error {
	if c.Asset.ID == "" {
		return fmt.Errorf("%w: missing asset id", ErrInvalidCandidate)
	}
	if c.Asset.Type == "" {
		return fmt.Errorf("%w: missing asset type", ErrInvalidCandidate)
	}
	if c.CurrentVersion == "" || c.ProposedVersion == "" {
		return fmt.Errorf("%w: missing version information", ErrInvalidCandidate)
	}
	return nil
}

// Action is the gate action resolved from the policy table
type Action string

const (
	// ActionAuto applies the update automatically
	ActionAuto Action = "auto"

	// ActionReview queues the update for human review
	ActionReview Action = "review"

	// ActionManual requires an explicit manual approval
	ActionManual Action = "manual"

	// ActionSkip rejects the update
	ActionSkip Action = "skip"
)

// KnownActions lists every valid gate action
var KnownActions = []Action{ActionAuto, ActionReview, ActionManual, ActionSkip}

// Verdict is the decision category of an evaluation
type Verdict string

const (
	// VerdictApprove marks the candidate as safe to execute
	VerdictApprove Verdict = "approve"

	// VerdictReviewRequired marks the candidate as needing review
	VerdictReviewRequired Verdict = "review_required"

	// VerdictManualApproval marks the candidate as needing manual approval
	VerdictManualApproval Verdict = "manual_approval"

	// VerdictReject rejects the candidate
	VerdictReject Verdict = "reject"
)

// OutcomeCode is the machine readable code surfaced to callers for both
// evaluation results and terminal job outcomes
type OutcomeCode string

const (
	// CodeApproved means the candidate passed the gate
	CodeApproved OutcomeCode = "approved"

	// CodeReviewRequired means the gate requires a review
	CodeReviewRequired OutcomeCode = "review_required"

	// CodeManualRequired means the gate requires manual approval
	CodeManualRequired OutcomeCode = "manual_required"

	// CodeRejectedInvalidVersion means one of the versions failed to parse
	CodeRejectedInvalidVersion OutcomeCode = "rejected_invalid_version"

	// CodeRejectedNotUpgrade means the proposed version is not newer
	CodeRejectedNotUpgrade OutcomeCode = "rejected_not_upgrade"

	// CodeRejectedPolicySkip means the policy asks to skip this change
	CodeRejectedPolicySkip OutcomeCode = "rejected_policy_skip"

	// CodeCapacityExceeded means both the pool and the queue are full
	CodeCapacityExceeded OutcomeCode = "capacity_exceeded"

	// CodeConcurrentConflict means another job holds the asset lease
	CodeConcurrentConflict OutcomeCode = "concurrent_conflict"

	// CodeSucceeded means the update was applied and stayed healthy
	CodeSucceeded OutcomeCode = "succeeded"

	// CodeApplyFailed means the updater failed to apply the new version
	CodeApplyFailed OutcomeCode = "apply_failed"

	// CodeHealthFailedRolledBack means health validation failed and the
	// asset was reverted to the previous version
	CodeHealthFailedRolledBack OutcomeCode = "health_failed_rolled_back"

	// CodeHealthFailedRollbackDeniedLoop means health validation failed
	// but the rollback was denied by loop prevention
	CodeHealthFailedRollbackDeniedLoop OutcomeCode = "health_failed_rollback_denied_loop"

	// CodeRollbackFailed means the revert itself failed
	CodeRollbackFailed OutcomeCode = "rollback_failed"
)

// Decision is the immutable result of evaluating a candidate against the
// gate policy
type Decision struct {
	Candidate      Candidate             `json:"candidate"`
	Classification semver.Classification `json:"classification"`
	Action         Action                `json:"action"`
	Verdict        Verdict               `json:"verdict"`
	Code           OutcomeCode           `json:"code"`

	// Safe is true only for auto-approved, valid upgrades
	Safe bool `json:"safe"`

	// Reason explains which rule fired, in human readable form
	Reason string `json:"reason"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// JobState is the lifecycle state of an update job
type JobState string

const (
	// JobStateQueued means the job is waiting for a concurrency slot or
	// for the update window to open
	JobStateQueued JobState = "queued"

	// JobStateRunning means the updater apply call is in progress
	JobStateRunning JobState = "running"

	// JobStateMonitoring means the job is polling health checks
	JobStateMonitoring JobState = "monitoring"

	// JobStateSucceeded is the successful terminal state
	JobStateSucceeded JobState = "succeeded"

	// JobStateRolledBack means the update failed and the revert succeeded
	JobStateRolledBack JobState = "rolled_back"

	// JobStateFailed is the unsuccessful terminal state
	JobStateFailed JobState = "failed"
)

// IsTerminal tells whether a job state is final
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateRolledBack, JobStateFailed:
		return true
	case JobStateQueued, JobStateRunning, JobStateMonitoring:
		return false
	}
	return false
}

// Priority orders jobs inside the queue. Higher values are dequeued first.
type Priority int

const (
	// PriorityNormal is the default queue priority
	PriorityNormal Priority = 0

	// PrioritySecurity is used for security patches, which jump the queue
	PrioritySecurity Priority = 10
)

// HealthSample is one recorded health verdict inside a monitoring window
type HealthSample struct {
	CheckKind  string    `json:"checkKind"`
	Passed     bool      `json:"passed"`
	LatencyMS  int64     `json:"latencyMs"`
	Message    string    `json:"message,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// Job is a queued or in-flight unit of work wrapping an approved decision.
// It is owned exclusively by the orchestrator.
type Job struct {
	ID       string   `json:"id"`
	Decision Decision `json:"decision"`
	State    JobState `json:"state"`
	Priority Priority `json:"priority"`

	// Force bypasses the update window check
	Force bool `json:"force,omitempty"`

	// DryRun reports a synthetic success without touching the asset
	DryRun bool `json:"dryRun,omitempty"`

	EnqueuedAt time.Time  `json:"enqueuedAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	// Outcome is set when the job reaches a terminal state
	Outcome OutcomeCode `json:"outcome,omitempty"`

	// Reason explains the outcome
	Reason string `json:"reason,omitempty"`

	// Health is the verdict history accumulated while monitoring
	Health []HealthSample `json:"health,omitempty"`
}

// Outcome is the terminal result of a job, kept in the history log
type Outcome struct {
	JobID       string      `json:"jobId"`
	AssetID     string      `json:"assetId"`
	Code        OutcomeCode `json:"code"`
	FromVersion string      `json:"fromVersion"`
	ToVersion   string      `json:"toVersion"`
	Reason      string      `json:"reason,omitempty"`
	StartedAt   time.Time   `json:"startedAt"`
	FinishedAt  time.Time   `json:"finishedAt"`
}

// RollbackEvent is an append-only record of a rollback attempt
type RollbackEvent struct {
	AssetID     string    `json:"assetId"`
	TriggeredAt time.Time `json:"triggeredAt"`
	Reason      string    `json:"reason"`
	FromVersion string    `json:"fromVersion"`
	ToVersion   string    `json:"toVersion"`

	// Succeeded reports whether the revert completed. It is false while
	// the event is recorded ahead of the revert call (write-then-act).
	Succeeded bool `json:"succeeded"`
}

// Errors surfaced by the engine. Callers are expected to match them with
// errors.Is.
var (
	// ErrInvalidCandidate is returned for malformed candidates
	ErrInvalidCandidate = errors.New("invalid update candidate")

	// ErrNotSafe is returned when enqueueing a decision that is not
	// auto-approved and no override flag is set
	ErrNotSafe = errors.New("decision is not safe for automatic execution")

	// ErrCapacityExceeded is returned when the queue is full
	ErrCapacityExceeded = errors.New("update capacity exceeded")

	// ErrConcurrentConflict is returned when a live job already holds the
	// lease for the same asset
	ErrConcurrentConflict = errors.New("another update is in progress for this asset")

	// ErrJobNotFound is returned by status lookups for unknown job IDs
	ErrJobNotFound = errors.New("update job not found")
)
