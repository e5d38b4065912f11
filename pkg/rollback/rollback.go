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

// Package rollback decides whether a failed update may be reverted
// automatically. Its only job is loop prevention: an asset that keeps
// being rolled back inside a sliding window is stuck in an
// update/rollback cycle and needs a human instead of another attempt.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

const (
	// DefaultWindow is the sliding window rollback attempts are counted in
	DefaultWindow = time.Hour

	// DefaultMaxAttempts is the number of rollbacks per asset tolerated
	// inside the window before loop prevention kicks in
	DefaultMaxAttempts = 3
)

// Errors returned by Authorize
var (
	// ErrDisabled means automatic rollback is switched off
	ErrDisabled = errors.New("automatic rollback is disabled")

	// ErrLoopDetected means the asset exceeded the rollback budget
	// inside the sliding window
	ErrLoopDetected = errors.New("rollback loop detected")
)

// EventStore persists the append-only rollback audit trail
type EventStore interface {
	// AppendRollback records a rollback attempt ahead of the revert
	// call and returns its identifier
	AppendRollback(ctx context.Context, event update.RollbackEvent) (int64, error)

	// MarkRollbackSucceeded flips the succeeded flag of a recorded
	// attempt once the revert completed
	MarkRollbackSucceeded(ctx context.Context, id int64) error

	// RollbackEventsSince lists the attempts recorded for an asset
	// after the given instant
	RollbackEventsSince(ctx context.Context, assetID string, since time.Time) ([]update.RollbackEvent, error)
}

// Manager gates and records automatic rollbacks
type Manager struct {
	store       EventStore
	window      time.Duration
	maxAttempts int
	enabled     bool
	log         log.Logger
}

// Config tunes the rollback manager. Zero values fall back to the
// defaults, and Enabled defaults to true.
type Config struct {
	Window      time.Duration
	MaxAttempts int
	Disabled    bool
}

// NewManager creates a rollback manager over the given audit store
func NewManager(store EventStore, config Config) *Manager {
	window := config.Window
	if window <= 0 {
		window = DefaultWindow
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Manager{
		store:       store,
		window:      window,
		maxAttempts: maxAttempts,
		enabled:     !config.Disabled,
		log:         log.WithName("rollback"),
	}
}

// IsLoop tells whether the asset already consumed its rollback budget
// inside the sliding window
func (m *Manager) IsLoop(ctx context.Context, assetID string) (bool, error) {
	since := time.Now().Add(-m.window)
	events, err := m.store.RollbackEventsSince(ctx, assetID, since)
	if err != nil {
		return false, fmt.Errorf("cannot count rollback events for %q: %w", assetID, err)
	}
	return len(events) >= m.maxAttempts, nil
}

// Authorize checks whether an automatic rollback may proceed for the
// asset. Loop prevention dominates: even an otherwise allowed rollback
// is denied once the budget is spent.
func (m *Manager) Authorize(ctx context.Context, assetID string) error {
	if !m.enabled {
		return ErrDisabled
	}

	loop, err := m.IsLoop(ctx, assetID)
	if err != nil {
		return err
	}
	if loop {
		m.log.Warning("Denying rollback, asset is looping",
			"assetID", assetID, "window", m.window, "maxAttempts", m.maxAttempts)
		return fmt.Errorf("%w: %d or more rollbacks for %q within %v",
			ErrLoopDetected, m.maxAttempts, assetID, m.window)
	}
	return nil
}

// Begin records the rollback attempt before the revert is executed, so
// a crash mid-revert still leaves the attempt in the audit trail
func (m *Manager) Begin(ctx context.Context, event update.RollbackEvent) (int64, error) {
	if event.TriggeredAt.IsZero() {
		event.TriggeredAt = time.Now()
	}
	event.Succeeded = false

	id, err := m.store.AppendRollback(ctx, event)
	if err != nil {
		return 0, fmt.Errorf("cannot record rollback for %q: %w", event.AssetID, err)
	}

	m.log.Info("Rollback started",
		"assetID", event.AssetID,
		"fromVersion", event.FromVersion,
		"toVersion", event.ToVersion,
		"reason", event.Reason)
	return id, nil
}

// Complete marks a recorded rollback attempt as succeeded
func (m *Manager) Complete(ctx context.Context, id int64) error {
	return m.store.MarkRollbackSucceeded(ctx, id)
}
