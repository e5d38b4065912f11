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
	"fmt"
	"sync"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// MemoryStore keeps everything in process memory. State is lost on
// restart, which also clears every lease.
type MemoryStore struct {
	mutex     sync.Mutex
	jobs      map[string]update.Job
	leases    map[string]string
	outcomes  []update.Outcome
	rollbacks []update.RollbackEvent
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]update.Job),
		leases: make(map[string]string),
	}
}

// SaveJob implements the Store interface
func (m *MemoryStore) SaveJob(_ context.Context, job *update.Job) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.jobs[job.ID] = *job
	return nil
}

// Job implements the Store interface
func (m *MemoryStore) Job(_ context.Context, id string) (*update.Job, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	job, found := m.jobs[id]
	if !found {
		return nil, fmt.Errorf("%w: %s", update.ErrJobNotFound, id)
	}
	return &job, nil
}

// LiveJobs implements the Store interface
func (m *MemoryStore) LiveJobs(_ context.Context) ([]*update.Job, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var live []*update.Job
	for id := range m.jobs {
		job := m.jobs[id]
		if !job.State.IsTerminal() {
			live = append(live, &job)
		}
	}
	return live, nil
}

// AcquireLease implements the Store interface
func (m *MemoryStore) AcquireLease(_ context.Context, assetID, jobID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	holder, held := m.leases[assetID]
	if held && holder != jobID {
		return fmt.Errorf("%w: asset %s locked by job %s", update.ErrConcurrentConflict, assetID, holder)
	}
	m.leases[assetID] = jobID
	return nil
}

// ReleaseLease implements the Store interface
func (m *MemoryStore) ReleaseLease(_ context.Context, assetID, jobID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.leases[assetID] == jobID {
		delete(m.leases, assetID)
	}
	return nil
}

// AppendOutcome implements the Store interface
func (m *MemoryStore) AppendOutcome(_ context.Context, outcome update.Outcome) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.outcomes = append(m.outcomes, outcome)
	return nil
}

// Outcomes implements the Store interface
func (m *MemoryStore) Outcomes(_ context.Context, assetID string, limit int) ([]update.Outcome, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	result := make([]update.Outcome, 0, len(m.outcomes))
	for i := len(m.outcomes) - 1; i >= 0; i-- {
		if limit > 0 && len(result) >= limit {
			break
		}
		if assetID != "" && m.outcomes[i].AssetID != assetID {
			continue
		}
		result = append(result, m.outcomes[i])
	}
	return result, nil
}

// AppendRollback implements the Store interface
func (m *MemoryStore) AppendRollback(_ context.Context, event update.RollbackEvent) (int64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.rollbacks = append(m.rollbacks, event)
	return int64(len(m.rollbacks) - 1), nil
}

// MarkRollbackSucceeded implements the Store interface
func (m *MemoryStore) MarkRollbackSucceeded(_ context.Context, id int64) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if id < 0 || id >= int64(len(m.rollbacks)) {
		return fmt.Errorf("unknown rollback event %d", id)
	}
	m.rollbacks[id].Succeeded = true
	return nil
}

// RollbackEventsSince implements the Store interface
func (m *MemoryStore) RollbackEventsSince(
	_ context.Context, assetID string, since time.Time,
) ([]update.RollbackEvent, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var result []update.RollbackEvent
	for _, event := range m.rollbacks {
		if event.AssetID == assetID && event.TriggeredAt.After(since) {
			result = append(result, event)
		}
	}
	return result, nil
}
