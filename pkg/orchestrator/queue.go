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

package orchestrator

import (
	"context"
	"sync"

	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// jobQueue is a bounded priority queue. Higher priority jobs are
// dequeued first, same priority jobs keep their enqueue order.
type jobQueue struct {
	mutex    sync.Mutex
	items    []*update.Job
	capacity int
	notify   chan struct{}
}

func newJobQueue(capacity int) *jobQueue {
	return &jobQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push inserts a job keeping the priority order, and fails with
// update.ErrCapacityExceeded when the queue is full
func (q *jobQueue) push(job *update.Job) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		return update.ErrCapacityExceeded
	}

	// insert after the last item with priority >= job's, so equal
	// priorities stay FIFO
	position := len(q.items)
	for position > 0 && q.items[position-1].Priority < job.Priority {
		position--
	}
	q.items = append(q.items, nil)
	copy(q.items[position+1:], q.items[position:])
	q.items[position] = job

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks until a job is available or the context is cancelled
func (q *jobQueue) pop(ctx context.Context) (*update.Job, error) {
	for {
		q.mutex.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mutex.Unlock()
			if remaining > 0 {
				// wake up another waiter, one notification may cover
				// several pushes
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return job, nil
		}
		q.mutex.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// contains reports whether a job with the given ID is queued
func (q *jobQueue) contains(jobID string) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for _, item := range q.items {
		if item.ID == jobID {
			return true
		}
	}
	return false
}

// depth returns the number of queued jobs
func (q *jobQueue) depth() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}
