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
	"errors"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/update"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func testJob(id, assetID string, state update.JobState) *update.Job {
	return &update.Job{
		ID:    id,
		State: state,
		Decision: update.Decision{
			Candidate: update.Candidate{
				Asset: update.Asset{ID: assetID, Name: assetID, Type: update.AssetTypeDeployment},
			},
		},
		EnqueuedAt: time.Now(),
	}
}

var _ = Describe("In-memory job storage", func() {
	ctx := context.Background()

	It("round-trips jobs", func() {
		memory := NewMemoryStore()
		Expect(memory.SaveJob(ctx, testJob("job-1", "prod/api", update.JobStateQueued))).To(Succeed())

		job, err := memory.Job(ctx, "job-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(job.State).To(Equal(update.JobStateQueued))
	})

	It("reports missing jobs with the sentinel error", func() {
		memory := NewMemoryStore()
		_, err := memory.Job(ctx, "nope")
		Expect(errors.Is(err, update.ErrJobNotFound)).To(BeTrue())
	})

	It("returns copies, not aliases", func() {
		memory := NewMemoryStore()
		Expect(memory.SaveJob(ctx, testJob("job-1", "prod/api", update.JobStateQueued))).To(Succeed())

		job, err := memory.Job(ctx, "job-1")
		Expect(err).ToNot(HaveOccurred())
		job.State = update.JobStateFailed

		again, err := memory.Job(ctx, "job-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(again.State).To(Equal(update.JobStateQueued))
	})

	It("lists only non-terminal jobs as live", func() {
		memory := NewMemoryStore()
		Expect(memory.SaveJob(ctx, testJob("job-1", "prod/api", update.JobStateRunning))).To(Succeed())
		Expect(memory.SaveJob(ctx, testJob("job-2", "prod/worker", update.JobStateSucceeded))).To(Succeed())
		Expect(memory.SaveJob(ctx, testJob("job-3", "prod/cache", update.JobStateMonitoring))).To(Succeed())

		live, err := memory.LiveJobs(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(live).To(HaveLen(2))
	})
})

var _ = Describe("In-memory leases", func() {
	ctx := context.Background()

	It("grants a free lease", func() {
		memory := NewMemoryStore()
		Expect(memory.AcquireLease(ctx, "prod/api", "job-1")).To(Succeed())
	})

	It("is idempotent for the holder", func() {
		memory := NewMemoryStore()
		Expect(memory.AcquireLease(ctx, "prod/api", "job-1")).To(Succeed())
		Expect(memory.AcquireLease(ctx, "prod/api", "job-1")).To(Succeed())
	})

	It("rejects a second holder", func() {
		memory := NewMemoryStore()
		Expect(memory.AcquireLease(ctx, "prod/api", "job-1")).To(Succeed())
		err := memory.AcquireLease(ctx, "prod/api", "job-2")
		Expect(errors.Is(err, update.ErrConcurrentConflict)).To(BeTrue())
	})

	It("frees the lease on release", func() {
		memory := NewMemoryStore()
		Expect(memory.AcquireLease(ctx, "prod/api", "job-1")).To(Succeed())
		Expect(memory.ReleaseLease(ctx, "prod/api", "job-1")).To(Succeed())
		Expect(memory.AcquireLease(ctx, "prod/api", "job-2")).To(Succeed())
	})

	It("ignores releases from non-holders", func() {
		memory := NewMemoryStore()
		Expect(memory.AcquireLease(ctx, "prod/api", "job-1")).To(Succeed())
		Expect(memory.ReleaseLease(ctx, "prod/api", "job-2")).To(Succeed())
		err := memory.AcquireLease(ctx, "prod/api", "job-3")
		Expect(errors.Is(err, update.ErrConcurrentConflict)).To(BeTrue())
	})
})

var _ = Describe("In-memory history", func() {
	ctx := context.Background()

	It("lists outcomes newest first", func() {
		memory := NewMemoryStore()
		for _, id := range []string{"job-1", "job-2", "job-3"} {
			Expect(memory.AppendOutcome(ctx, update.Outcome{JobID: id, Code: update.CodeSucceeded})).To(Succeed())
		}

		outcomes, err := memory.Outcomes(ctx, "", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(outcomes).To(HaveLen(3))
		Expect(outcomes[0].JobID).To(Equal("job-3"))
	})

	It("honors the limit", func() {
		memory := NewMemoryStore()
		for _, id := range []string{"job-1", "job-2", "job-3"} {
			Expect(memory.AppendOutcome(ctx, update.Outcome{JobID: id, Code: update.CodeSucceeded})).To(Succeed())
		}

		outcomes, err := memory.Outcomes(ctx, "", 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(outcomes).To(HaveLen(2))
		Expect(outcomes[0].JobID).To(Equal("job-3"))
	})

	It("filters by asset", func() {
		memory := NewMemoryStore()
		Expect(memory.AppendOutcome(ctx, update.Outcome{JobID: "job-1", AssetID: "prod/api"})).To(Succeed())
		Expect(memory.AppendOutcome(ctx, update.Outcome{JobID: "job-2", AssetID: "prod/web"})).To(Succeed())
		Expect(memory.AppendOutcome(ctx, update.Outcome{JobID: "job-3", AssetID: "prod/api"})).To(Succeed())

		outcomes, err := memory.Outcomes(ctx, "prod/api", 0)
		Expect(err).ToNot(HaveOccurred())
		Expect(outcomes).To(HaveLen(2))
		Expect(outcomes[0].JobID).To(Equal("job-3"))
		Expect(outcomes[1].JobID).To(Equal("job-1"))
	})
})

var _ = Describe("In-memory rollback audit", func() {
	ctx := context.Background()

	It("filters events by asset and window", func() {
		memory := NewMemoryStore()
		_, err := memory.AppendRollback(ctx, update.RollbackEvent{
			AssetID: "prod/api", TriggeredAt: time.Now(),
		})
		Expect(err).ToNot(HaveOccurred())
		_, err = memory.AppendRollback(ctx, update.RollbackEvent{
			AssetID: "prod/api", TriggeredAt: time.Now().Add(-2 * time.Hour),
		})
		Expect(err).ToNot(HaveOccurred())
		_, err = memory.AppendRollback(ctx, update.RollbackEvent{
			AssetID: "prod/worker", TriggeredAt: time.Now(),
		})
		Expect(err).ToNot(HaveOccurred())

		events, err := memory.RollbackEventsSince(ctx, "prod/api", time.Now().Add(-time.Hour))
		Expect(err).ToNot(HaveOccurred())
		Expect(events).To(HaveLen(1))
	})

	It("marks attempts as succeeded", func() {
		memory := NewMemoryStore()
		id, err := memory.AppendRollback(ctx, update.RollbackEvent{
			AssetID: "prod/api", TriggeredAt: time.Now(),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(memory.MarkRollbackSucceeded(ctx, id)).To(Succeed())

		events, err := memory.RollbackEventsSince(ctx, "prod/api", time.Now().Add(-time.Minute))
		Expect(err).ToNot(HaveOccurred())
		Expect(events[0].Succeeded).To(BeTrue())
	})

	It("rejects unknown event IDs", func() {
		memory := NewMemoryStore()
		Expect(memory.MarkRollbackSucceeded(ctx, 42)).To(HaveOccurred())
	})
})
