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

package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/health"
	"github.com/sentinel-updater/sentinel-updater/pkg/orchestrator"
	"github.com/sentinel-updater/sentinel-updater/pkg/rollback"
	"github.com/sentinel-updater/sentinel-updater/pkg/store"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
	"github.com/sentinel-updater/sentinel-updater/pkg/updater"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

type nullBackend struct{}

func (nullBackend) Name() string { return "null" }

func (nullBackend) Apply(_ context.Context, _ update.Asset, _ string) updater.Outcome {
	return updater.Outcome{Status: updater.StatusSucceeded}
}

func (nullBackend) Revert(_ context.Context, _ update.Asset, _ string) updater.Outcome {
	return updater.Outcome{Status: updater.StatusSucceeded}
}

type apiHarness struct {
	server *Server
	cancel context.CancelFunc
}

func newAPIHarness() *apiHarness {
	memory := store.NewMemoryStore()
	router := updater.NewRouter()
	router.Register(nullBackend{}, update.AssetTypeDeployment, update.AssetTypeContainer)

	engine := orchestrator.New(orchestrator.Config{
		MonitoringDuration: 30 * time.Millisecond,
		PollInterval:       10 * time.Millisecond,
		DefaultChecks: []health.CheckSpec{{
			Kind:             health.CheckKindExec,
			Exec:             &health.ExecCheck{Command: "true"},
			MaxAttempts:      1,
			BaseDelaySeconds: 1,
		}},
	}, memory, router, health.NewChecker(nil), rollback.NewManager(memory, rollback.Config{}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = engine.Run(ctx)
	}()

	server, err := New(":0", engine, "t0ken")
	Expect(err).ToNot(HaveOccurred())
	return &apiHarness{server: server, cancel: cancel}
}

func (h *apiHarness) request(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buffer bytes.Buffer
	if body != nil {
		Expect(json.NewEncoder(&buffer).Encode(body)).To(Succeed())
	}
	request := httptest.NewRequest(method, path, &buffer)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(recorder, request)
	return recorder
}

func patchCandidate() update.Candidate {
	return update.Candidate{
		Asset: update.Asset{
			ID: "prod/api", Name: "api", Namespace: "prod", Type: update.AssetTypeDeployment,
		},
		CurrentVersion:  "1.2.3",
		ProposedVersion: "1.2.4",
	}
}

var _ = Describe("Authentication", func() {
	It("rejects requests without the bearer token", func() {
		h := newAPIHarness()
		defer h.cancel()

		recorder := h.request(http.MethodGet, "/v1/history", "", nil)
		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))

		recorder = h.request(http.MethodGet, "/v1/history", "wrong", nil)
		Expect(recorder.Code).To(Equal(http.StatusUnauthorized))
	})

	It("leaves the health and metrics endpoints open", func() {
		h := newAPIHarness()
		defer h.cancel()

		Expect(h.request(http.MethodGet, "/healthz", "", nil).Code).To(Equal(http.StatusOK))
		Expect(h.request(http.MethodGet, "/readyz", "", nil).Code).To(Equal(http.StatusOK))
		Expect(h.request(http.MethodGet, "/metrics", "", nil).Code).To(Equal(http.StatusOK))
		Expect(h.request(http.MethodGet, "/version", "", nil).Code).To(Equal(http.StatusOK))
	})

	It("generates a token when none is configured", func() {
		memory := store.NewMemoryStore()
		engine := orchestrator.New(orchestrator.Config{}, memory, updater.NewRouter(),
			health.NewChecker(nil), rollback.NewManager(memory, rollback.Config{}))

		server, err := New(":0", engine, "")
		Expect(err).ToNot(HaveOccurred())
		Expect(server.Token()).ToNot(BeEmpty())
	})
})

var _ = Describe("Evaluating candidates over HTTP", func() {
	It("returns the decision for a valid candidate", func() {
		h := newAPIHarness()
		defer h.cancel()

		recorder := h.request(http.MethodPost, "/v1/updates/evaluate", "t0ken",
			map[string]interface{}{"candidate": patchCandidate()})
		Expect(recorder.Code).To(Equal(http.StatusOK))

		var decision update.Decision
		Expect(json.Unmarshal(recorder.Body.Bytes(), &decision)).To(Succeed())
		Expect(decision.Verdict).To(Equal(update.VerdictApprove))
		Expect(decision.Safe).To(BeTrue())
	})

	It("rejects malformed candidates", func() {
		h := newAPIHarness()
		defer h.cancel()

		recorder := h.request(http.MethodPost, "/v1/updates/evaluate", "t0ken",
			map[string]interface{}{"candidate": update.Candidate{}})
		Expect(recorder.Code).To(Equal(http.StatusUnprocessableEntity))
	})

	It("rejects malformed JSON", func() {
		h := newAPIHarness()
		defer h.cancel()

		request := httptest.NewRequest(http.MethodPost, "/v1/updates/evaluate",
			bytes.NewBufferString("{not json"))
		request.Header.Set("Authorization", "Bearer t0ken")
		recorder := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(recorder, request)
		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})

	It("only accepts POST", func() {
		h := newAPIHarness()
		defer h.cancel()

		recorder := h.request(http.MethodGet, "/v1/updates/evaluate", "t0ken", nil)
		Expect(recorder.Code).To(Equal(http.StatusMethodNotAllowed))
	})
})

var _ = Describe("Enqueueing updates over HTTP", func() {
	It("accepts a safe candidate and exposes its job", func() {
		h := newAPIHarness()
		defer h.cancel()

		recorder := h.request(http.MethodPost, "/v1/updates/enqueue", "t0ken",
			map[string]interface{}{"candidate": patchCandidate()})
		Expect(recorder.Code).To(Equal(http.StatusAccepted))

		var job update.Job
		Expect(json.Unmarshal(recorder.Body.Bytes(), &job)).To(Succeed())
		Expect(job.ID).ToNot(BeEmpty())

		Eventually(func() update.JobState {
			status := h.request(http.MethodGet, "/v1/updates/"+job.ID, "t0ken", nil)
			var current update.Job
			Expect(json.Unmarshal(status.Body.Bytes(), &current)).To(Succeed())
			return current.State
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(update.JobStateSucceeded))

		history := h.request(http.MethodGet, "/v1/history", "t0ken", nil)
		Expect(history.Code).To(Equal(http.StatusOK))
		var outcomes []update.Outcome
		Expect(json.Unmarshal(history.Body.Bytes(), &outcomes)).To(Succeed())
		Expect(outcomes).To(HaveLen(1))
	})

	It("refuses candidates the gate does not auto-approve", func() {
		h := newAPIHarness()
		defer h.cancel()

		candidate := patchCandidate()
		candidate.ProposedVersion = "2.0.0"

		recorder := h.request(http.MethodPost, "/v1/updates/enqueue", "t0ken",
			map[string]interface{}{"candidate": candidate})
		Expect(recorder.Code).To(Equal(http.StatusConflict))
	})

	It("accepts gated candidates when forced", func() {
		h := newAPIHarness()
		defer h.cancel()

		candidate := patchCandidate()
		candidate.ProposedVersion = "2.0.0"

		recorder := h.request(http.MethodPost, "/v1/updates/enqueue", "t0ken",
			map[string]interface{}{"candidate": candidate, "force": true})
		Expect(recorder.Code).To(Equal(http.StatusAccepted))
	})

	It("returns 404 for unknown jobs", func() {
		h := newAPIHarness()
		defer h.cancel()

		recorder := h.request(http.MethodGet, "/v1/updates/no-such-job", "t0ken", nil)
		Expect(recorder.Code).To(Equal(http.StatusNotFound))
	})

	It("filters the history by asset", func() {
		h := newAPIHarness()
		defer h.cancel()

		recorder := h.request(http.MethodPost, "/v1/updates/enqueue", "t0ken",
			map[string]interface{}{"candidate": patchCandidate()})
		Expect(recorder.Code).To(Equal(http.StatusAccepted))

		var job update.Job
		Expect(json.Unmarshal(recorder.Body.Bytes(), &job)).To(Succeed())
		Eventually(func() update.JobState {
			status := h.request(http.MethodGet, "/v1/updates/"+job.ID, "t0ken", nil)
			var current update.Job
			Expect(json.Unmarshal(status.Body.Bytes(), &current)).To(Succeed())
			return current.State
		}, 5*time.Second, 20*time.Millisecond).Should(Equal(update.JobStateSucceeded))

		var outcomes []update.Outcome
		matching := h.request(http.MethodGet, "/v1/history?asset=prod%2Fapi", "t0ken", nil)
		Expect(json.Unmarshal(matching.Body.Bytes(), &outcomes)).To(Succeed())
		Expect(outcomes).To(HaveLen(1))

		other := h.request(http.MethodGet, "/v1/history?asset=prod%2Fweb", "t0ken", nil)
		Expect(json.Unmarshal(other.Body.Bytes(), &outcomes)).To(Succeed())
		Expect(outcomes).To(BeEmpty())
	})

	It("validates the history limit", func() {
		h := newAPIHarness()
		defer h.cancel()

		recorder := h.request(http.MethodGet, "/v1/history?limit=0", "t0ken", nil)
		Expect(recorder.Code).To(Equal(http.StatusBadRequest))

		recorder = h.request(http.MethodGet, "/v1/history?limit=nope", "t0ken", nil)
		Expect(recorder.Code).To(Equal(http.StatusBadRequest))
	})
})
