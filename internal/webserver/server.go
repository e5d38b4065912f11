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

// Package webserver exposes the engine over HTTP: candidate evaluation,
// job submission and inspection, the outcome history, health endpoints
// and the Prometheus registry
package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-password/password"

	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/metrics"
	"github.com/sentinel-updater/sentinel-updater/pkg/orchestrator"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
	"github.com/sentinel-updater/sentinel-updater/pkg/versions"
)

const (
	readTimeout     = 10 * time.Second
	shutdownTimeout = 15 * time.Second
	defaultHistory  = 50
	maxHistory      = 1000
)

// Server is the HTTP surface of the engine
type Server struct {
	orchestrator *orchestrator.Orchestrator
	token        string
	server       *http.Server
	log          log.Logger
}

// New creates a server bound to the given address. An empty token makes
// the server generate a random one, returned by Token.
func New(
	listenAddress string,
	engine *orchestrator.Orchestrator,
	token string,
) (*Server, error) {
	if token == "" {
		generated, err := password.Generate(32, 10, 0, false, false)
		if err != nil {
			return nil, fmt.Errorf("cannot generate API token: %w", err)
		}
		token = generated
	}

	webServer := &Server{
		orchestrator: engine,
		token:        token,
		log:          log.WithName("webserver"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", webServer.handleHealthz)
	mux.HandleFunc("/readyz", webServer.handleHealthz)
	mux.HandleFunc("/version", webServer.handleVersion)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/updates/evaluate", webServer.authenticated(webServer.handleEvaluate))
	mux.HandleFunc("/v1/updates/enqueue", webServer.authenticated(webServer.handleEnqueue))
	mux.HandleFunc("/v1/updates/", webServer.authenticated(webServer.handleJobStatus))
	mux.HandleFunc("/v1/history", webServer.authenticated(webServer.handleHistory))

	webServer.server = &http.Server{
		Addr:        listenAddress,
		Handler:     mux,
		ReadTimeout: readTimeout,
	}

	return webServer, nil
}

// Token returns the bearer token protecting the v1 endpoints
func (s *Server) Token() string {
	return s.token
}

// Handler exposes the routing table, used by tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves requests until the context is cancelled, then drains
// in-flight requests
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Web server listening", "address", s.server.Addr)
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// authenticated guards a handler with the bearer token
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versions.GetInfo())
}

// evaluateRequest is the body of POST /v1/updates/evaluate
type evaluateRequest struct {
	Candidate update.Candidate `json:"candidate"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}

	var request evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	decision, err := s.orchestrator.Submit(request.Candidate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

// enqueueRequest is the body of POST /v1/updates/enqueue
type enqueueRequest struct {
	Candidate update.Candidate `json:"candidate"`
	Security  bool             `json:"security,omitempty"`
	Force     bool             `json:"force,omitempty"`
	DryRun    bool             `json:"dryRun,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}

	var request enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}

	decision, err := s.orchestrator.Submit(request.Candidate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	priority := update.PriorityNormal
	if request.Security {
		priority = update.PrioritySecurity
	}

	job, err := s.orchestrator.Enqueue(r.Context(), decision, orchestrator.EnqueueOptions{
		Priority: priority,
		Force:    request.Force,
		DryRun:   request.DryRun,
	})
	switch {
	case errors.Is(err, update.ErrNotSafe):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":    err.Error(),
			"decision": decision,
		})
		return
	case errors.Is(err, update.ErrCapacityExceeded):
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/v1/updates/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusNotFound, "unknown resource")
		return
	}

	job, err := s.orchestrator.Status(r.Context(), jobID)
	if errors.Is(err, update.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "use GET")
		return
	}

	limit := defaultHistory
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxHistory {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("limit must be an integer between 1 and %d", maxHistory))
			return
		}
		limit = parsed
	}

	outcomes, err := s.orchestrator.History(r.Context(), r.URL.Query().Get("asset"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []update.Outcome{}
	}
	writeJSON(w, http.StatusOK, outcomes)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
