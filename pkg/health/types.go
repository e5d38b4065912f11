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

// Package health executes health checks against updated assets. Four
// check kinds are supported: HTTP endpoints, TCP ports, command
// execution and the readiness signal of the orchestration platform.
// A probe failure is always reported as a failed verdict, never as an
// error: the caller decides the consequence.
package health

import (
	"context"
	"time"
)

// CheckKind discriminates the supported health check kinds
type CheckKind string

const (
	// CheckKindHTTP probes an HTTP endpoint
	CheckKindHTTP CheckKind = "http"

	// CheckKindTCP probes a TCP port
	CheckKindTCP CheckKind = "tcp"

	// CheckKindExec runs a command and checks its exit code
	CheckKindExec CheckKind = "exec"

	// CheckKindPlatform delegates to the platform readiness signal,
	// e.g. ready replicas versus desired replicas
	CheckKindPlatform CheckKind = "platform"
)

// HTTPCheck probes an HTTP endpoint
type HTTPCheck struct {
	// URL is the endpoint to probe
	URL string `json:"url"`

	// Method defaults to GET
	Method string `json:"method,omitempty"`

	// Headers are added to the request
	Headers map[string]string `json:"headers,omitempty"`

	// ExpectedStatus is the lower bound of the accepted status range;
	// any status in [ExpectedStatus, ExpectedStatus+100) passes.
	// Defaults to 200.
	ExpectedStatus int `json:"expectedStatus,omitempty"`

	// TimeoutSeconds bounds a single request, default 30
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// TCPCheck probes a TCP port
type TCPCheck struct {
	// Address is the host:port to connect to
	Address string `json:"address"`

	// TimeoutSeconds bounds the connection attempt, default 10
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// ExecCheck runs a command against the target's execution context
type ExecCheck struct {
	// Command is a shell-quoted command line, split with shellquote
	Command string `json:"command"`

	// ExpectedExitCode defaults to 0
	ExpectedExitCode int `json:"expectedExitCode,omitempty"`

	// TimeoutSeconds bounds a single run, default 30
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`
}

// PlatformCheck delegates to the platform readiness source configured
// on the Checker
type PlatformCheck struct {
	// MinimumReadyPercent is the ready/desired ratio required to pass,
	// default 100
	MinimumReadyPercent int `json:"minimumReadyPercent,omitempty"`
}

// CheckSpec describes one health check including its retry policy
type CheckSpec struct {
	Kind CheckKind `json:"kind"`

	HTTP     *HTTPCheck     `json:"http,omitempty"`
	TCP      *TCPCheck      `json:"tcp,omitempty"`
	Exec     *ExecCheck     `json:"exec,omitempty"`
	Platform *PlatformCheck `json:"platform,omitempty"`

	// MaxAttempts is the number of attempts before the check is
	// reported as failed, default 3
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// BaseDelaySeconds is the initial backoff delay between attempts,
	// doubled after every failure, default 1
	BaseDelaySeconds int `json:"baseDelaySeconds,omitempty"`
}

// Target locates the asset a platform or exec check runs against
type Target struct {
	Namespace string
	Name      string
	AssetType string
}

// Verdict is the result of one health check invocation
type Verdict struct {
	CheckKind  CheckKind     `json:"checkKind"`
	Passed     bool          `json:"passed"`
	Latency    time.Duration `json:"-"`
	LatencyMS  int64         `json:"latencyMs"`
	Message    string        `json:"message,omitempty"`
	ObservedAt time.Time     `json:"observedAt"`
}

// Readiness is a snapshot of the platform readiness signal
type Readiness struct {
	ReadyReplicas   int32
	DesiredReplicas int32
}

// Percent returns the ready ratio as a percentage; zero when there is
// nothing to observe
func (r Readiness) Percent() float64 {
	if r.DesiredReplicas == 0 {
		return 0
	}
	return float64(r.ReadyReplicas) / float64(r.DesiredReplicas) * 100
}

// ReadinessSource supplies the platform readiness signal for an asset.
// The Kubernetes implementation lives in pkg/platform.
type ReadinessSource interface {
	Readiness(ctx context.Context, target Target) (Readiness, error)
}

// Percentage computes the share of passed verdicts in a window. An
// empty window counts as zero: "not yet evaluated" is a failing state.
func Percentage(verdicts []Verdict) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	passed := 0
	for _, v := range verdicts {
		if v.Passed {
			passed++
		}
	}
	return float64(passed) / float64(len(verdicts)) * 100
}

// FailureRatio computes the share of failed verdicts in a window. An
// empty window counts as fully failed for safety.
func FailureRatio(verdicts []Verdict) float64 {
	if len(verdicts) == 0 {
		return 1
	}
	failed := 0
	for _, v := range verdicts {
		if !v.Passed {
			failed++
		}
	}
	return float64(failed) / float64(len(verdicts))
}
