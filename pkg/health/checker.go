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

package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
)

const (
	defaultMaxAttempts      = 3
	defaultBaseDelaySeconds = 1
	defaultHTTPTimeout      = 30 * time.Second
	defaultTCPTimeout       = 10 * time.Second
	defaultExecTimeout      = 30 * time.Second
	backoffFactor           = 2.0
	backoffJitter           = 0.1
)

// Checker executes health checks with retry and backoff
type Checker struct {
	source ReadinessSource
	client *http.Client
	log    log.Logger
}

// NewChecker creates a health checker. The readiness source may be nil
// when no platform checks are configured.
func NewChecker(source ReadinessSource) *Checker {
	return &Checker{
		source: source,
		client: &http.Client{},
		log:    log.WithName("health"),
	}
}

// Check runs one health check with the retry policy of its spec. The
// returned verdict reflects the first passing attempt, or the last
// failing one when every attempt failed.
func (c *Checker) Check(ctx context.Context, target Target, spec CheckSpec) Verdict {
	attempts := spec.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	baseDelay := time.Duration(spec.BaseDelaySeconds) * time.Second
	if baseDelay <= 0 {
		baseDelay = time.Duration(defaultBaseDelaySeconds) * time.Second
	}

	backoff := wait.Backoff{
		Steps:    attempts,
		Duration: baseDelay,
		Factor:   backoffFactor,
		Jitter:   backoffJitter,
	}

	var verdict Verdict
	for attempt := 0; attempt < attempts; attempt++ {
		verdict = c.runOnce(ctx, target, spec)
		if verdict.Passed {
			return verdict
		}

		c.log.Debug("Health check attempt failed",
			"kind", spec.Kind, "attempt", attempt+1, "message", verdict.Message)

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return verdict
		case <-time.After(backoff.Step()):
		}
	}

	return verdict
}

// CheckAll runs every configured check once (with per-check retries)
// and returns one verdict per check, in order
func (c *Checker) CheckAll(ctx context.Context, target Target, specs []CheckSpec) []Verdict {
	verdicts := make([]Verdict, 0, len(specs))
	for _, spec := range specs {
		verdicts = append(verdicts, c.Check(ctx, target, spec))
	}
	return verdicts
}

// WaitForHealthy polls the configured checks until the required number
// of consecutive all-pass rounds is observed, or the timeout elapses.
// An empty check list never becomes healthy.
func (c *Checker) WaitForHealthy(
	ctx context.Context,
	target Target,
	specs []CheckSpec,
	timeout time.Duration,
	pollInterval time.Duration,
	requiredConsecutive int,
) bool {
	if len(specs) == 0 {
		return false
	}
	if requiredConsecutive <= 0 {
		requiredConsecutive = 1
	}

	deadline := time.Now().Add(timeout)
	consecutive := 0

	for {
		verdicts := c.CheckAll(ctx, target, specs)
		allPassed := true
		for _, v := range verdicts {
			if !v.Passed {
				allPassed = false
				break
			}
		}

		if allPassed {
			consecutive++
			if consecutive >= requiredConsecutive {
				return true
			}
		} else {
			consecutive = 0
		}

		if time.Now().Add(pollInterval).After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
}

// runOnce executes a single attempt of a check. Internal errors are
// converted into failed verdicts.
func (c *Checker) runOnce(ctx context.Context, target Target, spec CheckSpec) Verdict {
	start := time.Now()

	var passed bool
	var message string

	switch spec.Kind {
	case CheckKindHTTP:
		passed, message = c.checkHTTP(ctx, spec.HTTP)
	case CheckKindTCP:
		passed, message = c.checkTCP(spec.TCP)
	case CheckKindExec:
		passed, message = c.checkExec(ctx, spec.Exec)
	case CheckKindPlatform:
		passed, message = c.checkPlatform(ctx, target, spec.Platform)
	default:
		passed, message = false, fmt.Sprintf("unknown health check kind %q", spec.Kind)
	}

	latency := time.Since(start)
	return Verdict{
		CheckKind:  spec.Kind,
		Passed:     passed,
		Latency:    latency,
		LatencyMS:  latency.Milliseconds(),
		Message:    message,
		ObservedAt: time.Now(),
	}
}

func (c *Checker) checkHTTP(ctx context.Context, spec *HTTPCheck) (bool, string) {
	if spec == nil {
		return false, "http check is missing its configuration"
	}

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := defaultHTTPTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	expected := spec.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, spec.URL, nil)
	if err != nil {
		return false, fmt.Sprintf("invalid request: %v", err)
	}
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= expected && resp.StatusCode < expected+100 {
		return true, fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return false, fmt.Sprintf("unexpected status %d, wanted [%d,%d)", resp.StatusCode, expected, expected+100)
}

func (c *Checker) checkTCP(spec *TCPCheck) (bool, string) {
	if spec == nil {
		return false, "tcp check is missing its configuration"
	}

	timeout := defaultTCPTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}

	conn, err := net.DialTimeout("tcp", spec.Address, timeout)
	if err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	_ = conn.Close()
	return true, fmt.Sprintf("port %s reachable", spec.Address)
}

func (c *Checker) checkExec(ctx context.Context, spec *ExecCheck) (bool, string) {
	if spec == nil {
		return false, "exec check is missing its configuration"
	}

	args, err := shellquote.Split(spec.Command)
	if err != nil || len(args) == 0 {
		return false, fmt.Sprintf("cannot parse command %q: %v", spec.Command, err)
	}

	timeout := defaultExecTimeout
	if spec.TimeoutSeconds > 0 {
		timeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, args[0], args[1:]...) //#nosec
	err = cmd.Run()

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return false, fmt.Sprintf("command did not run: %v", err)
		}
		exitCode = exitErr.ExitCode()
	}

	if exitCode == spec.ExpectedExitCode {
		return true, fmt.Sprintf("exit code %d", exitCode)
	}
	return false, fmt.Sprintf("exit code %d, wanted %d", exitCode, spec.ExpectedExitCode)
}

func (c *Checker) checkPlatform(ctx context.Context, target Target, spec *PlatformCheck) (bool, string) {
	if c.source == nil {
		return false, "no platform readiness source configured"
	}

	minimum := 100
	if spec != nil && spec.MinimumReadyPercent > 0 {
		minimum = spec.MinimumReadyPercent
	}

	readiness, err := c.source.Readiness(ctx, target)
	if err != nil {
		return false, fmt.Sprintf("readiness lookup failed: %v", err)
	}

	message := fmt.Sprintf("%d/%d replicas ready (%.1f%%)",
		readiness.ReadyReplicas, readiness.DesiredReplicas, readiness.Percent())
	if readiness.Percent() >= float64(minimum) {
		return true, message
	}
	return false, message
}
