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

// Package config loads and validates the engine configuration file. The
// file is YAML, deserialized through the JSON tags of the target
// structures.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"

	"github.com/sentinel-updater/sentinel-updater/pkg/health"
	"github.com/sentinel-updater/sentinel-updater/pkg/orchestrator"
	"github.com/sentinel-updater/sentinel-updater/pkg/policy"
	"github.com/sentinel-updater/sentinel-updater/pkg/rollback"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// Config is the root of the configuration file
type Config struct {
	// Policy configures the gate table
	Policy PolicyConfig `json:"policy,omitempty"`

	// Monitoring configures the post-update health observation
	Monitoring MonitoringConfig `json:"monitoring,omitempty"`

	// Rollback configures loop prevention
	Rollback RollbackConfig `json:"rollback,omitempty"`

	// Execution configures the queue and the worker pool
	Execution ExecutionConfig `json:"execution,omitempty"`

	// HealthChecks configures the per-asset health checks
	HealthChecks HealthChecksConfig `json:"healthChecks,omitempty"`

	// API configures the REST endpoint
	API APIConfig `json:"api,omitempty"`

	// Store configures persistence
	Store StoreConfig `json:"store,omitempty"`

	// Updaters configures the backends
	Updaters UpdatersConfig `json:"updaters,omitempty"`
}

// PolicyConfig mirrors the policy table in the configuration file
type PolicyConfig struct {
	Global                *policy.Gates           `json:"global,omitempty"`
	Namespaces            map[string]policy.Gates `json:"namespaces,omitempty"`
	Resources             map[string]policy.Gates `json:"resources,omitempty"`
	ProtectedNamespaces   []string                `json:"protectedNamespaces,omitempty"`
	CoercePartialVersions bool                    `json:"coercePartialVersions,omitempty"`
}

// MonitoringConfig tunes the health observation window
type MonitoringConfig struct {
	DurationSeconds     int     `json:"durationSeconds,omitempty"`
	PollIntervalSeconds int     `json:"pollIntervalSeconds,omitempty"`
	FailureThreshold    float64 `json:"failureThreshold,omitempty"`
}

// RollbackConfig tunes loop prevention
type RollbackConfig struct {
	Disabled      bool `json:"disabled,omitempty"`
	WindowSeconds int  `json:"windowSeconds,omitempty"`
	MaxAttempts   int  `json:"maxAttempts,omitempty"`
}

// ExecutionConfig tunes the queue and the worker pool
type ExecutionConfig struct {
	MaxConcurrent int    `json:"maxConcurrent,omitempty"`
	QueueSize     int    `json:"queueSize,omitempty"`
	UpdateWindow  string `json:"updateWindow,omitempty"`
	DryRun        bool   `json:"dryRun,omitempty"`

	// ApplyTimeoutSeconds bounds a single backend apply or revert call,
	// default 300
	ApplyTimeoutSeconds int `json:"applyTimeoutSeconds,omitempty"`
}

// HealthChecksConfig binds health checks to assets
type HealthChecksConfig struct {
	// Defaults apply to assets without a dedicated entry
	Defaults []health.CheckSpec `json:"defaults,omitempty"`

	// Assets maps asset IDs to their checks
	Assets map[string][]health.CheckSpec `json:"assets,omitempty"`
}

// APIConfig configures the REST endpoint
type APIConfig struct {
	// ListenAddress defaults to ":8080"
	ListenAddress string `json:"listenAddress,omitempty"`

	// Token protects the mutating endpoints; when empty a random one is
	// generated at startup and logged once
	Token string `json:"token,omitempty"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	// Driver is "memory" or "postgres"
	Driver string `json:"driver,omitempty"`

	// DSN is the PostgreSQL connection string
	DSN string `json:"dsn,omitempty"`
}

// UpdatersConfig configures the update backends
type UpdatersConfig struct {
	Helm       HelmConfig       `json:"helm,omitempty"`
	Watchtower WatchtowerConfig `json:"watchtower,omitempty"`

	// Kubeconfig is the kubeconfig path used outside the cluster
	Kubeconfig string `json:"kubeconfig,omitempty"`
}

// HelmConfig configures the Helm backend
type HelmConfig struct {
	Binary string                 `json:"binary,omitempty"`
	Charts map[string]string      `json:"charts,omitempty"`
	Values map[string]interface{} `json:"values,omitempty"`
}

// WatchtowerConfig configures the Watchtower backend
type WatchtowerConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Drivers accepted by StoreConfig
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// Load reads and validates a configuration file. A missing path yields
// the defaults.
func Load(path string) (*Config, error) {
	config := &Config{}

	if path != "" {
		content, err := os.ReadFile(path) // #nosec
		if err != nil {
			return nil, fmt.Errorf("cannot read configuration file: %w", err)
		}
		if err := yaml.UnmarshalStrict(content, config); err != nil {
			return nil, fmt.Errorf("cannot parse configuration file %q: %w", path, err)
		}
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreDriverMemory
	}
	if c.Updaters.Helm.Binary == "" {
		c.Updaters.Helm.Binary = "helm"
	}
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.Policy.Global != nil {
		if err := validateGates("global", *c.Policy.Global); err != nil {
			return err
		}
	}
	for namespace, gates := range c.Policy.Namespaces {
		if err := validateGates("namespace "+namespace, gates); err != nil {
			return err
		}
	}
	for resource, gates := range c.Policy.Resources {
		if err := validateGates("resource "+resource, gates); err != nil {
			return err
		}
	}

	if c.Monitoring.FailureThreshold < 0 || c.Monitoring.FailureThreshold > 1 {
		return fmt.Errorf("monitoring failure threshold %v is outside [0,1]", c.Monitoring.FailureThreshold)
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("the postgres store driver requires a DSN")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if _, err := orchestrator.ParseWindow(c.Execution.UpdateWindow); err != nil {
		return err
	}

	return nil
}

func validateGates(layer string, gates policy.Gates) error {
	for classification, action := range map[string]update.Action{
		"patch":      gates.Patch,
		"minor":      gates.Minor,
		"major":      gates.Major,
		"prerelease": gates.Prerelease,
	} {
		if action == "" {
			continue
		}
		if !funk.Contains(update.KnownActions, action) {
			return fmt.Errorf("unknown action %q for %s updates in %s gates", action, classification, layer)
		}
	}
	return nil
}

// PolicyTable builds the runtime gate table from the configuration
func (c *Config) PolicyTable() *policy.Table {
	table := policy.NewTable()
	if c.Policy.Global != nil {
		table.Global = *c.Policy.Global
	}
	for namespace, gates := range c.Policy.Namespaces {
		table.Namespaces[namespace] = gates
	}
	for resource, gates := range c.Policy.Resources {
		table.Resources[resource] = gates
	}
	table.ProtectedNamespaces = c.Policy.ProtectedNamespaces
	table.CoercePartialVersions = c.Policy.CoercePartialVersions
	return table
}

// OrchestratorConfig builds the runtime orchestrator configuration
func (c *Config) OrchestratorConfig() (orchestrator.Config, error) {
	window, err := orchestrator.ParseWindow(c.Execution.UpdateWindow)
	if err != nil {
		return orchestrator.Config{}, err
	}

	return orchestrator.Config{
		Policy:             c.PolicyTable(),
		MaxConcurrent:      c.Execution.MaxConcurrent,
		QueueSize:          c.Execution.QueueSize,
		MonitoringDuration: time.Duration(c.Monitoring.DurationSeconds) * time.Second,
		PollInterval:       time.Duration(c.Monitoring.PollIntervalSeconds) * time.Second,
		FailureThreshold:   c.Monitoring.FailureThreshold,
		ApplyTimeout:       time.Duration(c.Execution.ApplyTimeoutSeconds) * time.Second,
		DryRun:             c.Execution.DryRun,
		Window:             window,
		DefaultChecks:      c.HealthChecks.Defaults,
		AssetChecks:        c.HealthChecks.Assets,
	}, nil
}

// RollbackConfig builds the runtime rollback configuration
func (c *Config) RollbackConfig() rollback.Config {
	return rollback.Config{
		Window:      time.Duration(c.Rollback.WindowSeconds) * time.Second,
		MaxAttempts: c.Rollback.MaxAttempts,
		Disabled:    c.Rollback.Disabled,
	}
}
