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

// Package updater contains the backends that apply and revert version
// changes on tracked assets. Backends never decide anything: they receive
// an asset and a version, perform the change and report what happened.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// Status is the result category of an apply or revert call
type Status string

const (
	// StatusSucceeded means the change was applied completely
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the change was not applied
	StatusFailed Status = "failed"

	// StatusPartial means the change was applied but could not be
	// verified, and the asset may be in an intermediate state
	StatusPartial Status = "partial"
)

// Outcome reports the result of an apply or revert call
type Outcome struct {
	Status   Status
	Message  string
	Duration time.Duration
}

// Succeeded tells whether the call completed
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}

// Updater applies and reverts version changes for one family of assets
type Updater interface {
	// Name identifies the backend in logs and outcomes
	Name() string

	// Apply moves the asset to the given version
	Apply(ctx context.Context, asset update.Asset, version string) Outcome

	// Revert moves the asset back to the given version after a failed
	// update. Backends that cannot revert report a failed outcome.
	Revert(ctx context.Context, asset update.Asset, version string) Outcome
}

// Router dispatches assets to the backend registered for their type
type Router struct {
	backends map[update.AssetType]Updater
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{
		backends: make(map[update.AssetType]Updater),
	}
}

// Register binds a backend to one or more asset types
func (r *Router) Register(backend Updater, types ...update.AssetType) {
	for _, assetType := range types {
		r.backends[assetType] = backend
	}
}

// For returns the backend registered for an asset type
func (r *Router) For(assetType update.AssetType) (Updater, error) {
	backend, found := r.backends[assetType]
	if !found {
		return nil, fmt.Errorf("no updater registered for asset type %q", assetType)
	}
	return backend, nil
}

func failure(start time.Time, format string, args ...interface{}) Outcome {
	return Outcome{
		Status:   StatusFailed,
		Message:  fmt.Sprintf(format, args...),
		Duration: time.Since(start),
	}
}

func success(start time.Time, format string, args ...interface{}) Outcome {
	return Outcome{
		Status:   StatusSucceeded,
		Message:  fmt.Sprintf(format, args...),
		Duration: time.Since(start),
	}
}
