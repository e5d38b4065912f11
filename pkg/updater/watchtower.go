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

package updater

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

const watchtowerRequestTimeout = 5 * time.Minute

// WatchtowerUpdater triggers plain container updates through the HTTP
// API of a Watchtower instance. Watchtower pulls the new image itself,
// so the requested version is advisory: the container is expected to be
// tracked with a tag Watchtower resolves to it.
type WatchtowerUpdater struct {
	// Endpoint is the base URL of the Watchtower API
	Endpoint string

	// Token authenticates against the API as a bearer token
	Token string

	client *http.Client
	log    log.Logger
}

// NewWatchtowerUpdater creates a Watchtower backend
func NewWatchtowerUpdater(endpoint, token string) *WatchtowerUpdater {
	return &WatchtowerUpdater{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Token:    token,
		client:   &http.Client{},
		log:      log.WithName("watchtower"),
	}
}

// Name implements the Updater interface
func (w *WatchtowerUpdater) Name() string {
	return "watchtower"
}

// Apply asks Watchtower to update the named container
func (w *WatchtowerUpdater) Apply(ctx context.Context, asset update.Asset, version string) Outcome {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, watchtowerRequestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v1/update?image=%s", w.Endpoint, url.QueryEscape(asset.Name))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, nil)
	if err != nil {
		return failure(start, "invalid watchtower request: %v", err)
	}
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}

	w.log.Info("Triggering container update", "container", asset.Name, "version", version)

	resp, err := w.client.Do(req)
	if err != nil {
		return failure(start, "watchtower request failed: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return failure(start, "watchtower returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return success(start, "container %s update triggered", asset.Name)
}

// Revert is not supported: Watchtower always moves forward to whatever
// the tracked tag points at. Reverting a plain container means retagging
// upstream, which is outside the engine's reach.
func (w *WatchtowerUpdater) Revert(_ context.Context, asset update.Asset, version string) Outcome {
	return Outcome{
		Status: StatusFailed,
		Message: fmt.Sprintf(
			"watchtower cannot revert container %s to %s, repin the tracked tag upstream",
			asset.Name, version),
	}
}
