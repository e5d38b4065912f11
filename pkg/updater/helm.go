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
	"os"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sentinel-updater/sentinel-updater/pkg/management/execlog"
	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

const helmCommandTimeout = 10 * time.Minute

// HelmUpdater drives Helm releases through the helm CLI. Upgrades run
// with --atomic, so a failed upgrade is rolled back by Helm itself and
// Revert only handles failures detected later by health monitoring.
type HelmUpdater struct {
	// Binary is the helm executable, default "helm"
	Binary string

	// Charts maps asset IDs to chart references ("repo/chart")
	Charts map[string]string

	// Values are extra chart values applied to every upgrade, rendered
	// to a temporary YAML file
	Values map[string]interface{}
}

// NewHelmUpdater creates a Helm backend over the default binary
func NewHelmUpdater(charts map[string]string) *HelmUpdater {
	return &HelmUpdater{
		Binary: "helm",
		Charts: charts,
	}
}

// Name implements the Updater interface
func (h *HelmUpdater) Name() string {
	return "helm"
}

// Apply upgrades the release to the requested chart version
func (h *HelmUpdater) Apply(ctx context.Context, asset update.Asset, version string) Outcome {
	start := time.Now()

	chart, found := h.Charts[asset.ID]
	if !found {
		return failure(start, "no chart configured for release %q", asset.ID)
	}

	args := []string{
		"upgrade", asset.Name, chart,
		"--install",
		"--version", version,
		"--atomic",
		"--wait",
	}
	if asset.Namespace != "" {
		args = append(args, "--namespace", asset.Namespace)
	}

	if len(h.Values) > 0 {
		valuesFile, err := h.writeValuesFile()
		if err != nil {
			return failure(start, "cannot write values file: %v", err)
		}
		defer func() {
			if err := os.Remove(valuesFile); err != nil {
				log.Warning("Cannot remove temporary values file", "path", valuesFile, "err", err)
			}
		}()
		args = append(args, "--values", valuesFile)
	}

	if err := h.run(ctx, args); err != nil {
		return failure(start, "helm upgrade failed: %v", err)
	}

	if err := h.verifyDeployed(ctx, asset); err != nil {
		return Outcome{
			Status:   StatusPartial,
			Message:  err.Error(),
			Duration: time.Since(start),
		}
	}

	return success(start, "release %s upgraded to chart version %s", asset.Name, version)
}

// Revert rolls the release back to its previous revision. Helm keeps the
// revision history, so the target version is informational only.
func (h *HelmUpdater) Revert(ctx context.Context, asset update.Asset, _ string) Outcome {
	start := time.Now()

	args := []string{"rollback", asset.Name, "--wait"}
	if asset.Namespace != "" {
		args = append(args, "--namespace", asset.Namespace)
	}

	if err := h.run(ctx, args); err != nil {
		return failure(start, "helm rollback failed: %v", err)
	}
	return success(start, "release %s rolled back to previous revision", asset.Name)
}

func (h *HelmUpdater) run(ctx context.Context, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, helmCommandTimeout)
	defer cancel()

	binary := h.Binary
	if binary == "" {
		binary = "helm"
	}

	cmd := exec.CommandContext(runCtx, binary, args...) //#nosec
	return execlog.RunBuffering(cmd, "helm")
}

// verifyDeployed checks the release status after an upgrade, since an
// atomic upgrade that timed out can leave the release in a failed state
// without a non-zero helm exit code on some helm versions
func (h *HelmUpdater) verifyDeployed(ctx context.Context, asset update.Asset) error {
	runCtx, cancel := context.WithTimeout(ctx, helmCommandTimeout)
	defer cancel()

	binary := h.Binary
	if binary == "" {
		binary = "helm"
	}

	args := []string{"status", asset.Name}
	if asset.Namespace != "" {
		args = append(args, "--namespace", asset.Namespace)
	}

	cmd := exec.CommandContext(runCtx, binary, args...) //#nosec
	out, err := execlog.RunCapturing(cmd, "helm")
	if err != nil {
		return err
	}
	if !strings.Contains(out, "STATUS: deployed") {
		return errNotDeployed(asset.Name)
	}
	return nil
}

type errNotDeployed string

func (e errNotDeployed) Error() string {
	return "release " + string(e) + " is not in deployed status after upgrade"
}

func (h *HelmUpdater) writeValuesFile() (string, error) {
	file, err := os.CreateTemp("", "sentinel-helm-values-*.yaml")
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()

	encoder := yaml.NewEncoder(file)
	if err := encoder.Encode(h.Values); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	if err := encoder.Close(); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}
