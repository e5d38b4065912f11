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

// Package evaluate implements the evaluate command, gating a single
// candidate offline without a running daemon
package evaluate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/cobra"

	"github.com/sentinel-updater/sentinel-updater/internal/configuration"
	"github.com/sentinel-updater/sentinel-updater/pkg/config"
	"github.com/sentinel-updater/sentinel-updater/pkg/policy"
	"github.com/sentinel-updater/sentinel-updater/pkg/semver"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// NewCmd creates the evaluate command
func NewCmd() *cobra.Command {
	var (
		configPath string
		assetID    string
		name       string
		namespace  string
		assetType  string
		current    string
		proposed   string
		gatesSpec  string
		coerce     bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluates a version change against the gate policy",
		Long: "Classifies a version change and resolves it through the gate policy, " +
			"printing the decision as JSON. The policy is read from the configuration " +
			"file when one is available and falls back to the built-in defaults.",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := loadTable(configPath)
			if err != nil {
				return err
			}
			if gatesSpec != "" {
				if err := overrideGates(table, gatesSpec); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("coerce") {
				table.CoercePartialVersions = coerce
			}

			candidate := update.Candidate{
				Asset: update.Asset{
					ID:        assetID,
					Name:      name,
					Namespace: namespace,
					Type:      update.AssetType(assetType),
				},
				CurrentVersion:  current,
				ProposedVersion: proposed,
			}
			if candidate.Asset.ID == "" {
				candidate.Asset.ID = defaultAssetID(namespace, name)
			}
			if err := candidate.Validate(); err != nil {
				return err
			}

			_, _, class := semver.Classify(current, proposed, table.CoercePartialVersions)
			decision := table.Evaluate(candidate, class)

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(decision)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "",
		"path of the configuration file (defaults to $SENTINEL_CONFIG_PATH)")
	cmd.Flags().StringVar(&assetID, "asset-id", "",
		"asset identifier (defaults to namespace/name)")
	cmd.Flags().StringVar(&name, "name", "", "workload or release name")
	cmd.Flags().StringVar(&namespace, "namespace", "", "namespace of the asset")
	cmd.Flags().StringVar(&assetType, "type", string(update.AssetTypeDeployment),
		"asset type (container, deployment, statefulset, daemonset, helm_release)")
	cmd.Flags().StringVar(&current, "current", "", "currently deployed version")
	cmd.Flags().StringVar(&proposed, "proposed", "", "proposed version")
	cmd.Flags().StringVar(&gatesSpec, "gates", "",
		`global gate overrides, e.g. "patch=auto minor=review major=skip"`)
	cmd.Flags().BoolVar(&coerce, "coerce", false,
		"pad partial versions such as 1.21 before classification")

	return cmd
}

func loadTable(configPath string) (*policy.Table, error) {
	if configPath == "" {
		configPath = configuration.GetConfigPath()
	}
	if configPath == "" {
		return policy.NewTable(), nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return policy.NewTable(), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg.PolicyTable(), nil
}

// overrideGates applies "classification=action" pairs to the global
// gates. The override string is tokenized with shell quoting rules.
func overrideGates(table *policy.Table, overrides string) error {
	tokens, err := shlex.Split(overrides)
	if err != nil {
		return fmt.Errorf("cannot parse gate overrides: %w", err)
	}

	for _, token := range tokens {
		parts := strings.SplitN(token, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("malformed gate override %q, expected classification=action", token)
		}

		action := update.Action(parts[1])
		switch parts[0] {
		case "patch":
			table.Global.Patch = action
		case "minor":
			table.Global.Minor = action
		case "major":
			table.Global.Major = action
		case "prerelease":
			table.Global.Prerelease = action
		default:
			return fmt.Errorf("unknown classification %q in gate override", parts[0])
		}
	}
	return nil
}

func defaultAssetID(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}
