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

// Package history implements the history command, rendering the outcome
// log of a running daemon
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cheynewallace/tabby"
	"github.com/logrusorgru/aurora/v3"
	"github.com/spf13/cobra"

	"github.com/sentinel-updater/sentinel-updater/internal/configuration"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

const requestTimeout = 10 * time.Second

// NewCmd creates the history command
func NewCmd() *cobra.Command {
	var (
		address string
		token   string
		assetID string
		limit   int
		rawJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Shows the outcome history of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = configuration.GetAPIToken()
			}
			outcomes, err := fetchHistory(address, token, assetID, limit)
			if err != nil {
				return err
			}

			if rawJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(outcomes)
			}

			render(outcomes)
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "http://localhost:8080",
		"base URL of the daemon API")
	cmd.Flags().StringVar(&token, "token", "",
		"API bearer token (defaults to $SENTINEL_API_TOKEN)")
	cmd.Flags().StringVar(&assetID, "asset", "", "only show outcomes for this asset ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of outcomes to fetch")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "print the raw JSON instead of a table")

	return cmd
}

func fetchHistory(address, token, assetID string, limit int) ([]update.Outcome, error) {
	endpoint, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("malformed daemon address: %w", err)
	}
	endpoint.Path = "/v1/history"
	query := url.Values{"limit": []string{strconv.Itoa(limit)}}
	if assetID != "" {
		query.Set("asset", assetID)
	}
	endpoint.RawQuery = query.Encode()

	request, err := http.NewRequest(http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: requestTimeout}
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("cannot reach the daemon at %s: %w", address, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return nil, fmt.Errorf("daemon returned %s: %s", response.Status, string(body))
	}

	var outcomes []update.Outcome
	if err := json.NewDecoder(response.Body).Decode(&outcomes); err != nil {
		return nil, fmt.Errorf("cannot decode the history response: %w", err)
	}
	return outcomes, nil
}

func render(outcomes []update.Outcome) {
	table := tabby.New()
	table.AddHeader("ASSET", "FROM", "TO", "OUTCOME", "FINISHED", "REASON")

	var succeeded, rolledBack int
	for _, outcome := range outcomes {
		switch outcome.Code {
		case update.CodeSucceeded:
			succeeded++
		case update.CodeHealthFailedRolledBack:
			rolledBack++
		}
		table.AddLine(
			outcome.AssetID,
			outcome.FromVersion,
			outcome.ToVersion,
			colorize(outcome.Code),
			outcome.FinishedAt.Format(time.RFC3339),
			outcome.Reason,
		)
	}
	table.Print()

	if len(outcomes) > 0 {
		fmt.Printf("\n%d outcomes, %d succeeded (%.0f%%), %d rolled back\n",
			len(outcomes), succeeded,
			float64(succeeded)/float64(len(outcomes))*100, rolledBack)
	}
}

func colorize(code update.OutcomeCode) string {
	switch code {
	case update.CodeSucceeded:
		return aurora.Green(string(code)).String()
	case update.CodeHealthFailedRolledBack:
		return aurora.Yellow(string(code)).String()
	default:
		return aurora.Red(string(code)).String()
	}
}
