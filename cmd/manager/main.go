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

/*
The manager command is the main entrypoint of Sentinel Updater.
*/
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinel-updater/sentinel-updater/internal/cmd/manager/daemon"
	"github.com/sentinel-updater/sentinel-updater/internal/cmd/manager/evaluate"
	"github.com/sentinel-updater/sentinel-updater/internal/cmd/manager/history"
	"github.com/sentinel-updater/sentinel-updater/internal/cmd/versions"
	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"

	_ "k8s.io/client-go/plugin/pkg/client/auth"
)

func main() {
	logFlags := &log.Flags{}

	cmd := &cobra.Command{
		Use:          "sentinel-updater [cmd]",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logFlags.ConfigureLogging()
		},
	}

	logFlags.AddFlags(cmd.PersistentFlags())

	cmd.AddCommand(daemon.NewCmd())
	cmd.AddCommand(evaluate.NewCmd())
	cmd.AddCommand(history.NewCmd())
	cmd.AddCommand(versions.NewCmd())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
