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

// Package configuration contains the process-level configuration of the
// engine, read from environment variables. Values found here override
// what the configuration file says, so secrets can stay out of it.
package configuration

import (
	"os"
)

var (
	// configPath is the location of the configuration file
	configPath string

	// listenAddress overrides the API listen address
	listenAddress string

	// apiToken overrides the API bearer token
	apiToken string

	// storeDSN overrides the PostgreSQL connection string
	storeDSN string

	// watchtowerToken overrides the Watchtower API token
	watchtowerToken string

	// kubeconfig is the kubeconfig path used outside the cluster
	kubeconfig string
)

func init() {
	Reload()
}

// Reload re-reads the environment. It exists for tests; production code
// reads the values captured at startup.
func Reload() {
	configPath = os.Getenv("SENTINEL_CONFIG_PATH")
	listenAddress = os.Getenv("SENTINEL_LISTEN_ADDRESS")
	apiToken = os.Getenv("SENTINEL_API_TOKEN")
	storeDSN = os.Getenv("SENTINEL_STORE_DSN")
	watchtowerToken = os.Getenv("SENTINEL_WATCHTOWER_TOKEN")
	kubeconfig = os.Getenv("KUBECONFIG")
}

// GetConfigPath gets the location of the configuration file
func GetConfigPath() string {
	return configPath
}

// GetListenAddress gets the API listen address override
func GetListenAddress() string {
	return listenAddress
}

// GetAPIToken gets the API bearer token override
func GetAPIToken() string {
	return apiToken
}

// GetStoreDSN gets the PostgreSQL connection string override
func GetStoreDSN() string {
	return storeDSN
}

// GetWatchtowerToken gets the Watchtower API token override
func GetWatchtowerToken() string {
	return watchtowerToken
}

// GetKubeconfig gets the kubeconfig path used outside the cluster
func GetKubeconfig() string {
	return kubeconfig
}
