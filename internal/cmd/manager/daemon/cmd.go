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

// Package daemon implements the daemon command, running the update
// engine and its HTTP API until terminated
package daemon

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"

	"github.com/sentinel-updater/sentinel-updater/internal/configuration"
	"github.com/sentinel-updater/sentinel-updater/internal/webserver"
	"github.com/sentinel-updater/sentinel-updater/pkg/config"
	"github.com/sentinel-updater/sentinel-updater/pkg/health"
	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/orchestrator"
	"github.com/sentinel-updater/sentinel-updater/pkg/platform"
	"github.com/sentinel-updater/sentinel-updater/pkg/rollback"
	"github.com/sentinel-updater/sentinel-updater/pkg/store"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
	"github.com/sentinel-updater/sentinel-updater/pkg/updater"
)

// NewCmd creates the daemon command
func NewCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Runs the update engine and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = configuration.GetConfigPath()
			}
			return run(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "",
		"path of the configuration file (defaults to $SENTINEL_CONFIG_PATH)")
	return cmd
}

func run(parentCtx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyEnvironmentOverrides(cfg)

	engineStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := engineStore.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				log.Error(err, "Cannot close the store")
			}
		}()
	}

	clientset := buildClientset(cfg)
	router, checker := buildBackends(cfg, clientset)

	orchestratorConfig, err := cfg.OrchestratorConfig()
	if err != nil {
		return err
	}

	engine := orchestrator.New(
		orchestratorConfig,
		engineStore,
		router,
		checker,
		rollback.NewManager(engineStore, cfg.RollbackConfig()),
	)

	server, err := webserver.New(cfg.API.ListenAddress, engine, cfg.API.Token)
	if err != nil {
		return err
	}
	if cfg.API.Token == "" {
		// printed once so operators can pair clients with a fresh token
		log.Info("Generated API token", "token", server.Token())
	}

	errChan := make(chan error, 2)
	go func() {
		errChan <- engine.Run(ctx)
	}()
	go func() {
		errChan <- server.Start(ctx)
	}()

	log.Info("Update engine started",
		"listenAddress", cfg.API.ListenAddress,
		"storeDriver", cfg.Store.Driver,
		"dryRun", cfg.Execution.DryRun)

	<-ctx.Done()
	log.Info("Shutting down")

	// wait for both the engine and the web server
	firstErr := <-errChan
	secondErr := <-errChan
	if firstErr != nil && !isCancellation(firstErr) {
		return firstErr
	}
	if secondErr != nil && !isCancellation(secondErr) {
		return secondErr
	}
	return nil
}

func isCancellation(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

// applyEnvironmentOverrides lets the environment win over the file, so
// secrets never need to be written to disk
func applyEnvironmentOverrides(cfg *config.Config) {
	if address := configuration.GetListenAddress(); address != "" {
		cfg.API.ListenAddress = address
	}
	if token := configuration.GetAPIToken(); token != "" {
		cfg.API.Token = token
	}
	if dsn := configuration.GetStoreDSN(); dsn != "" {
		cfg.Store.DSN = dsn
		cfg.Store.Driver = config.StoreDriverPostgres
	}
	if token := configuration.GetWatchtowerToken(); token != "" {
		cfg.Updaters.Watchtower.Token = token
	}
	if kubeconfig := configuration.GetKubeconfig(); kubeconfig != "" && cfg.Updaters.Kubeconfig == "" {
		cfg.Updaters.Kubeconfig = kubeconfig
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == config.StoreDriverPostgres {
		return store.NewPostgresStore(ctx, cfg.Store.DSN)
	}
	log.Warning("Using the in-memory store, state will not survive restarts")
	return store.NewMemoryStore(), nil
}

func buildClientset(cfg *config.Config) kubernetes.Interface {
	clientset, err := platform.NewClientset(cfg.Updaters.Kubeconfig)
	if err != nil {
		log.Warning("Kubernetes is not reachable, workload updates are disabled", "err", err)
		return nil
	}
	return clientset
}

// buildBackends registers one backend per configured integration
func buildBackends(cfg *config.Config, clientset kubernetes.Interface) (*updater.Router, *health.Checker) {
	router := updater.NewRouter()

	helm := updater.NewHelmUpdater(cfg.Updaters.Helm.Charts)
	helm.Binary = cfg.Updaters.Helm.Binary
	helm.Values = cfg.Updaters.Helm.Values
	router.Register(helm, update.AssetTypeHelmRelease)

	if cfg.Updaters.Watchtower.Endpoint != "" {
		router.Register(
			updater.NewWatchtowerUpdater(cfg.Updaters.Watchtower.Endpoint, cfg.Updaters.Watchtower.Token),
			update.AssetTypeContainer)
	}

	var source health.ReadinessSource
	if clientset != nil {
		router.Register(updater.NewKubernetesUpdater(clientset),
			update.AssetTypeDeployment, update.AssetTypeStatefulSet, update.AssetTypeDaemonSet)
		source = platform.NewKubernetesReadiness(clientset)
	}

	return router, health.NewChecker(source)
}
