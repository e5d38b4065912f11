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

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sentinel-updater/sentinel-updater/pkg/update"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func writeConfig(content string) string {
	path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
	return path
}

var _ = Describe("Configuration loading", func() {
	It("provides defaults without a file", func() {
		loaded, err := Load("")
		Expect(err).ToNot(HaveOccurred())
		Expect(loaded.API.ListenAddress).To(Equal(":8080"))
		Expect(loaded.Store.Driver).To(Equal(StoreDriverMemory))
		Expect(loaded.Updaters.Helm.Binary).To(Equal("helm"))
	})

	It("parses a full configuration", func() {
		path := writeConfig(`
policy:
  global:
    patch: auto
    minor: review
    major: manual
    prerelease: manual
  namespaces:
    staging:
      minor: auto
  resources:
    prod/api:
      patch: review
  protectedNamespaces:
    - kube-system
monitoring:
  durationSeconds: 300
  pollIntervalSeconds: 10
  failureThreshold: 0.1
rollback:
  windowSeconds: 3600
  maxAttempts: 3
execution:
  maxConcurrent: 3
  queueSize: 50
  updateWindow: "02:00-04:00"
  applyTimeoutSeconds: 120
healthChecks:
  defaults:
    - kind: platform
  assets:
    prod/api:
      - kind: http
        http:
          url: http://api.prod.svc/healthz
store:
  driver: postgres
  dsn: postgres://sentinel@db/sentinel
updaters:
  watchtower:
    endpoint: http://watchtower:8080
    token: s3cret
`)

		loaded, err := Load(path)
		Expect(err).ToNot(HaveOccurred())

		table := loaded.PolicyTable()
		Expect(table.Global.Patch).To(Equal(update.ActionAuto))
		Expect(table.Namespaces["staging"].Minor).To(Equal(update.ActionAuto))
		Expect(table.Resources["prod/api"].Patch).To(Equal(update.ActionReview))
		Expect(table.ProtectedNamespaces).To(ContainElement("kube-system"))

		orchestratorConfig, err := loaded.OrchestratorConfig()
		Expect(err).ToNot(HaveOccurred())
		Expect(orchestratorConfig.MaxConcurrent).To(Equal(3))
		Expect(orchestratorConfig.MonitoringDuration).To(Equal(5 * time.Minute))
		Expect(orchestratorConfig.ApplyTimeout).To(Equal(2 * time.Minute))
		Expect(orchestratorConfig.AssetChecks).To(HaveKey("prod/api"))
		Expect(orchestratorConfig.Window.Open(time.Date(2024, 3, 14, 3, 0, 0, 0, time.Local))).To(BeTrue())

		rollbackConfig := loaded.RollbackConfig()
		Expect(rollbackConfig.Window).To(Equal(time.Hour))
		Expect(rollbackConfig.MaxAttempts).To(Equal(3))
	})

	It("rejects unknown gate actions", func() {
		path := writeConfig(`
policy:
  global:
    patch: yolo
`)
		_, err := Load(path)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("yolo"))
	})

	It("rejects unknown fields", func() {
		path := writeConfig(`
polcy:
  global:
    patch: auto
`)
		_, err := Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("rejects out-of-range failure thresholds", func() {
		path := writeConfig(`
monitoring:
  failureThreshold: 1.5
`)
		_, err := Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("requires a DSN for the postgres driver", func() {
		path := writeConfig(`
store:
  driver: postgres
`)
		_, err := Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("rejects malformed update windows", func() {
		path := writeConfig(`
execution:
  updateWindow: "banana"
`)
		_, err := Load(path)
		Expect(err).To(HaveOccurred())
	})

	It("fails on missing files", func() {
		_, err := Load("/does/not/exist.yaml")
		Expect(err).To(HaveOccurred())
	})
})
