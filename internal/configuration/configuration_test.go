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

package configuration

import (
	"os"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Environment overrides", func() {
	AfterEach(func() {
		for _, name := range []string{
			"SENTINEL_CONFIG_PATH",
			"SENTINEL_LISTEN_ADDRESS",
			"SENTINEL_API_TOKEN",
			"SENTINEL_STORE_DSN",
		} {
			Expect(os.Unsetenv(name)).To(Succeed())
		}
		Reload()
	})

	It("defaults every override to empty", func() {
		Reload()
		Expect(GetConfigPath()).To(BeEmpty())
		Expect(GetListenAddress()).To(BeEmpty())
		Expect(GetAPIToken()).To(BeEmpty())
		Expect(GetStoreDSN()).To(BeEmpty())
	})

	It("picks up the environment", func() {
		Expect(os.Setenv("SENTINEL_CONFIG_PATH", "/etc/sentinel/config.yaml")).To(Succeed())
		Expect(os.Setenv("SENTINEL_LISTEN_ADDRESS", ":9090")).To(Succeed())
		Expect(os.Setenv("SENTINEL_API_TOKEN", "t0ken")).To(Succeed())
		Expect(os.Setenv("SENTINEL_STORE_DSN", "postgres://db/sentinel")).To(Succeed())
		Reload()

		Expect(GetConfigPath()).To(Equal("/etc/sentinel/config.yaml"))
		Expect(GetListenAddress()).To(Equal(":9090"))
		Expect(GetAPIToken()).To(Equal("t0ken"))
		Expect(GetStoreDSN()).To(Equal("postgres://db/sentinel"))
	})
})
