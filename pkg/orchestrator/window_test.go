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

package orchestrator

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func at(hour, minute int) time.Time {
	return time.Date(2024, 3, 14, hour, minute, 0, 0, time.UTC)
}

var _ = Describe("Update windows", func() {
	It("defaults to always open", func() {
		window, err := ParseWindow("")
		Expect(err).ToNot(HaveOccurred())
		Expect(window.Open(at(3, 0))).To(BeTrue())
		Expect(window.Open(at(15, 0))).To(BeTrue())
	})

	It("opens a daily interval", func() {
		window, err := ParseWindow("02:00-04:00")
		Expect(err).ToNot(HaveOccurred())
		Expect(window.Open(at(1, 59))).To(BeFalse())
		Expect(window.Open(at(2, 0))).To(BeTrue())
		Expect(window.Open(at(3, 30))).To(BeTrue())
		Expect(window.Open(at(4, 0))).To(BeFalse())
	})

	It("handles windows crossing midnight", func() {
		window, err := ParseWindow("22:00-04:00")
		Expect(err).ToNot(HaveOccurred())
		Expect(window.Open(at(23, 0))).To(BeTrue())
		Expect(window.Open(at(1, 0))).To(BeTrue())
		Expect(window.Open(at(12, 0))).To(BeFalse())
	})

	It("opens for a duration after a cron firing", func() {
		window, err := ParseWindow("cron(0 2 * * 6)/2h")
		Expect(err).ToNot(HaveOccurred())

		// 2024-03-16 is a Saturday
		saturday := time.Date(2024, 3, 16, 3, 0, 0, 0, time.UTC)
		Expect(window.Open(saturday)).To(BeTrue())
		Expect(window.Open(saturday.Add(2 * time.Hour))).To(BeFalse())

		friday := time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC)
		Expect(window.Open(friday)).To(BeFalse())
	})

	It("rejects malformed specifications", func() {
		for _, text := range []string{
			"02:00",
			"02:00-02:00",
			"25:00-04:00",
			"cron(0 2 * * 6)",
			"cron(0 2 * * 6)/0s",
			"cron(not a cron)/1h",
		} {
			_, err := ParseWindow(text)
			Expect(err).To(HaveOccurred(), "expected %q to be rejected", text)
		}
	})
})
