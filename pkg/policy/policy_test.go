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

package policy

import (
	"github.com/sentinel-updater/sentinel-updater/pkg/semver"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func candidate(namespace, name, current, proposed string) update.Candidate {
	return update.Candidate{
		Asset: update.Asset{
			ID:        namespace + "/" + name,
			Name:      name,
			Namespace: namespace,
			Type:      update.AssetTypeDeployment,
		},
		CurrentVersion:  current,
		ProposedVersion: proposed,
	}
}

func classify(table *Table, c update.Candidate) update.Decision {
	_, _, class := semver.Classify(c.CurrentVersion, c.ProposedVersion, table.CoercePartialVersions)
	return table.Evaluate(c, class)
}

var _ = Describe("Default gates", func() {
	table := NewTable()

	It("auto-approves patch updates", func() {
		decision := classify(table, candidate("prod", "api", "1.2.3", "1.2.4"))
		Expect(decision.Verdict).To(Equal(update.VerdictApprove))
		Expect(decision.Code).To(Equal(update.CodeApproved))
		Expect(decision.Safe).To(BeTrue())
	})

	It("sends minor updates to review", func() {
		decision := classify(table, candidate("prod", "api", "1.2.3", "1.3.0"))
		Expect(decision.Verdict).To(Equal(update.VerdictReviewRequired))
		Expect(decision.Safe).To(BeFalse())
	})

	It("requires a human for major updates", func() {
		decision := classify(table, candidate("prod", "api", "1.2.3", "2.0.0"))
		Expect(decision.Verdict).To(Equal(update.VerdictManualApproval))
		Expect(decision.Safe).To(BeFalse())
	})

	It("requires a human for prerelease updates", func() {
		decision := classify(table, candidate("prod", "api", "1.0.0-rc.1", "1.0.0"))
		Expect(decision.Verdict).To(Equal(update.VerdictManualApproval))
	})

	It("rejects downgrades before consulting the gates", func() {
		decision := classify(table, candidate("prod", "api", "1.2.4", "1.2.3"))
		Expect(decision.Verdict).To(Equal(update.VerdictReject))
		Expect(decision.Code).To(Equal(update.CodeRejectedNotUpgrade))
	})

	It("rejects unparseable versions", func() {
		decision := classify(table, candidate("prod", "api", "1.2.3", "latest"))
		Expect(decision.Verdict).To(Equal(update.VerdictReject))
		Expect(decision.Code).To(Equal(update.CodeRejectedInvalidVersion))
	})
})

var _ = Describe("Layered overrides", func() {
	It("prefers the namespace layer over the global one", func() {
		table := NewTable()
		table.Namespaces["staging"] = Gates{Minor: update.ActionAuto}

		decision := classify(table, candidate("staging", "api", "1.2.3", "1.3.0"))
		Expect(decision.Verdict).To(Equal(update.VerdictApprove))
		Expect(decision.Safe).To(BeTrue())

		decision = classify(table, candidate("prod", "api", "1.2.3", "1.3.0"))
		Expect(decision.Verdict).To(Equal(update.VerdictReviewRequired))
	})

	It("prefers the resource layer over everything", func() {
		table := NewTable()
		table.Namespaces["prod"] = Gates{Patch: update.ActionAuto}
		table.Resources["prod/db"] = Gates{Patch: update.ActionManual}

		decision := classify(table, candidate("prod", "db", "13.4.0", "13.4.1"))
		Expect(decision.Verdict).To(Equal(update.VerdictManualApproval))

		decision = classify(table, candidate("prod", "api", "1.2.3", "1.2.4"))
		Expect(decision.Verdict).To(Equal(update.VerdictApprove))
	})

	It("falls through a partial override to the lower layers", func() {
		table := NewTable()
		table.Resources["prod/api"] = Gates{Major: update.ActionSkip}

		// the resource override says nothing about patches
		decision := classify(table, candidate("prod", "api", "1.2.3", "1.2.4"))
		Expect(decision.Verdict).To(Equal(update.VerdictApprove))

		decision = classify(table, candidate("prod", "api", "1.2.3", "2.0.0"))
		Expect(decision.Code).To(Equal(update.CodeRejectedPolicySkip))
	})

	It("fails closed to manual when no layer matches", func() {
		table := &Table{}
		decision := classify(table, candidate("prod", "api", "1.2.3", "1.2.4"))
		Expect(decision.Verdict).To(Equal(update.VerdictManualApproval))
	})

	It("fails closed on unknown actions", func() {
		table := NewTable()
		table.Resources["prod/api"] = Gates{Patch: update.Action("yolo")}

		decision := classify(table, candidate("prod", "api", "1.2.3", "1.2.4"))
		Expect(decision.Verdict).To(Equal(update.VerdictManualApproval))
	})
})

var _ = Describe("Protected namespaces", func() {
	It("forces manual approval regardless of the gates", func() {
		table := NewTable()
		table.ProtectedNamespaces = []string{"kube-system"}

		decision := classify(table, candidate("kube-system", "coredns", "1.8.0", "1.8.1"))
		Expect(decision.Verdict).To(Equal(update.VerdictManualApproval))
		Expect(decision.Reason).To(ContainSubstring("protected"))
	})

	It("still rejects non-upgrades in protected namespaces", func() {
		table := NewTable()
		table.ProtectedNamespaces = []string{"kube-system"}

		decision := classify(table, candidate("kube-system", "coredns", "1.8.1", "1.8.0"))
		Expect(decision.Code).To(Equal(update.CodeRejectedNotUpgrade))
	})
})

var _ = Describe("Partial version coercion", func() {
	It("classifies padded versions when enabled", func() {
		table := NewTable()
		table.CoercePartialVersions = true

		decision := classify(table, candidate("prod", "go", "1.20", "1.21"))
		Expect(decision.Classification).To(Equal(semver.ClassificationMinor))
		Expect(decision.Verdict).To(Equal(update.VerdictReviewRequired))
	})

	It("rejects partial versions when disabled", func() {
		table := NewTable()
		decision := classify(table, candidate("prod", "go", "1.20", "1.21"))
		Expect(decision.Code).To(Equal(update.CodeRejectedInvalidVersion))
	})
})
