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

// Package policy resolves a version change classification into a gate
// action. The lookup is layered: a resource-level override wins over the
// namespace-level one, which wins over the global gates; when nothing
// matches the policy fails safe to manual approval.
package policy

import (
	"fmt"
	"time"

	"github.com/thoas/go-funk"

	"github.com/sentinel-updater/sentinel-updater/pkg/management/log"
	"github.com/sentinel-updater/sentinel-updater/pkg/semver"
	"github.com/sentinel-updater/sentinel-updater/pkg/update"
)

// Gates maps each upgrade classification to a gate action. The zero
// value of a field means "not set at this layer".
type Gates struct {
	Patch      update.Action `json:"patch,omitempty"`
	Minor      update.Action `json:"minor,omitempty"`
	Major      update.Action `json:"major,omitempty"`
	Prerelease update.Action `json:"prerelease,omitempty"`
}

// DefaultGates are the global defaults used when no configuration is
// provided: patch updates flow automatically, minor ones ask for review,
// everything else needs a human.
func DefaultGates() Gates {
	return Gates{
		Patch:      update.ActionAuto,
		Minor:      update.ActionReview,
		Major:      update.ActionManual,
		Prerelease: update.ActionManual,
	}
}

// actionFor returns the action this layer defines for a classification,
// or false when the layer does not cover it
func (g Gates) actionFor(c semver.Classification) (update.Action, bool) {
	var action update.Action
	switch c {
	case semver.ClassificationPatch:
		action = g.Patch
	case semver.ClassificationMinor:
		action = g.Minor
	case semver.ClassificationMajor:
		action = g.Major
	case semver.ClassificationPrerelease:
		action = g.Prerelease
	default:
		return "", false
	}
	if action == "" {
		return "", false
	}
	return action, true
}

// Table is the layered gate policy, built once from the configuration
// snapshot and never mutated afterwards
type Table struct {
	// Global is the catch-all gate set
	Global Gates `json:"global"`

	// Namespaces holds per-namespace overrides
	Namespaces map[string]Gates `json:"namespaces,omitempty"`

	// Resources holds per-asset overrides, keyed by asset ID
	Resources map[string]Gates `json:"resources,omitempty"`

	// ProtectedNamespaces always resolve to manual approval regardless
	// of classification, e.g. kube-system
	ProtectedNamespaces []string `json:"protectedNamespaces,omitempty"`

	// CoercePartialVersions pads incomplete versions such as "1.21"
	// before classification
	CoercePartialVersions bool `json:"coercePartialVersions,omitempty"`
}

// NewTable builds a policy table with the default global gates
func NewTable() *Table {
	return &Table{
		Global:     DefaultGates(),
		Namespaces: map[string]Gates{},
		Resources:  map[string]Gates{},
	}
}

// resolveAction walks the layers for the candidate. The boolean reports
// whether any layer matched; the caller falls back to manual otherwise.
func (t *Table) resolveAction(c update.Candidate, class semver.Classification) (update.Action, bool) {
	if gates, ok := t.Resources[c.Asset.ID]; ok {
		if action, ok := gates.actionFor(class); ok {
			return action, true
		}
	}
	if gates, ok := t.Namespaces[c.Asset.Namespace]; ok {
		if action, ok := gates.actionFor(class); ok {
			return action, true
		}
	}
	if action, ok := t.Global.actionFor(class); ok {
		return action, true
	}
	return "", false
}

// Evaluate classifies the version change of a candidate and resolves it
// into an immutable decision. Invalid and non-upgrade changes are
// rejected before the policy table is consulted.
func (t *Table) Evaluate(candidate update.Candidate, class semver.Classification) update.Decision {
	decision := update.Decision{
		Candidate:      candidate,
		Classification: class,
		EvaluatedAt:    time.Now(),
	}

	switch class {
	case semver.ClassificationInvalid:
		decision.Verdict = update.VerdictReject
		decision.Code = update.CodeRejectedInvalidVersion
		decision.Reason = fmt.Sprintf(
			"unparseable version: %q or %q is not a semantic version",
			candidate.CurrentVersion, candidate.ProposedVersion)
		return decision
	case semver.ClassificationNone:
		decision.Verdict = update.VerdictReject
		decision.Code = update.CodeRejectedNotUpgrade
		decision.Reason = fmt.Sprintf(
			"not an upgrade: proposed version %s does not outrank %s",
			candidate.ProposedVersion, candidate.CurrentVersion)
		return decision
	}

	if funk.ContainsString(t.ProtectedNamespaces, candidate.Asset.Namespace) {
		decision.Action = update.ActionManual
		applyAction(&decision)
		decision.Reason = fmt.Sprintf(
			"namespace %q is protected, manual approval required",
			candidate.Asset.Namespace)
		return decision
	}

	action, matched := t.resolveAction(candidate, class)
	if !matched {
		action = update.ActionManual
	}
	if !funk.Contains(update.KnownActions, action) {
		// Misconfigured gate table: fail closed, keep running
		log.Warning("Unknown gate action in policy table, failing closed to manual",
			"action", action, "assetID", candidate.Asset.ID, "classification", class)
		action = update.ActionManual
	}

	decision.Action = action
	applyAction(&decision)
	decision.Reason = fmt.Sprintf("%s update gated as %q", class, action)
	return decision
}

// applyAction fills verdict, code and safety flag from the resolved
// action. The switch is deliberately exhaustive over the closed set.
func applyAction(decision *update.Decision) {
	switch decision.Action {
	case update.ActionAuto:
		decision.Verdict = update.VerdictApprove
		decision.Code = update.CodeApproved
		decision.Safe = decision.Classification.IsUpgrade()
	case update.ActionReview:
		decision.Verdict = update.VerdictReviewRequired
		decision.Code = update.CodeReviewRequired
	case update.ActionManual:
		decision.Verdict = update.VerdictManualApproval
		decision.Code = update.CodeManualRequired
	case update.ActionSkip:
		decision.Verdict = update.VerdictReject
		decision.Code = update.CodeRejectedPolicySkip
	}
}
