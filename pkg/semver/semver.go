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

// Package semver classifies version changes according to Semantic
// Versioning 2.0. The comparison itself is delegated to blang/semver;
// this package layers the change classification used by the gate policy
// on top of it.
package semver

import (
	"fmt"
	"strings"

	blang "github.com/blang/semver"
)

// Classification is the bucket a version change falls into
type Classification string

const (
	// ClassificationNone means the proposed version is not an upgrade
	ClassificationNone Classification = "none"

	// ClassificationPatch is a patch-level upgrade
	ClassificationPatch Classification = "patch"

	// ClassificationMinor is a minor-level upgrade
	ClassificationMinor Classification = "minor"

	// ClassificationMajor is a major-level upgrade
	ClassificationMajor Classification = "major"

	// ClassificationPrerelease is an upgrade where only the prerelease
	// component changes, e.g. 1.0.0-rc.1 to 1.0.0
	ClassificationPrerelease Classification = "prerelease"

	// ClassificationInvalid means one of the versions failed to parse
	ClassificationInvalid Classification = "invalid"
)

// IsUpgrade tells whether the classification represents an actual upgrade
func (c Classification) IsUpgrade() bool {
	switch c {
	case ClassificationPatch, ClassificationMinor, ClassificationMajor, ClassificationPrerelease:
		return true
	}
	return false
}

// Parse parses a version string. A leading "v" is accepted and stripped.
// With coerce enabled, partial versions such as "1.21" are padded with
// zeros before parsing; non-numeric identifiers like "latest" or digests
// are rejected in both modes.
func Parse(version string, coerce bool) (blang.Version, error) {
	version = strings.TrimSpace(version)
	if coerce {
		parsed, err := blang.ParseTolerant(version)
		if err != nil {
			return blang.Version{}, fmt.Errorf("invalid version %q: %w", version, err)
		}
		return parsed, nil
	}

	parsed, err := blang.Parse(strings.TrimPrefix(version, "v"))
	if err != nil {
		return blang.Version{}, fmt.Errorf("invalid version %q: %w", version, err)
	}
	return parsed, nil
}

// Classify parses both versions and derives the change classification.
// When either side fails to parse the classification is invalid and the
// returned versions are zero valued. A proposed version that does not
// outrank the current one classifies as none, never as an upgrade.
func Classify(current, proposed string, coerce bool) (blang.Version, blang.Version, Classification) {
	cur, err := Parse(current, coerce)
	if err != nil {
		return blang.Version{}, blang.Version{}, ClassificationInvalid
	}

	prop, err := Parse(proposed, coerce)
	if err != nil {
		return blang.Version{}, blang.Version{}, ClassificationInvalid
	}

	// Build metadata does not participate in precedence, per SemVer §10
	if prop.Compare(cur) <= 0 {
		return cur, prop, ClassificationNone
	}

	switch {
	case prop.Major != cur.Major:
		return cur, prop, ClassificationMajor
	case prop.Minor != cur.Minor:
		return cur, prop, ClassificationMinor
	case prop.Patch != cur.Patch:
		return cur, prop, ClassificationPatch
	}

	// Same numeric triple with a precedence difference: only the
	// prerelease component changed
	return cur, prop, ClassificationPrerelease
}
