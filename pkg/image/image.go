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

// Package image parses container image references and derives version
// candidates from their tags
package image

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	digestRegex = regexp.MustCompile(`@sha256:(?P<sha256>[a-fA-F0-9]+)$`)
	tagRegex    = regexp.MustCompile(`:(?P<tag>[^/]+)$`)
	hostRegex   = regexp.MustCompile(`^[^./:]+((\.[^./:]+)+(:[0-9]+)?|:[0-9]+)/`)
)

// floatingTags are tags that track a moving target and can never be
// classified as a version
var floatingTags = map[string]bool{
	"latest":  true,
	"stable":  true,
	"edge":    true,
	"nightly": true,
	"main":    true,
	"master":  true,
}

// Reference is a parsed container image reference
type Reference struct {
	Name   string
	Tag    string
	Digest string
}

// GetNormalizedName returns the normalized name of a reference
func (r *Reference) GetNormalizedName() (name string) {
	name = r.Name
	if r.Tag != "" {
		name = fmt.Sprintf("%s:%s", name, r.Tag)
	}
	if r.Digest != "" {
		name = fmt.Sprintf("%s@sha256:%s", name, r.Digest)
	}
	return name
}

// WithTag returns the same image pinned to a different tag. Any digest
// is dropped, since it would no longer match the new tag.
func (r *Reference) WithTag(tag string) *Reference {
	return &Reference{
		Name: r.Name,
		Tag:  tag,
	}
}

// IsFloating tells whether the reference uses a moving tag (or a bare
// digest), which cannot be evaluated as a version change
func (r *Reference) IsFloating() bool {
	if r.Tag == "" {
		return true
	}
	return floatingTags[r.Tag]
}

// NewReference parses the image name, normalizing the registry host and
// defaulting the tag to latest when neither tag nor digest is present
func NewReference(name string) *Reference {
	reference := &Reference{}

	if !strings.Contains(name, "/") {
		name = "docker.io/library/" + name
	} else if !hostRegex.MatchString(name) {
		name = "docker.io/" + name
	}

	if digestRegex.MatchString(name) {
		res := digestRegex.FindStringSubmatch(name)
		reference.Digest = res[1] // digest capture group index
		name = strings.TrimSuffix(name, res[0])
	}

	if tagRegex.MatchString(name) {
		res := tagRegex.FindStringSubmatch(name)
		reference.Tag = res[1] // tag capture group index
		name = strings.TrimSuffix(name, res[0])
	} else if reference.Digest == "" {
		reference.Tag = "latest"
	}

	// everything else is the name
	reference.Name = name

	return reference
}

// GetImageTag gets the image tag from a full image string.
// Example:
//
//	GetImageTag("postgres") == "latest"
//	GetImageTag("ghcr.io/acme/api:12.3") == "12.3"
func GetImageTag(imageName string) string {
	ref := NewReference(imageName)
	return ref.Tag
}

// VersionCandidate extracts the version string carried by the tag of an
// image reference. Floating tags yield no candidate.
func VersionCandidate(imageName string) (string, bool) {
	ref := NewReference(imageName)
	if ref.IsFloating() {
		return "", false
	}
	return ref.Tag, true
}
