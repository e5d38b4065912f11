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

// Package versions contains the version of the Sentinel Updater and the
// build information stamped at link time
package versions

var (
	// Version is the version of the engine, overridden at build time
	Version = "1.0.0"

	// BuildCommit is the git commit the binary was built from
	BuildCommit = "none"

	// BuildDate is the date the binary was built
	BuildDate = "unknown"
)

// Info summarizes the build for the versions command and the API
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// GetInfo returns the build information of the running binary
func GetInfo() Info {
	return Info{
		Version: Version,
		Commit:  BuildCommit,
		Date:    BuildDate,
	}
}
