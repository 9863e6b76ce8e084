// Copyright The ZenEdge Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package version carries build-time version information, normally
// stamped in by -ldflags at release build time.
package version

// Version and Build are overridden at build time with:
//
//	go build -ldflags "-X github.com/zenedge/kernel/pkg/version.Version=... \
//	                    -X github.com/zenedge/kernel/pkg/version.Build=..."
var (
	// Version is the semantic version of this build.
	Version = "unreleased"
	// Build is the build identifier (commit hash, build number, ...).
	Build = "unknown"
)

// String returns a single-line "version (build)" summary.
func String() string {
	return Version + " (" + Build + ")"
}
