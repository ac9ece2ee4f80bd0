// SPDX-License-Identifier: MPL-2.0

package container

import "os/exec"

// PodmanEngine is the Podman CLI engine.
type PodmanEngine struct {
	*BaseCLIEngine
}

// NewPodmanEngine resolves the podman binary. An unresolved binary yields an
// engine whose Available reports false.
func NewPodmanEngine(opts ...BaseCLIEngineOption) *PodmanEngine {
	path, err := exec.LookPath("podman")
	if err != nil {
		path = ""
	}
	return &PodmanEngine{BaseCLIEngine: NewBaseCLIEngine("podman", path, opts...)}
}
