// SPDX-License-Identifier: MPL-2.0

package container

import "os/exec"

// DockerEngine is the Docker CLI engine.
type DockerEngine struct {
	*BaseCLIEngine
}

// NewDockerEngine resolves the docker binary. An unresolved binary yields an
// engine whose Available reports false.
func NewDockerEngine(opts ...BaseCLIEngineOption) *DockerEngine {
	path, err := exec.LookPath("docker")
	if err != nil {
		path = ""
	}
	return &DockerEngine{BaseCLIEngine: NewBaseCLIEngine("docker", path, opts...)}
}
