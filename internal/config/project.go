// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/muxrun/mux/internal/gate"
	rt "github.com/muxrun/mux/internal/runtime"
)

// ProjectFileName is the project config file, looked up at the project root.
const ProjectFileName = "mux.toml"

// DefaultTrunk is assumed when the project does not declare a trunk branch.
const DefaultTrunk = "main"

type (
	// Project is a project's mux configuration.
	Project struct {
		// Trunk is the branch new workspaces fork from.
		Trunk string

		// Runtime is the project's runtime selection; nil means the global
		// default runtime applies.
		Runtime *rt.Config

		// Gates are the project's checks, in declaration order.
		Gates []gate.Gate
	}

	// projectFile is the raw TOML shape. Gate timeouts are declared as
	// duration strings ("90s", "10m") and parsed into the typed form.
	projectFile struct {
		Trunk   string     `toml:"trunk"`
		Runtime *rt.Config `toml:"runtime"`
		Gates   []gateDecl `toml:"gates"`
	}

	gateDecl struct {
		Name    string `toml:"name"`
		Command string `toml:"command"`
		Timeout string `toml:"timeout"`
	}
)

// LoadProject reads <projectDir>/mux.toml. A missing file is not an error:
// the project simply runs with defaults and no gates.
func LoadProject(projectDir string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(projectDir, ProjectFileName))
	if errors.Is(err, os.ErrNotExist) {
		return &Project{Trunk: DefaultTrunk}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ProjectFileName, err)
	}

	var raw projectFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ProjectFileName, err)
	}

	proj := &Project{Trunk: raw.Trunk, Runtime: raw.Runtime}
	if proj.Trunk == "" {
		proj.Trunk = DefaultTrunk
	}
	if proj.Runtime != nil {
		if err := proj.Runtime.Validate(); err != nil {
			return nil, fmt.Errorf("invalid runtime in %s: %w", ProjectFileName, err)
		}
	}

	for i, decl := range raw.Gates {
		if decl.Name == "" || decl.Command == "" {
			return nil, fmt.Errorf("%s: gates[%d] needs both name and command", ProjectFileName, i)
		}
		g := gate.Gate{Name: decl.Name, Command: decl.Command}
		if decl.Timeout != "" {
			d, err := time.ParseDuration(decl.Timeout)
			if err != nil {
				return nil, fmt.Errorf("%s: gates[%d] timeout %q: %w", ProjectFileName, i, decl.Timeout, err)
			}
			g.Timeout = d
		}
		proj.Gates = append(proj.Gates, g)
	}

	return proj, nil
}
