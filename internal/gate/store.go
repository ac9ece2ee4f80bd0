// SPDX-License-Identifier: MPL-2.0

package gate

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// Store persists each workspace's last gate run as one JSON document,
// overwritten on every run.
type Store struct {
	Dir string
	Log *log.Logger
}

// NewStore builds a store rooted at dir.
func NewStore(dir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{Dir: dir, Log: logger}
}

// Save writes the run for the workspace. Best-effort: persistence failures
// are logged and swallowed because they must not block the gate result itself.
func (s *Store) Save(workspaceID string, res *RunResult) {
	if err := s.save(workspaceID, res); err != nil {
		s.Log.Warn("persisting gate run failed", "workspace", workspaceID, "err", err)
	}
}

func (s *Store) save(workspaceID string, res *RunResult) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	final := s.path(workspaceID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// Load returns the workspace's last run, or nil when there is no readable
// prior run (missing or unparsable files are treated as "no prior run").
func (s *Store) Load(workspaceID string) *RunResult {
	data, err := os.ReadFile(s.path(workspaceID))
	if err != nil {
		return nil
	}
	var res RunResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil
	}
	return &res
}

func (s *Store) path(workspaceID string) string {
	return filepath.Join(s.Dir, workspaceID+".json")
}
