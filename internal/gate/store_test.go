// SPDX-License-Identifier: MPL-2.0

package gate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "gates"), nil)
	want := &RunResult{
		OK:        false,
		StartedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Results: []GateResult{
			{Name: "test", Command: "go test ./...", ExitCode: 1, Stderr: "FAIL"},
		},
	}
	s.Save("proj-feature", want)

	got := s.Load("proj-feature")
	if got == nil {
		t.Fatal("Load() = nil after Save")
	}
	if got.OK != want.OK || len(got.Results) != 1 {
		t.Fatalf("loaded %+v", got)
	}
	if got.Results[0] != want.Results[0] {
		t.Errorf("result = %+v, want %+v", got.Results[0], want.Results[0])
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, want.StartedAt)
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir(), nil)
	s.Save("ws", &RunResult{OK: false})
	s.Save("ws", &RunResult{OK: true})

	got := s.Load("ws")
	if got == nil || !got.OK {
		t.Fatalf("Load() = %+v, want the latest run", got)
	}
}

func TestStoreLoadMissingReturnsNil(t *testing.T) {
	t.Parallel()

	s := NewStore(t.TempDir(), nil)
	if got := s.Load("never-ran"); got != nil {
		t.Errorf("Load() = %+v, want nil", got)
	}
}

func TestStoreLoadCorruptReturnsNil(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewStore(dir, nil)
	if err := os.WriteFile(filepath.Join(dir, "ws.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.Load("ws"); got != nil {
		t.Errorf("Load() = %+v, want nil for a corrupt file", got)
	}
}

func TestStoreSaveFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	// A file where the store directory should be makes MkdirAll fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(filepath.Join(blocked, "gates"), nil)
	s.Save("ws", &RunResult{OK: true}) // must not panic
	if got := s.Load("ws"); got != nil {
		t.Errorf("Load() = %+v, want nil", got)
	}
}
