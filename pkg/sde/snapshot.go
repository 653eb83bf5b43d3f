package sde

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// stateFileName is the persisted current-snapshot record in the workdir.
const stateFileName = "state.json"

// InstalledSnapshot records one unpacked export on disk. Exactly one is
// current at a time; the manager's pointer swap is the only transition.
type InstalledSnapshot struct {
	// Version is the installed export version.
	Version SnapshotVersion `json:"version"`

	// Dir is the absolute snapshot directory.
	Dir string `json:"dir"`

	// InstalledAt is when the repoint to this snapshot happened.
	InstalledAt time.Time `json:"installed_at"`
}

// loadState reads the persisted snapshot record. A missing or corrupt
// state file, or a state file pointing at a directory that no longer
// exists, means no snapshot is installed.
func loadState(workDir string) *InstalledSnapshot {
	data, err := os.ReadFile(filepath.Join(workDir, stateFileName))
	if err != nil {
		return nil
	}

	var snapshot InstalledSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil
	}
	if snapshot.Version.Token == "" || snapshot.Dir == "" {
		return nil
	}

	if info, err := os.Stat(snapshot.Dir); err != nil || !info.IsDir() {
		return nil
	}

	return &snapshot
}

// saveState persists the snapshot record via write-temp-then-rename so a
// crash mid-write never leaves a torn state file.
func saveState(workDir string, snapshot *InstalledSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot state: %w", err)
	}

	statePath := filepath.Join(workDir, stateFileName)
	tmpPath := statePath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: write snapshot state: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpPath, statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: commit snapshot state: %v", ErrStorage, err)
	}

	return nil
}
