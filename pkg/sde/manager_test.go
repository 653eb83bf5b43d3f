package sde

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evetools/evedata/internal/testutil"
)

func testManager(t *testing.T, cdn *testutil.MockCDN) *Manager {
	t.Helper()

	cfg := DefaultConfig(cdn.ManifestURL(), t.TempDir(), "evedata-test/1.0 (dev@example.com)")
	cfg.DownloadBackoff = 10 * time.Millisecond

	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func testFiles() map[string]string {
	return map[string]string{
		"fsd/types.yaml":      "587:\n  name: Rifter\n",
		"fsd/groups.yaml":     "25:\n  name: Frigate\n",
		"bsd/invNames.yaml":   "- itemID: 30000142\n  itemName: Jita\n",
		"universe/eve/.keep":  "",
		"universe/eve/region": "regionID: 10000002\n",
	}
}

func TestManager_NoSnapshotInstalled(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)

	assert.Nil(t, m.Current())
	_, err := m.CurrentSnapshotLocation()
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestManager_CheckForUpdate(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	ctx := context.Background()

	check, err := m.CheckForUpdate(ctx)
	require.NoError(t, err)
	assert.False(t, check.UpToDate)
	assert.Equal(t, "2024-05-01", check.Available.Token)
}

func TestManager_ApplyUpdate(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	ctx := context.Background()

	require.NoError(t, m.ApplyUpdate(ctx, SnapshotVersion{Token: "2024-05-01"}))

	dir, err := m.CurrentSnapshotLocation()
	require.NoError(t, err)

	// The snapshot directory holds the full unpacked tree.
	data, err := os.ReadFile(filepath.Join(dir, "fsd", "types.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Rifter")

	current := m.Current()
	require.NotNil(t, current)
	assert.Equal(t, "2024-05-01", current.Version.Token)
	assert.Equal(t, dir, current.Dir)
	assert.False(t, current.InstalledAt.IsZero())

	// The check now reports up to date.
	check, err := m.CheckForUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, check.UpToDate)
}

func TestManager_ApplyUpdate_Idempotent(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	ctx := context.Background()

	require.NoError(t, m.ApplyUpdate(ctx, SnapshotVersion{Token: "2024-05-01"}))
	dirBefore, err := m.CurrentSnapshotLocation()
	require.NoError(t, err)
	downloadsBefore := cdn.DownloadCount()

	// Same version again: no second download, no corruption.
	require.NoError(t, m.ApplyUpdate(ctx, SnapshotVersion{Token: "2024-05-01"}))

	dirAfter, err := m.CurrentSnapshotLocation()
	require.NoError(t, err)
	assert.Equal(t, dirBefore, dirAfter)
	assert.Equal(t, downloadsBefore, cdn.DownloadCount())
}

func TestManager_ApplyUpdate_ConcurrentCallers(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.ApplyUpdate(ctx, SnapshotVersion{Token: "2024-05-01"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}
	// Single-flight: exactly one download happened.
	assert.Equal(t, 1, cdn.DownloadCount())
}

func TestManager_VersionSwap(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-04-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	ctx := context.Background()

	require.NoError(t, m.ApplyUpdate(ctx, SnapshotVersion{Token: "2024-04-01"}))
	oldDir, err := m.CurrentSnapshotLocation()
	require.NoError(t, err)

	// A new version is published.
	newFiles := testFiles()
	newFiles["fsd/types.yaml"] = "587:\n  name: Rifter\n588:\n  name: Slasher\n"
	cdn.Publish("2024-05-01", newFiles)

	check, err := m.CheckForUpdate(ctx)
	require.NoError(t, err)
	require.False(t, check.UpToDate)
	assert.Equal(t, "2024-05-01", check.Available.Token)

	require.NoError(t, m.ApplyUpdate(ctx, check.Available))

	newDir, err := m.CurrentSnapshotLocation()
	require.NoError(t, err)
	assert.NotEqual(t, oldDir, newDir)
	assert.Equal(t, "2024-05-01", m.Current().Version.Token)

	data, err := os.ReadFile(filepath.Join(newDir, "fsd", "types.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Slasher")
}

func TestManager_ChecksumMismatch(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-04-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	ctx := context.Background()

	require.NoError(t, m.ApplyUpdate(ctx, SnapshotVersion{Token: "2024-04-01"}))
	dirBefore, err := m.CurrentSnapshotLocation()
	require.NoError(t, err)

	cdn.Publish("2024-05-01", testFiles())
	cdn.BreakChecksum = true

	err = m.ApplyUpdate(ctx, SnapshotVersion{Token: "2024-05-01"})
	assert.ErrorIs(t, err, ErrIntegrity)

	// The old snapshot stays authoritative.
	dirAfter, err := m.CurrentSnapshotLocation()
	require.NoError(t, err)
	assert.Equal(t, dirBefore, dirAfter)
	assert.Equal(t, "2024-04-01", m.Current().Version.Token)
}

func TestManager_DownloadRetry(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	cdn.FailDownloads = 2

	require.NoError(t, m.ApplyUpdate(context.Background(), SnapshotVersion{Token: "2024-05-01"}))
	assert.Equal(t, 3, cdn.DownloadCount())
}

func TestManager_Sync(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	ctx := context.Background()

	require.NoError(t, m.Sync(ctx, false))
	require.NotNil(t, m.Current())
	downloads := cdn.DownloadCount()

	// Up to date: a plain sync does nothing.
	require.NoError(t, m.Sync(ctx, false))
	assert.Equal(t, downloads, cdn.DownloadCount())

	// force reinstalls even on a token match.
	require.NoError(t, m.Sync(ctx, true))
	assert.Equal(t, downloads+1, cdn.DownloadCount())
}

func TestManager_ForcedReinstallReaderIsolation(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	m := testManager(t, cdn)
	ctx := context.Background()

	require.NoError(t, m.ApplyUpdate(ctx, SnapshotVersion{Token: "2024-05-01"}))

	// A reader dereferences the current pointer in a tight loop while
	// forced reinstalls of the same version run. It must always find a
	// complete snapshot tree.
	stop := make(chan struct{})
	var torn atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}

			dir, err := m.CurrentSnapshotLocation()
			if err != nil {
				torn.Add(1)
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, "fsd", "types.yaml")); err != nil {
				torn.Add(1)
			}
		}
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Sync(ctx, true))
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, torn.Load(), "reader observed a missing or partial snapshot during forced reinstall")
}

func TestManager_StateSurvivesRestart(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	workDir := t.TempDir()
	cfg := DefaultConfig(cdn.ManifestURL(), workDir, "evedata-test/1.0 (dev@example.com)")

	m, err := NewManager(cfg)
	require.NoError(t, err)
	require.NoError(t, m.ApplyUpdate(context.Background(), SnapshotVersion{Token: "2024-05-01"}))
	dir, err := m.CurrentSnapshotLocation()
	require.NoError(t, err)

	// A new manager over the same workdir resumes the snapshot.
	restarted, err := NewManager(cfg)
	require.NoError(t, err)

	resumedDir, err := restarted.CurrentSnapshotLocation()
	require.NoError(t, err)
	assert.Equal(t, dir, resumedDir)
	assert.Equal(t, "2024-05-01", restarted.Current().Version.Token)
}

func TestManager_CorruptStateFileMeansNoSnapshot(t *testing.T) {
	cdn := testutil.NewMockCDN("2024-05-01", testFiles())
	defer cdn.Close()

	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, stateFileName), []byte("{not json"), 0o644))

	m, err := NewManager(DefaultConfig(cdn.ManifestURL(), workDir, "evedata-test/1.0 (dev@example.com)"))
	require.NoError(t, err)
	assert.Nil(t, m.Current())
}

func TestManager_PruneSuperseded(t *testing.T) {
	cdn := testutil.NewMockCDN("v1", testFiles())
	defer cdn.Close()

	workDir := t.TempDir()
	cfg := DefaultConfig(cdn.ManifestURL(), workDir, "evedata-test/1.0 (dev@example.com)")
	cfg.KeepSnapshots = 1

	m, err := NewManager(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	for _, version := range []string{"v1", "v2", "v3"} {
		cdn.Publish(version, testFiles())
		require.NoError(t, m.ApplyUpdate(ctx, SnapshotVersion{Token: version}))
	}

	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)

	var snapshotDirs []string
	for _, entry := range entries {
		if entry.IsDir() && entry.Name() != filepath.Base(m.Current().Dir) {
			snapshotDirs = append(snapshotDirs, entry.Name())
		}
	}
	// Current plus one superseded snapshot remain.
	assert.LessOrEqual(t, len(snapshotDirs), 1)
	assert.Equal(t, "v3", m.Current().Version.Token)
}

func TestResolveArchiveURL(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		archive  string
		want     string
	}{
		{
			name:     "relative",
			manifest: "https://cdn.example.com/tranquility/manifest.json",
			archive:  "sde.zip",
			want:     "https://cdn.example.com/tranquility/sde.zip",
		},
		{
			name:     "absolute",
			manifest: "https://cdn.example.com/tranquility/manifest.json",
			archive:  "https://mirror.example.net/sde.zip",
			want:     "https://mirror.example.net/sde.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveArchiveURL(tt.manifest, tt.archive)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
