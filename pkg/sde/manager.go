package sde

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// archiveFileName is the downloaded archive in the workdir. It survives
// failed attempts so a matching download can be resumed.
const archiveFileName = "sde.zip"

// snapshotDirPrefix prefixes installed snapshot directories.
const snapshotDirPrefix = "sde-"

// CheckResult is the outcome of a version check against the manifest.
type CheckResult struct {
	// UpToDate is true when the installed token equals the manifest's.
	UpToDate bool

	// Available is the manifest version when an update is available,
	// and also on UpToDate for status reporting.
	Available SnapshotVersion
}

// Config holds the sync manager configuration.
type Config struct {
	// ManifestURL locates the remote export manifest.
	ManifestURL string

	// WorkDir holds the archive, staging directories, installed
	// snapshots, and the state file.
	WorkDir string

	// UserAgent for manifest and archive requests.
	UserAgent string

	// HTTPClient performs the downloads. Defaults to a client with a
	// 10 minute timeout (archives are large).
	HTTPClient *http.Client

	// KeepSnapshots is how many superseded snapshot directories are
	// retained after a successful repoint. Default 1.
	KeepSnapshots int

	// DownloadRetries bounds retry attempts for interrupted downloads.
	DownloadRetries int

	// DownloadBackoff is the delay between download retries.
	DownloadBackoff time.Duration
}

// DefaultConfig returns a sync manager configuration.
func DefaultConfig(manifestURL, workDir, userAgent string) Config {
	return Config{
		ManifestURL:     manifestURL,
		WorkDir:         workDir,
		UserAgent:       userAgent,
		KeepSnapshots:   1,
		DownloadRetries: 3,
		DownloadBackoff: 2 * time.Second,
	}
}

// Manager synchronizes the local snapshot with the published export.
//
// The current snapshot lives behind a single pointer guarded by mu;
// readers dereference it and never cache the raw path long-term. Updates
// single-flight on updateMu: the whole download/verify/unpack phase runs
// without touching the pointer, so readers of the old snapshot are never
// blocked, and only the final repoint takes the write lock.
type Manager struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.RWMutex
	current *InstalledSnapshot

	updateMu sync.Mutex
}

// NewManager creates a sync manager, resuming any snapshot recorded in
// the workdir's state file.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ManifestURL == "" {
		return nil, fmt.Errorf("manifest URL is required")
	}
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("work directory is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if cfg.KeepSnapshots < 0 {
		cfg.KeepSnapshots = 0
	}
	if cfg.DownloadRetries <= 0 {
		cfg.DownloadRetries = 3
	}
	if cfg.DownloadBackoff <= 0 {
		cfg.DownloadBackoff = 2 * time.Second
	}

	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work directory: %w", err)
	}
	cfg.WorkDir = workDir

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create work directory: %v", ErrStorage, err)
	}

	m := &Manager{
		cfg:        cfg,
		httpClient: cfg.HTTPClient,
		logger:     log.With().Str("component", "sde").Logger(),
	}

	if snapshot := loadState(workDir); snapshot != nil {
		m.current = snapshot
		installedTimestamp.Set(float64(snapshot.InstalledAt.Unix()))
		m.logger.Info().
			Str("version", snapshot.Version.Token).
			Str("dir", snapshot.Dir).
			Msg("Resumed installed snapshot from state file")
	} else {
		m.logger.Info().Str("workdir", workDir).Msg("No installed snapshot")
	}

	return m, nil
}

// Current returns a copy of the installed snapshot, or nil when none is
// installed. Safe concurrently with ApplyUpdate.
func (m *Manager) Current() *InstalledSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.current == nil {
		return nil
	}
	snapshot := *m.current
	return &snapshot
}

// CurrentSnapshotLocation returns the directory of the installed
// snapshot.
func (m *Manager) CurrentSnapshotLocation() (string, error) {
	current := m.Current()
	if current == nil {
		return "", ErrNoSnapshot
	}
	return current.Dir, nil
}

// CheckForUpdate fetches the manifest and compares version tokens.
// Tokens are opaque: any mismatch means the remote version is preferred,
// no local recency guessing.
func (m *Manager) CheckForUpdate(ctx context.Context) (*CheckResult, error) {
	manifest, err := fetchManifest(ctx, m.httpClient, m.cfg.ManifestURL, m.cfg.UserAgent)
	if err != nil {
		return nil, err
	}

	available := manifest.SnapshotVersion()
	current := m.Current()

	if current != nil && current.Version.Token == manifest.Version {
		m.logger.Debug().Str("version", manifest.Version).Msg("Snapshot is up to date")
		return &CheckResult{UpToDate: true, Available: available}, nil
	}

	m.logger.Info().
		Str("available", manifest.Version).
		Str("installed", installedToken(current)).
		Msg("Snapshot update available")

	return &CheckResult{Available: available}, nil
}

// ApplyUpdate downloads, verifies, unpacks, and installs the given
// version. At most one update proceeds at a time; concurrent callers
// wait and then observe the already-completed install (same-token calls
// are idempotent). On any failure before the repoint the previously
// installed snapshot is untouched.
func (m *Manager) ApplyUpdate(ctx context.Context, version SnapshotVersion) error {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	return m.applyLocked(ctx, version, false)
}

// Sync checks for an update and applies it when needed. force reinstalls
// even when the tokens match.
func (m *Manager) Sync(ctx context.Context, force bool) error {
	check, err := m.CheckForUpdate(ctx)
	if err != nil {
		return err
	}

	if check.UpToDate && !force {
		m.logger.Info().Str("version", check.Available.Token).Msg("Skipping snapshot update")
		return nil
	}

	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	return m.applyLocked(ctx, check.Available, force)
}

// applyLocked runs the install pipeline. Caller holds updateMu.
func (m *Manager) applyLocked(ctx context.Context, version SnapshotVersion, force bool) error {
	if current := m.Current(); current != nil && current.Version.Token == version.Token && !force {
		updateAttempts.WithLabelValues("noop").Inc()
		m.logger.Info().Str("version", version.Token).Msg("Version already installed")
		return nil
	}

	// Refetch the manifest for the archive location and checksum; the
	// stored CheckResult may be minutes old.
	manifest, err := fetchManifest(ctx, m.httpClient, m.cfg.ManifestURL, m.cfg.UserAgent)
	if err != nil {
		updateAttempts.WithLabelValues("download_error").Inc()
		return err
	}
	if manifest.Version != version.Token {
		updateAttempts.WithLabelValues("download_error").Inc()
		return fmt.Errorf("manifest now advertises %q, requested %q: re-run the check", manifest.Version, version.Token)
	}

	archivePath := filepath.Join(m.cfg.WorkDir, archiveFileName)
	if err := m.fetchArchive(ctx, manifest, archivePath); err != nil {
		return err
	}

	stagingDir, err := m.unpackToStaging(archivePath)
	if err != nil {
		return err
	}

	if err := m.repoint(manifest.SnapshotVersion(), stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		return err
	}

	// The archive served its purpose; the next version will not match
	// its checksum anyway.
	os.Remove(archivePath)

	m.pruneSuperseded()

	updateAttempts.WithLabelValues("success").Inc()
	m.logger.Info().Str("version", version.Token).Msg("Snapshot update installed")
	return nil
}

// fetchArchive downloads the archive with bounded retries and verifies
// its checksum. A leftover archive that already matches is reused.
func (m *Manager) fetchArchive(ctx context.Context, manifest *Manifest, archivePath string) error {
	if checksumMatches(archivePath, manifest.Checksum, manifest.ChecksumType) {
		m.logger.Info().Str("path", archivePath).Msg("Existing archive matches manifest checksum, skipping download")
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.DownloadRetries; attempt++ {
		lastErr = m.downloadArchive(ctx, manifest.ArchiveURL, archivePath, manifest.SizeBytes)
		if lastErr == nil {
			break
		}
		if errors.Is(lastErr, ErrStorage) || ctx.Err() != nil {
			// Disk failures and cancellation do not retry.
			break
		}

		m.logger.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Msg("Archive download failed")

		if attempt < m.cfg.DownloadRetries {
			select {
			case <-ctx.Done():
				updateAttempts.WithLabelValues("download_error").Inc()
				return ctx.Err()
			case <-time.After(m.cfg.DownloadBackoff):
			}
		}
	}
	if lastErr != nil {
		result := "download_error"
		if errors.Is(lastErr, ErrStorage) {
			result = "storage_error"
		}
		updateAttempts.WithLabelValues(result).Inc()
		return lastErr
	}

	if err := verifyChecksum(archivePath, manifest.Checksum, manifest.ChecksumType); err != nil {
		// A corrupt download is not worth resuming from.
		os.Remove(archivePath)
		updateAttempts.WithLabelValues("integrity_error").Inc()
		return err
	}

	return nil
}

// unpackToStaging extracts the archive into a fresh staging directory.
// The staging directory is discarded on any failure.
func (m *Manager) unpackToStaging(archivePath string) (string, error) {
	stagingDir := filepath.Join(m.cfg.WorkDir, "staging-"+uuid.NewString())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		updateAttempts.WithLabelValues("storage_error").Inc()
		return "", fmt.Errorf("%w: create staging directory: %v", ErrStorage, err)
	}

	m.logger.Info().Str("staging", stagingDir).Msg("Unpacking archive")

	if err := unpack(archivePath, stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		result := "integrity_error"
		if errors.Is(err, ErrStorage) {
			result = "storage_error"
		}
		updateAttempts.WithLabelValues(result).Inc()
		if errors.Is(err, ErrIntegrity) {
			// The archive itself is bad; remove it so the next attempt
			// downloads afresh instead of resuming a corrupt file.
			os.Remove(archivePath)
		}
		return "", err
	}

	return stagingDir, nil
}

// repoint atomically installs the staged snapshot: rename into a fresh
// version directory, persist the state file, swap the pointer. Every
// install gets its own directory, so a forced reinstall of the current
// version never touches the tree readers are still dereferencing; the
// replaced directory stays intact until pruneSuperseded reclaims it
// after the swap.
func (m *Manager) repoint(version SnapshotVersion, stagingDir string) error {
	versionDir := filepath.Join(m.cfg.WorkDir,
		snapshotDirPrefix+sanitizeToken(version.Token)+"-"+uuid.NewString()[:8])

	if err := os.Rename(stagingDir, versionDir); err != nil {
		updateAttempts.WithLabelValues("storage_error").Inc()
		return fmt.Errorf("%w: install snapshot directory: %v", ErrStorage, err)
	}

	snapshot := &InstalledSnapshot{
		Version:     version,
		Dir:         versionDir,
		InstalledAt: time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := saveState(m.cfg.WorkDir, snapshot); err != nil {
		updateAttempts.WithLabelValues("storage_error").Inc()
		return err
	}
	m.current = snapshot
	installedTimestamp.Set(float64(snapshot.InstalledAt.Unix()))

	return nil
}

// pruneSuperseded removes old snapshot directories beyond the configured
// keep-count. The most recently replaced snapshots survive.
func (m *Manager) pruneSuperseded() {
	current := m.Current()

	entries, err := os.ReadDir(m.cfg.WorkDir)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to scan workdir for superseded snapshots")
		return
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var superseded []candidate

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), snapshotDirPrefix) {
			continue
		}
		path := filepath.Join(m.cfg.WorkDir, entry.Name())
		if current != nil && path == current.Dir {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		superseded = append(superseded, candidate{path: path, modTime: info.ModTime()})
	}

	sort.Slice(superseded, func(i, j int) bool {
		return superseded[i].modTime.After(superseded[j].modTime)
	})

	for i, old := range superseded {
		if i < m.cfg.KeepSnapshots {
			continue
		}
		if err := os.RemoveAll(old.path); err != nil {
			m.logger.Warn().Err(err).Str("dir", old.path).Msg("Failed to prune superseded snapshot")
			continue
		}
		m.logger.Info().Str("dir", old.path).Msg("Pruned superseded snapshot")
	}
}

// sanitizeToken makes a version token safe as a directory name.
func sanitizeToken(token string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '_':
			return r
		default:
			return '_'
		}
	}, token)
}

func installedToken(snapshot *InstalledSnapshot) string {
	if snapshot == nil {
		return "none"
	}
	return snapshot.Version.Token
}
