package sde

import (
	"archive/zip"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// progressInterval is how often download progress is logged.
const progressInterval = 10 * time.Second

// downloadArchive streams the archive to destPath, logging progress.
// Transient failures are the caller's to retry; a partial file is left
// in place and overwritten on the next attempt.
func (m *Manager) downloadArchive(ctx context.Context, archiveURL, destPath string, sizeHint int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, archiveURL, nil)
	if err != nil {
		return fmt.Errorf("create archive request: %w", err)
	}
	req.Header.Set("User-Agent", m.cfg.UserAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download archive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download archive: unexpected status %s", resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = sizeHint
	}

	file, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("%w: create archive file: %v", ErrStorage, err)
	}
	defer file.Close()

	m.logger.Info().
		Str("url", archiveURL).
		Str("size", humanize.Bytes(uint64(max64(total, 0)))).
		Msg("Downloading export archive")

	var written int64
	lastLog := time.Now()
	buf := make([]byte, 1<<20)

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := file.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("%w: write archive file: %v", ErrStorage, writeErr)
			}
			written += int64(n)
			downloadedBytes.Add(float64(n))

			if time.Since(lastLog) >= progressInterval {
				lastLog = time.Now()
				event := m.logger.Info().Str("downloaded", humanize.Bytes(uint64(written)))
				if total > 0 {
					event = event.Str("progress", fmt.Sprintf("%.1f%%", float64(written)/float64(total)*100))
				}
				event.Msg("Download progress")
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("download archive: %w", readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: sync archive file: %v", ErrStorage, err)
	}

	m.logger.Info().Str("size", humanize.Bytes(uint64(written))).Msg("Archive download finished")
	return nil
}

// verifyChecksum compares the archive file digest against the
// manifest-declared value. A mismatch is an integrity failure.
func verifyChecksum(path, expected, algorithm string) error {
	var digest hash.Hash
	switch strings.ToLower(algorithm) {
	case "", "md5":
		digest = md5.New()
	case "sha256":
		digest = sha256.New()
	default:
		return fmt.Errorf("unsupported checksum type %q", algorithm)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive for verification: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(digest, file); err != nil {
		return fmt.Errorf("hash archive: %w", err)
	}

	actual := hex.EncodeToString(digest.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: checksum mismatch (got %s, manifest declares %s)", ErrIntegrity, actual, expected)
	}

	return nil
}

// checksumMatches reports whether an existing file already matches the
// manifest checksum, enabling download resume.
func checksumMatches(path, expected, algorithm string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	return verifyChecksum(path, expected, algorithm) == nil
}

// unpack extracts the archive into destDir. Structural archive errors
// are integrity failures; filesystem errors are storage failures.
func unpack(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("%w: open archive: %v", ErrIntegrity, err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if err := extractEntry(entry, destDir); err != nil {
			return err
		}
	}

	return nil
}

func extractEntry(entry *zip.File, destDir string) error {
	// Reject entries escaping the staging directory.
	target := filepath.Join(destDir, filepath.Clean(entry.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("%w: archive entry %q escapes extraction directory", ErrIntegrity, entry.Name)
	}

	if entry.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("%w: create directory: %v", ErrStorage, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrStorage, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("%w: read archive entry %q: %v", ErrIntegrity, entry.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("%w: create file: %v", ErrStorage, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		// A truncated or corrupt stream surfaces here as a decompression
		// error; a full disk as a write error. Either way the staging
		// directory is discarded by the caller.
		return fmt.Errorf("%w: extract %q: %v", ErrIntegrity, entry.Name, err)
	}

	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
