package sde

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// SnapshotVersion identifies a published export. Tokens are opaque:
// versions are compared by equality only, never ordered.
type SnapshotVersion struct {
	// Token is the version identifier from the manifest.
	Token string `json:"token"`

	// PublishedAt is when the export was published.
	PublishedAt time.Time `json:"published_at"`
}

// Manifest describes the latest published export.
type Manifest struct {
	// Version is the opaque version token.
	Version string `json:"version"`

	// PublishedAt is the publish timestamp.
	PublishedAt time.Time `json:"published_at"`

	// ArchiveURL is the archive location, absolute or relative to the
	// manifest URL.
	ArchiveURL string `json:"archive_url"`

	// Checksum is the hex digest of the archive file.
	Checksum string `json:"checksum"`

	// ChecksumType names the digest algorithm ("md5" when empty).
	ChecksumType string `json:"checksum_type"`

	// SizeBytes is the archive size, 0 when unknown.
	SizeBytes int64 `json:"size_bytes"`
}

// SnapshotVersion returns the version the manifest advertises.
func (m *Manifest) SnapshotVersion() SnapshotVersion {
	return SnapshotVersion{Token: m.Version, PublishedAt: m.PublishedAt}
}

// fetchManifest downloads and decodes the manifest, resolving a relative
// archive URL against the manifest location. The document is tiny, so it
// is refetched on every check rather than revalidated conditionally.
func fetchManifest(ctx context.Context, httpClient *http.Client, manifestURL, userAgent string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create manifest request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: unexpected status %s", resp.Status)
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version == "" {
		return nil, fmt.Errorf("manifest has no version token")
	}
	if manifest.ArchiveURL == "" {
		return nil, fmt.Errorf("manifest has no archive URL")
	}

	resolved, err := resolveArchiveURL(manifestURL, manifest.ArchiveURL)
	if err != nil {
		return nil, err
	}
	manifest.ArchiveURL = resolved

	return &manifest, nil
}

// resolveArchiveURL resolves a possibly-relative archive URL against the
// manifest URL.
func resolveArchiveURL(manifestURL, archiveURL string) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("parse manifest URL: %w", err)
	}
	ref, err := url.Parse(archiveURL)
	if err != nil {
		return "", fmt.Errorf("parse archive URL: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}
