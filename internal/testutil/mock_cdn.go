package testutil

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockCDN serves a bulk-data manifest and the archive it describes, the
// way the export CDN does.
type MockCDN struct {
	server *httptest.Server
	mu     sync.Mutex

	version     string
	publishedAt time.Time
	archive     []byte
	checksum    string

	// BreakChecksum makes the manifest advertise a wrong checksum so
	// integrity verification fails.
	BreakChecksum bool

	// FailDownloads makes the archive endpoint return 500 for the next
	// N requests.
	FailDownloads int

	downloadCount int
}

// NewMockCDN creates a CDN serving the given lookup-table files zipped
// into an archive published under the given version token.
func NewMockCDN(version string, files map[string]string) *MockCDN {
	cdn := &MockCDN{}
	cdn.Publish(version, files)

	cdn.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.json":
			cdn.serveManifest(w)
		case "/sde.zip":
			cdn.serveArchive(w)
		default:
			http.NotFound(w, r)
		}
	}))

	return cdn
}

// Publish replaces the served archive and version token.
func (c *MockCDN) Publish(version string, files map[string]string) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}

	sum := md5.Sum(buf.Bytes())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = version
	c.publishedAt = time.Now().UTC().Truncate(time.Second)
	c.archive = buf.Bytes()
	c.checksum = hex.EncodeToString(sum[:])
}

// ManifestURL returns the manifest endpoint.
func (c *MockCDN) ManifestURL() string {
	return c.server.URL + "/manifest.json"
}

// Close shuts down the server.
func (c *MockCDN) Close() {
	c.server.Close()
}

// DownloadCount returns how many archive downloads were attempted.
func (c *MockCDN) DownloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downloadCount
}

func (c *MockCDN) serveManifest(w http.ResponseWriter) {
	c.mu.Lock()
	checksum := c.checksum
	if c.BreakChecksum {
		checksum = "00000000000000000000000000000000"
	}
	manifest := map[string]any{
		"version":       c.version,
		"published_at":  c.publishedAt.Format(time.RFC3339),
		"archive_url":   "sde.zip", // relative to the manifest
		"checksum":      checksum,
		"checksum_type": "md5",
		"size_bytes":    len(c.archive),
	}
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(manifest)
}

func (c *MockCDN) serveArchive(w http.ResponseWriter) {
	c.mu.Lock()
	c.downloadCount++
	if c.FailDownloads > 0 {
		c.FailDownloads--
		c.mu.Unlock()
		http.Error(w, "upstream hiccup", http.StatusInternalServerError)
		return
	}
	archive := c.archive
	c.mu.Unlock()

	w.Header().Set("Content-Type", "application/zip")
	w.Write(archive)
}
