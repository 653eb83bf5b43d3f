package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/evetools/evedata/internal/testutil"
	"github.com/evetools/evedata/pkg/client"
	"github.com/evetools/evedata/pkg/sde"
)

func testRouterSetup(t *testing.T) (*testutil.MockAPI, http.Handler) {
	t.Helper()

	api := testutil.NewMockAPI()
	t.Cleanup(api.Close)

	cdn := testutil.NewMockCDN("2024-05-01", map[string]string{"fsd/types.yaml": "587:\n  name: Rifter\n"})
	t.Cleanup(cdn.Close)

	cfg := client.DefaultConfig("evedata-test/1.0 (dev@example.com)")
	cfg.BaseURL = api.URL()
	engine, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	snapshots, err := sde.NewManager(sde.DefaultConfig(cdn.ManifestURL(), t.TempDir(), cfg.UserAgent))
	if err != nil {
		t.Fatalf("Failed to create snapshot manager: %v", err)
	}

	return api, newRouter(engine, snapshots)
}

func TestHealthzEndpoint(t *testing.T) {
	_, router := testRouterSetup(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, router := testRouterSetup(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, router := testRouterSetup(t)

	req := httptest.NewRequest("GET", "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status response: %v", err)
	}

	if status.Budget.Limit <= 0 {
		t.Errorf("Expected positive budget limit, got %d", status.Budget.Limit)
	}
	if status.Snapshot != nil {
		t.Error("Expected no snapshot before sync")
	}
}

func TestProxyEndpoint(t *testing.T) {
	api, router := testRouterSetup(t)
	api.SetResponse("/v1/status/", testutil.NewHealthyResponse(`{"players":31456}`))

	req := httptest.NewRequest("GET", "/esi/v1/status/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "31456") {
		t.Errorf("Unexpected body: %s", body)
	}
	if got := resp.Header.Get("X-Cache"); got != "MISS" {
		t.Errorf("Expected X-Cache MISS, got %q", got)
	}

	// Second request is served from the cache.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/esi/v1/status/", nil))

	resp = w.Result()
	if got := resp.Header.Get("X-Cache"); got != "HIT" {
		t.Errorf("Expected X-Cache HIT, got %q", got)
	}
	if api.RequestCount() != 1 {
		t.Errorf("Expected 1 upstream request, got %d", api.RequestCount())
	}
}

func TestProxyEndpoint_UpstreamError(t *testing.T) {
	api, router := testRouterSetup(t)
	api.SetResponse("/v1/missing/", testutil.MockResponse{StatusCode: http.StatusNotFound, Body: `{"error":"not found"}`})

	req := httptest.NewRequest("GET", "/esi/v1/missing/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Result().StatusCode)
	}
}
