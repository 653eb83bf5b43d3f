package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/evetools/evedata/internal/config"
	"github.com/evetools/evedata/pkg/cache"
	"github.com/evetools/evedata/pkg/client"
	"github.com/evetools/evedata/pkg/ratelimit"
	"github.com/evetools/evedata/pkg/sde"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildCacheStore(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := client.New(client.Config{
		BaseURL:          cfg.ESI.BaseURL,
		UserAgent:        cfg.ESI.UserAgent,
		HTTPClient:       &http.Client{Timeout: cfg.ESI.RequestTimeout},
		CacheStore:       store,
		CacheMaxEntryAge: cfg.Cache.MaxEntryAge,
		RateLimit:        cfg.ESI.RateLimit,
		RateWindow:       cfg.ESI.RateWindow,
		Retry: client.RetryConfig{
			MaxAttempts: cfg.ESI.MaxRetries,
		},
		MaxThrottleRetries: cfg.ESI.MaxThrottleRetries,
	})
	if err != nil {
		return err
	}

	snapshots, err := sde.NewManager(sde.Config{
		ManifestURL:   cfg.SDE.ManifestURL,
		WorkDir:       cfg.SDE.WorkDir,
		UserAgent:     cfg.ESI.UserAgent,
		KeepSnapshots: cfg.SDE.KeepSnapshots,
	})
	if err != nil {
		return err
	}

	router := newRouter(engine, snapshots)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("Server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildCacheStore creates the configured cache backend. Redis is pinged
// before use so a bad address fails at startup, not on the first request.
func buildCacheStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemoryStore(), nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Redis.Addr,
		Password: cfg.Cache.Redis.Password,
		DB:       cfg.Cache.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.Cache.Redis.Addr).Msg("Connected to Redis")

	return cache.NewRedisStore(redisClient), nil
}

func newRouter(engine *client.Engine, snapshots *sde.Manager) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/status", statusHandler(engine, snapshots))

	r.Get("/esi/*", proxyHandler(engine))

	return r
}

type statusResponse struct {
	Budget   ratelimit.Budget       `json:"budget"`
	Snapshot *sde.InstalledSnapshot `json:"snapshot,omitempty"`
}

func statusHandler(engine *client.Engine, snapshots *sde.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := statusResponse{
			Budget:   engine.Limiter().Snapshot(ratelimit.DefaultClass),
			Snapshot: snapshots.Current(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Warn().Err(err).Msg("Failed to write status response")
		}
	}
}

// proxyHandler forwards GET requests under /esi/ to the upstream through
// the engine, so callers share its cache and error budget.
func proxyHandler(engine *client.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route := strings.TrimPrefix(r.URL.Path, "/esi")
		if route == "" {
			route = "/"
		}

		resp, err := engine.Get(r.Context(), route, nil, r.URL.Query())
		if err != nil {
			writeProxyError(w, err)
			return
		}

		if resp.ETag != "" {
			w.Header().Set("ETag", resp.ETag)
		}
		if !resp.Expires.IsZero() {
			w.Header().Set("Expires", resp.Expires.UTC().Format(http.TimeFormat))
		}
		if ct := resp.Headers.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		if resp.FromCache {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}

		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write(resp.Data); err != nil {
			log.Warn().Err(err).Str("route", route).Msg("Failed to write proxy response")
		}
	}
}

func writeProxyError(w http.ResponseWriter, err error) {
	var reqErr *client.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode >= 400 {
		http.Error(w, reqErr.Message, reqErr.StatusCode)
		return
	}
	http.Error(w, "upstream request failed: "+err.Error(), http.StatusBadGateway)
}
