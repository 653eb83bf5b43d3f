package sde

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// updateAttempts tracks ApplyUpdate outcomes
	updateAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sde_update_attempts_total",
			Help: "Total snapshot update attempts by result",
		},
		[]string{"result"}, // "success", "integrity_error", "storage_error", "download_error", "noop"
	)

	// downloadedBytes tracks archive bytes downloaded
	downloadedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sde_download_bytes_total",
			Help: "Total archive bytes downloaded",
		},
	)

	// installedTimestamp is the install time of the current snapshot
	installedTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sde_installed_timestamp_seconds",
			Help: "Unix timestamp of the currently installed snapshot",
		},
	)
)
