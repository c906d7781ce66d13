// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package hooks

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/s3rius/rustus/pkg/debug"
)

var (
	// HooksSent tracks successful deliveries by notifier and hook kind
	HooksSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rustus",
		Subsystem: "hooks",
		Name:      "sent_total",
		Help:      "Total number of hook events delivered",
	}, []string{"notifier", "hook"})

	// HookErrors tracks failed deliveries by notifier and hook kind
	HookErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rustus",
		Subsystem: "hooks",
		Name:      "errors_total",
		Help:      "Total number of failed hook deliveries",
	}, []string{"notifier", "hook"})

	// HookDuration tracks blocking hook latency by notifier
	HookDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rustus",
		Subsystem: "hooks",
		Name:      "duration_seconds",
		Help:      "Time spent delivering blocking hook events",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"notifier"})
)

func init() {
	debug.Registry().MustRegister(
		HooksSent,
		HookErrors,
		HookDuration,
	)
}
