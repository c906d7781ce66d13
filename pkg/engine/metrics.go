// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/s3rius/rustus/pkg/debug"
)

var (
	// StartedUploads counts created uploads
	StartedUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rustus",
		Name:      "started_uploads",
		Help:      "Number of created uploads",
	})

	// FinishedUploads counts uploads that received all declared bytes
	FinishedUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rustus",
		Name:      "finished_uploads",
		Help:      "Number of finished uploads",
	})

	// TerminatedUploads counts uploads removed via the termination extension
	TerminatedUploads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "rustus",
		Name:      "terminated_uploads",
		Help:      "Number of terminated uploads",
	})

	// ActiveUploads tracks uploads that are created but not yet finished
	ActiveUploads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rustus",
		Name:      "active_uploads",
		Help:      "Number of active file uploads",
	})

	// UploadSizes observes the final size of finished uploads
	UploadSizes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rustus",
		Name:      "uploads_sizes",
		Help:      "Size of uploaded files in bytes",
		Buckets:   prometheus.ExponentialBuckets(2, 2, 40),
	})
)

func init() {
	debug.Registry().MustRegister(
		StartedUploads,
		FinishedUploads,
		TerminatedUploads,
		ActiveUploads,
		UploadSizes,
	)
}
