package scraper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "share_extractions_total",
		Help: "Platform extractions by outcome",
	}, []string{"platform", "outcome"})

	extractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "share_extraction_duration_seconds",
		Help:    "Time spent extracting image candidates",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60},
	}, []string{"platform"})

	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "share_image_downloads_total",
		Help: "Candidate image downloads by outcome",
	}, []string{"outcome"})

	sharesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "share_pipeline_runs_total",
		Help: "Share pipeline runs by input kind and result",
	}, []string{"kind", "result"})

	detectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "share_detection_duration_seconds",
		Help:    "Round trip time of detection requests made by the pipeline",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)
