package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reserve",
		Name:      "uploads_processed_total",
		Help:      "Total number of upload pipeline runs by outcome",
	}, []string{"outcome"})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reserve",
		Name:      "classifications_total",
		Help:      "Classifier calls by backend and result kind",
	}, []string{"backend", "result"})

	ClassificationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reserve",
		Name:      "classification_fallbacks_total",
		Help:      "Fallback classifications against the original upload",
	}, []string{"outcome"})

	ClassificationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reserve",
		Name:      "classification_duration_seconds",
		Help:      "Duration of a single classifier call",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"backend"})

	DescriptionLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reserve",
		Name:      "description_lookups_total",
		Help:      "Encyclopedia summary lookups by result",
	}, []string{"result"})

	SightingsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "reserve",
		Name:      "sightings_created_total",
		Help:      "Total number of finalized sightings",
	})

	ImagesArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reserve",
		Name:      "images_archived_total",
		Help:      "Sighting images copied to object storage",
	}, []string{"outcome"})

	ArchiveBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reserve",
		Name:      "archive_backlog",
		Help:      "Sightings waiting to be archived",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reserve",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "reserve",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
