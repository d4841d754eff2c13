package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"

	"github.com/openreq/openreq/pkg/log"
	"github.com/openreq/openreq/store"
)

// Metrics contains all Prometheus metrics for the application
type Metrics struct {
	// Action metrics
	ActionsTotal   *prometheus.CounterVec
	ActionsFail    *prometheus.CounterVec
	ActionsApplied *prometheus.CounterVec

	// Detection metrics
	DetectionsTotal   *prometheus.CounterVec
	DetectionsFail    *prometheus.CounterVec
	DetectionEvents   prometheus.Counter
	DetectionDuration prometheus.Histogram

	// Request inventory metrics
	Requests *prometheus.GaugeVec
}

// NewMetrics initializes and registers Prometheus metrics
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry initializes and registers Prometheus metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	metrics := &Metrics{
		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openreq_actions_total",
				Help: "The total number of signed actions received by action name",
			},
			[]string{"action"},
		),
		ActionsFail: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openreq_actions_fail",
				Help: "The total number of rejected signed actions by action name",
			},
			[]string{"action"},
		),
		ActionsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openreq_actions_applied",
				Help: "The total number of successfully applied signed actions by action name",
			},
			[]string{"action"},
		),
		DetectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openreq_detections_total",
				Help: "The total number of balance detections run by extension",
			},
			[]string{"extension"},
		),
		DetectionsFail: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "openreq_detections_fail",
				Help: "The total number of failed balance detections by error code",
			},
			[]string{"extension", "code"},
		),
		DetectionEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "openreq_detection_events_total",
			Help: "The total number of payment and refund events retrieved",
		}),
		DetectionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "openreq_detection_duration_seconds",
			Help:    "Duration of one balance detection",
			Buckets: prometheus.DefBuckets,
		}),
		Requests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "openreq_requests",
				Help: "The number of stored requests",
			},
			[]string{"state"},
		),
	}

	return metrics
}

func (m *Metrics) RecordMetricsPeriodically(db *gorm.DB, logger log.Logger) {
	logger = logger.NewSystem("metrics")
	dbTicker := time.NewTicker(15 * time.Second)
	defer dbTicker.Stop()

	for range dbTicker.C {
		m.UpdateRequestMetrics(db, logger)
	}
}

func (m *Metrics) UpdateRequestMetrics(db *gorm.DB, logger log.Logger) {
	type StateCount struct {
		State string
		Count int64
	}

	var results []StateCount

	err := db.Model(&store.StoredRequest{}).
		Select("state, COUNT(*) as count").
		Group("state").
		Scan(&results).Error
	if err != nil {
		logger.Error("failed to count stored requests", "error", err)
		return
	}

	// Reset the gauge vector before setting new values
	m.Requests.Reset()
	for _, result := range results {
		m.Requests.WithLabelValues(result.State).Set(float64(result.Count))
	}
}
