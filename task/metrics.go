package task

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	directormetrics "github.com/fleetworks/director/metrics"
)

var (
	queueLength = prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
		Namespace: "director",
		Subsystem: "task",
		Name:      "queue_length",
		Help:      "Number of tasks waiting to be run.",
	}, []string{})

	taskDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "director",
		Subsystem: "task",
		Name:      "duration_seconds",
		Help:      "Time taken to run a task, in seconds.",
		Buckets:   stdprometheus.ExponentialBuckets(0.5, 3, 9),
	}, []string{directormetrics.LabelTaskType, directormetrics.LabelSuccess})
)
