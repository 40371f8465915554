package reconcile

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	directormetrics "github.com/fleetworks/director/metrics"
)

var (
	planDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "director",
		Subsystem: "reconcile",
		Name:      "plan_duration_seconds",
		Help:      "Duration of manifest-to-fleet diffing, in seconds.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{directormetrics.LabelDeployment})

	actionDuration = prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
		Namespace: "director",
		Subsystem: "reconcile",
		Name:      "action_duration_seconds",
		Help:      "Duration of individual infrastructure actions, in seconds.",
		Buckets:   stdprometheus.ExponentialBuckets(0.5, 3, 9), // top bucket ~= 1.5 hours
	}, []string{directormetrics.LabelAction, directormetrics.LabelSuccess})
)
