package resurrect

import (
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	directormetrics "github.com/fleetworks/director/metrics"
)

var problemsDetected = prometheus.NewCounterFrom(stdprometheus.CounterOpts{
	Namespace: "director",
	Subsystem: "resurrect",
	Name:      "problems_detected_total",
	Help:      "Count of newly opened fleet problems found by scans.",
}, []string{directormetrics.LabelDeployment})
