package http

import (
	"net/http"
	"strconv"
	"time"

	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

var requestDuration = func() *stdprometheus.HistogramVec {
	h := stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: "director",
		Name:      "request_duration_seconds",
		Help:      "Time (in seconds) spent serving HTTP requests.",
		Buckets:   stdprometheus.DefBuckets,
	}, []string{"method", "route", "status_code"})
	stdprometheus.MustRegister(h)
	return h
}()

func instrument(next http.Handler, route string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		cw := &codeWriter{w, http.StatusOK}
		next.ServeHTTP(cw, r)
		requestDuration.WithLabelValues(r.Method, route, strconv.Itoa(cw.code)).
			Observe(time.Since(begin).Seconds())
	})
}
