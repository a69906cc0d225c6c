package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// counters for the HTTP surface and the analysis pipeline
type counters struct {
	requests   atomic.Uint64
	inFlight   atomic.Int64
	succeeded  atomic.Uint64
	failed     atomic.Uint64
	analyses   atomic.Uint64
	analyzing  atomic.Int64
	detectErrs atomic.Uint64
	startedAt  time.Time
}

var stats = &counters{startedAt: time.Now()}

// AnalysisObserver feeds pipeline lifecycle into the process counters.
type AnalysisObserver struct{}

func (AnalysisObserver) AnalysisStarted() {
	stats.analyses.Add(1)
	stats.analyzing.Add(1)
}

func (AnalysisObserver) AnalysisFinished(failed bool) {
	stats.analyzing.Add(-1)
	if failed {
		stats.detectErrs.Add(1)
	}
}

// Snapshot returns the current counters plus runtime memory figures.
func Snapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       stats.requests.Load(),
		"requests_in_progress": stats.inFlight.Load(),
		"requests_success":     stats.succeeded.Load(),
		"requests_failed":      stats.failed.Load(),
		"analyses_total":       stats.analyses.Load(),
		"analyses_running":     stats.analyzing.Load(),
		"analyses_failed":      stats.detectErrs.Load(),
		"uptime_seconds":       time.Since(stats.startedAt).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes": m.Alloc,
			"sys_bytes":   m.Sys,
			"num_gc":      m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware counts requests by outcome. A 101 upgrade counts as success.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats.requests.Add(1)
		stats.inFlight.Add(1)
		defer stats.inFlight.Add(-1)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		if rw.statusCode < 400 {
			stats.succeeded.Add(1)
		} else {
			stats.failed.Add(1)
		}
	})
}

// MetricsHandler serves Snapshot as JSON.
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Snapshot())
}
