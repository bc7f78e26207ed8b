package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics holds server counters.
type Metrics struct {
	QueriesTotal  atomic.Int64
	QueriesFailed atomic.Int64
	ActiveSockets atomic.Int64
	SyncTriggered atomic.Int64
}

func writeMetric(w io.Writer, name, typ, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, typ)
	fmt.Fprintf(w, "%s %v\n", name, value)
}

// handleMetrics serves GET /metrics in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeMetric(w, "askverse_queries_total", "counter", "Total queries processed.", s.metrics.QueriesTotal.Load())
	writeMetric(w, "askverse_queries_failed_total", "counter", "Queries that did not succeed.", s.metrics.QueriesFailed.Load())
	writeMetric(w, "askverse_websocket_connections", "gauge", "Open WebSocket connections.", s.metrics.ActiveSockets.Load())
	writeMetric(w, "askverse_sync_triggered_total", "counter", "Document syncs started through the API.", s.metrics.SyncTriggered.Load())

	if s.deps.APIs != nil {
		writeMetric(w, "askverse_api_endpoints", "gauge", "Indexed API endpoints.", len(s.deps.APIs.List()))
	}
	if s.deps.Documents != nil {
		if n, err := s.deps.Documents.Count(r.Context()); err == nil {
			writeMetric(w, "askverse_documents", "gauge", "Documents in the search index.", n)
		}
	}
	running := 0
	if s.deps.Sync != nil && s.deps.Sync.Running() {
		running = 1
	}
	writeMetric(w, "askverse_sync_running", "gauge", "Whether a document sync is in progress.", running)
	writeMetric(w, "askverse_uptime_seconds", "gauge", "Seconds since the server started.", fmt.Sprintf("%.0f", time.Since(s.startTime).Seconds()))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeMetric(w, "go_goroutines", "gauge", "Number of goroutines.", runtime.NumGoroutine())
	writeMetric(w, "go_memstats_alloc_bytes", "gauge", "Bytes of allocated heap objects.", mem.Alloc)
	writeMetric(w, "go_memstats_sys_bytes", "gauge", "Bytes of memory obtained from the OS.", mem.Sys)
}
