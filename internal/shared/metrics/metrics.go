package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	uploadsTotal             atomic.Uint64
	uploadFailuresTotal      atomic.Uint64
	largeArtifactsTotal      atomic.Uint64
	pollTicksTotal           atomic.Uint64
	pollFailuresTotal        atomic.Uint64
	reportFetchesTotal       atomic.Uint64
	reportFetchFailuresTotal atomic.Uint64

	lifecycleResults = newLabeledCounter()

	analysisDuration = newHistogram([]float64{1000, 2000, 5000, 10000, 30000, 60000, 120000, 300000})
)

// IncUpload counts an upload attempt.
func IncUpload() { uploadsTotal.Add(1) }

// IncUploadFailure counts a failed upload.
func IncUploadFailure() { uploadFailuresTotal.Add(1) }

// IncLargeArtifact counts a recording above the compression threshold.
func IncLargeArtifact() { largeArtifactsTotal.Add(1) }

// IncPollTick counts one status round-trip.
func IncPollTick() { pollTicksTotal.Add(1) }

// IncPollFailure counts a poll loop that ended in error.
func IncPollFailure() { pollFailuresTotal.Add(1) }

// IncReportFetch counts a report request.
func IncReportFetch() { reportFetchesTotal.Add(1) }

// IncReportFetchFailure counts a failed report request.
func IncReportFetchFailure() { reportFetchFailuresTotal.Add(1) }

// IncLifecycleResult counts a lifecycle run reaching the result state.
func IncLifecycleResult(outcome string) {
	lifecycleResults.Inc(outcome)
}

// ObserveAnalysisDurationMs records upload-to-result time in milliseconds.
func ObserveAnalysisDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	analysisDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "signalcraft_uploads_total", "Recording uploads attempted", uploadsTotal.Load())
	writeCounter(&buf, "signalcraft_upload_failures_total", "Recording uploads that failed", uploadFailuresTotal.Load())
	writeCounter(&buf, "signalcraft_large_artifacts_total", "Recordings above the compression threshold", largeArtifactsTotal.Load())
	writeCounter(&buf, "signalcraft_poll_ticks_total", "Task status round-trips", pollTicksTotal.Load())
	writeCounter(&buf, "signalcraft_poll_failures_total", "Poll loops ended by an error", pollFailuresTotal.Load())
	writeCounter(&buf, "signalcraft_report_fetches_total", "Report requests", reportFetchesTotal.Load())
	writeCounter(&buf, "signalcraft_report_fetch_failures_total", "Report requests that failed", reportFetchFailuresTotal.Load())
	writeLabeledCounter(&buf, "signalcraft_lifecycle_results_total", "Lifecycle runs by outcome", "outcome", lifecycleResults.Snapshot())
	writeHistogram(&buf, "signalcraft_analysis_duration_ms", "Upload to result duration in milliseconds", analysisDuration.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: make(map[string]uint64)}
}

func (l *labeledCounter) Inc(label string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[label]++
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe records value in the first bucket that holds it; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
