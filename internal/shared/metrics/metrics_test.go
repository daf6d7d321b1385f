package metrics

import (
	"strings"
	"testing"
)

func TestHistogramBucketsAreCumulative(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	snap := h.Snapshot()
	var cumulative uint64
	for i := range snap.buckets {
		cumulative += snap.counts[i]
	}
	if cumulative != 2 {
		t.Fatalf("expected 2 observations within finite buckets, got %d", cumulative)
	}
	if snap.count != 3 {
		t.Fatalf("expected count 3, got %d", snap.count)
	}
	if snap.sum != 555 {
		t.Fatalf("expected sum 555, got %v", snap.sum)
	}
}

func TestRenderIncludesLifecycleOutcomes(t *testing.T) {
	IncLifecycleResult("completed")
	IncLifecycleResult("poll_failed")
	IncUpload()

	out := Render()
	for _, want := range []string{
		`signalcraft_lifecycle_results_total{outcome="completed"}`,
		`signalcraft_lifecycle_results_total{outcome="poll_failed"}`,
		"# TYPE signalcraft_uploads_total counter",
		`signalcraft_analysis_duration_ms_bucket{le="+Inf"}`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected render to contain %q\n%s", want, out)
		}
	}
}
