package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordDecision(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecision(ctx, "default", "confident_match", false, 150*time.Microsecond)
	m.RecordDecision(ctx, "default", "new_speaker", false, 90*time.Microsecond)
	m.RecordDecision(ctx, "default", "below_minimum_threshold", true, 120*time.Microsecond)

	rm := collect(t, reader)

	decisions := findMetric(rm, "diarist.decisions")
	if decisions == nil {
		t.Fatal("diarist.decisions not found")
	}
	sum, ok := decisions.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("diarist.decisions has unexpected data type %T", decisions.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("decisions total=%d, want 3", total)
	}

	forced := findMetric(rm, "diarist.forced_assignments")
	if forced == nil {
		t.Fatal("diarist.forced_assignments not found")
	}
	fsum := forced.Data.(metricdata.Sum[int64])
	var ftotal int64
	for _, dp := range fsum.DataPoints {
		ftotal += dp.Value
	}
	if ftotal != 1 {
		t.Errorf("forced total=%d, want 1", ftotal)
	}

	hist := findMetric(rm, "diarist.decision.duration")
	if hist == nil {
		t.Fatal("diarist.decision.duration not found")
	}
}

func TestNilMetricsHelpersAreNoOps(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	// Must not panic.
	m.RecordDecision(ctx, "c", "confident_match", true, time.Millisecond)
	m.AddTrackedSpeakers(ctx, "c", 1)
	m.AddUnknownClusters(ctx, "c", 1)
	m.AddReplayChanges(ctx, "c", 2)
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	m, reader := newTestMetrics(t)

	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/feed", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("status=%d, want %d", rec.Code, http.StatusTeapot)
	}

	rm := collect(t, reader)
	if findMetric(rm, "diarist.http.request.duration") == nil {
		t.Fatal("diarist.http.request.duration not found after request")
	}
}
