package metrics

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounter(t *testing.T) {
	r := New()
	c := r.Counter("sync_total", "Sync runs")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("expected 5, got %d", c.Value())
	}
	if r.Counter("sync_total", "") != c {
		t.Fatal("same name must return the same counter")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("points", "")
	g.Set(42)
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 43 {
		t.Fatalf("expected 43, got %d", g.Value())
	}
	g.SetFloat(0.25)
	if g.FloatValue() != 0.25 {
		t.Fatalf("expected 0.25, got %v", g.FloatValue())
	}
	if !strings.Contains(r.Render(), "points 0.25\n") {
		t.Fatalf("float gauge not rendered:\n%s", r.Render())
	}
}

func TestHistogram(t *testing.T) {
	r := New()
	h := r.Histogram("latency_seconds", "", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.8, 2} {
		h.Observe(v)
	}
	bounds, cum, sum, count := h.snapshot()
	if count != 5 || len(bounds) != 3 || bounds[0] != 0.1 {
		t.Fatalf("bounds=%v count=%d", bounds, count)
	}
	want := []uint64{2, 3, 4}
	for i := range want {
		if cum[i] != want[i] {
			t.Fatalf("cumulative = %v, want %v", cum, want)
		}
	}
	if sum < 3.24 || sum > 3.26 {
		t.Fatalf("sum = %v", sum)
	}
}

func TestHistogramSince(t *testing.T) {
	h := New().Histogram("elapsed", "", nil)
	h.Since(time.Now().Add(-50 * time.Millisecond))
	if _, _, sum, count := h.snapshot(); count != 1 || sum < 0.05 {
		t.Fatalf("sum=%v count=%d", sum, count)
	}
}

func TestWithLabels(t *testing.T) {
	tests := []struct {
		name string
		kvs  []string
		want string
	}{
		{"x_total", nil, "x_total"},
		{"x_total", []string{"index"}, "x_total"},
		{"x_total", []string{"index", "t1", "op", "add"}, `x_total{index="t1",op="add"}`},
		{"x_total", []string{"index", `a"b`}, `x_total{index="a\"b"}`},
	}
	for _, tt := range tests {
		if got := WithLabels(tt.name, tt.kvs...); got != tt.want {
			t.Errorf("WithLabels(%q, %v) = %q, want %q", tt.name, tt.kvs, got, tt.want)
		}
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct{ in, base, labels string }{
		{"foo", "foo", ""},
		{`foo{k="v"}`, "foo", `k="v"`},
		{`foo{a="1",b="2"}`, "foo", `a="1",b="2"`},
	}
	for _, tt := range tests {
		b, l := splitName(tt.in)
		if b != tt.base || l != tt.labels {
			t.Errorf("splitName(%q) = %q, %q", tt.in, b, l)
		}
	}
}

func TestRender(t *testing.T) {
	r := New()
	r.Counter(WithLabels("runs_total", "index", "b"), "Sync runs").Add(3)
	r.Counter(WithLabels("runs_total", "index", "a"), "").Add(7)
	r.Gauge("active", "Active syncs").Set(2)
	h := r.Histogram(WithLabels("duration_seconds", "index", "a"), "Sync time", []float64{0.1, 1})
	h.Observe(0.5)
	h.Observe(5)

	out := r.Render()
	for _, want := range []string{
		"# HELP runs_total Sync runs\n# TYPE runs_total counter\nruns_total{index=\"a\"} 7\nruns_total{index=\"b\"} 3\n",
		"# TYPE active gauge\nactive 2\n",
		`duration_seconds_bucket{index="a",le="0.1"} 0`,
		`duration_seconds_bucket{index="a",le="1"} 1`,
		`duration_seconds_bucket{index="a",le="+Inf"} 2`,
		`duration_seconds_sum{index="a"} 5.5`,
		`duration_seconds_count{index="a"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "runs_total") > strings.Index(out, "active") {
		t.Error("families must render in registration order")
	}
}

func TestKindConflict(t *testing.T) {
	r := New()
	r.Counter("dual", "").Inc()
	g := r.Gauge("dual", "")
	if g == nil {
		t.Fatal("conflicting kind must still return a usable gauge")
	}
	g.Set(9)
	if strings.Contains(r.Render(), "dual 9") {
		t.Error("detached gauge must not be rendered")
	}
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("served_total", "").Inc()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("code=%d content-type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "served_total 1") {
		t.Error("missing metric in handler output")
	}
}

func TestServe_Shutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New().Serve(ctx, addr) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestCollectRuntime(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.CollectRuntime(ctx, "worker", time.Hour)
	if r.Gauge("worker_goroutines", "").Value() <= 0 {
		t.Fatal("goroutine gauge not sampled")
	}
	if r.Gauge("worker_heap_alloc_bytes", "").Value() <= 0 {
		t.Fatal("heap gauge not sampled")
	}
}
