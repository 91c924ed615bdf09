package syncer

import (
	"time"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/pkg/metrics"
)

// Metrics records sync outcomes in a metrics registry. A nil *Metrics is a no-op.
type Metrics struct {
	reg *metrics.Registry
}

// NewMetrics binds sync metrics to reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{reg: reg}
}

func (m *Metrics) observe(index string, res domain.SyncResult, started time.Time, err error) {
	if m == nil || m.reg == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case res.NoOp:
		outcome = "noop"
	case !res.Success:
		outcome = "inconsistent"
	}
	m.reg.Counter(metrics.WithLabels("draftnrun_sync_runs_total", "index", index, "outcome", outcome), "Sync runs by outcome").Inc()
	m.reg.Histogram(metrics.WithLabels("draftnrun_sync_duration_seconds", "index", index), "Sync wall time", nil).Since(started)
	if err != nil {
		return
	}
	points := func(op string) *metrics.Counter {
		return m.reg.Counter(metrics.WithLabels("draftnrun_sync_points_total", "index", index, "op", op), "Points written or removed by sync")
	}
	points("added").Add(int64(res.Added))
	points("refreshed").Add(int64(res.Refreshed))
	points("deleted").Add(int64(res.Deleted))
	points("skipped").Add(int64(res.Skipped))
	m.reg.Counter(metrics.WithLabels("draftnrun_sync_failed_batches_total", "index", index), "Batches skipped in best-effort mode").Add(int64(res.FailedBatches))
	if !res.NoOp {
		m.reg.Gauge(metrics.WithLabels("draftnrun_index_points", "index", index), "Point count after the last sync").Set(int64(res.FinalPointCount))
	}
}
