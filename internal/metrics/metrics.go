package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nemonet1337/zaiGoBatch/pkg/batch"
	"github.com/nemonet1337/zaiGoBatch/pkg/inventory"
)

// Recorder exposes Prometheus collectors for batch runs
// バッチ実行のメトリクス
type Recorder struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	keys     *prometheus.CounterVec
}

var (
	_ batch.Recorder        = (*Recorder)(nil)
	_ inventory.KeyRecorder = (*Recorder)(nil)
)

// NewRecorder registers the batch collectors on reg; nil uses the default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_runs_total",
			Help: "Finished batch runs partitioned by process type and status.",
		}, []string{"process_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_run_duration_seconds",
			Help:    "Duration in seconds of batch runs.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"process_type"}),
		keys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carryover_keys",
			Help: "Inventory keys written by carryover runs, inherited or new.",
		}, []string{"kind"}),
	}
	reg.MustRegister(r.runs, r.duration, r.keys)
	return r
}

// ObserveRun records a finished run
func (r *Recorder) ObserveRun(processType batch.ProcessType, status batch.ProcessStatus, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(processType.String(), status.String()).Inc()
	r.duration.WithLabelValues(processType.String()).Observe(elapsed.Seconds())
}

// ObserveCarryover records the key counts of one carryover
func (r *Recorder) ObserveCarryover(inherited, created int) {
	if r == nil {
		return
	}
	r.keys.WithLabelValues("inherited").Add(float64(inherited))
	r.keys.WithLabelValues("new").Add(float64(created))
}
