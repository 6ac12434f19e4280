package latency

import (
	"time"

	"github.com/helix-lab/helix/bookfeed/pkg/metrics"
)

type Profiler struct {
	start time.Time
	label string
}

func Start(label string) Profiler {
	return Profiler{start: time.Now(), label: label}
}

// Stop records the elapsed time under the profiler's stage label.
func (p Profiler) Stop() time.Duration {
	elapsed := time.Since(p.start)
	metrics.StageLatency.WithLabelValues(p.label).Observe(elapsed.Seconds())
	return elapsed
}
