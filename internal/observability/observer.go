package observability

import (
	"time"

	"github.com/mrsinham/dicomfix/internal/batch"
)

// BatchObserver reports batch events to a logger and metrics. Either may be nil.
type BatchObserver struct {
	Logger  *Logger
	Metrics *Metrics
}

var _ batch.Observer = (*BatchObserver)(nil)

// ItemFixed implements batch.Observer.
func (o *BatchObserver) ItemFixed(name string, kind batch.Kind) {
	if o.Logger != nil {
		o.Logger.ItemFixed(name, kind.String())
	}
	if o.Metrics != nil {
		o.Metrics.ItemsTotal.WithLabelValues(kind.String(), "fixed").Inc()
	}
}

// ItemFailed implements batch.Observer.
func (o *BatchObserver) ItemFailed(name string, kind batch.Kind, err error) {
	if o.Logger != nil {
		o.Logger.ItemFailed(name, kind.String(), batch.ErrorKind(err), err)
	}
	if o.Metrics != nil {
		o.Metrics.ItemsTotal.WithLabelValues(kind.String(), "failed").Inc()
	}
}

// ItemSkipped implements batch.Observer.
func (o *BatchObserver) ItemSkipped(name string) {
	if o.Logger != nil {
		o.Logger.ItemSkipped(name)
	}
	if o.Metrics != nil {
		o.Metrics.ItemsTotal.WithLabelValues(batch.KindSkip.String(), "skipped").Inc()
	}
}

// BatchCompleted implements batch.Observer.
func (o *BatchObserver) BatchCompleted(attempted, failed, skipped int, elapsed time.Duration) {
	if o.Logger != nil {
		o.Logger.BatchCompleted(attempted, failed, skipped, elapsed)
	}
	if o.Metrics != nil {
		o.Metrics.BatchesTotal.Inc()
		o.Metrics.BatchDuration.Observe(elapsed.Seconds())
	}
}
