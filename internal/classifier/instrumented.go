package classifier

import (
	"context"
	"time"

	"github.com/vietddude/triage/internal/metrics"
)

type instrumented struct {
	next Provider
}

// Instrument records latency and error metrics for every call to p.
func Instrument(p Provider) Provider {
	if _, ok := p.(*instrumented); ok {
		return p
	}
	return &instrumented{next: p}
}

func (i *instrumented) Name() string {
	return i.next.Name()
}

func (i *instrumented) Classify(ctx context.Context, source, text string) (Output, error) {
	start := time.Now()
	out, err := i.next.Classify(ctx, source, text)
	metrics.ClassifierLatency.WithLabelValues(i.next.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ClassifierErrorsTotal.WithLabelValues(i.next.Name()).Inc()
	}
	return out, err
}
