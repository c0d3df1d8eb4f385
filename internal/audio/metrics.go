package audio

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	cacheHits     metric.Int64Counter
	synthCalls    metric.Int64Counter
	rateLimited   metric.Int64Counter
	failures      metric.Int64Counter
	inflightJoins metric.Int64Counter
}

func newMetrics(meter metric.Meter) *metrics {
	return &metrics{
		cacheHits:     counter(meter, "audio.cache.hits", "Resolutions answered from the clip cache"),
		synthCalls:    counter(meter, "audio.synth.calls", "Network synthesis calls issued"),
		rateLimited:   counter(meter, "audio.synth.rate_limited", "Synthesis calls answered with 429"),
		failures:      counter(meter, "audio.synth.failures", "Resolutions that ended in an error"),
		inflightJoins: counter(meter, "audio.inflight.joins", "Resolutions that joined a pending call"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
