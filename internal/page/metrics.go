package page

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-interpreter/page"

type instruments struct {
	requests metric.Int64Counter
	failures metric.Int64Counter
	stale    metric.Int64Counter
	results  metric.Int64Counter
	sessions metric.Int64Counter
	latency  metric.Float64Histogram
}

func newInstruments(log *slog.Logger) instruments {
	meter := otel.Meter(instrumentationName)
	var inst instruments
	var err error
	if inst.requests, err = meter.Int64Counter("interp.translation.requests", metric.WithDescription("Translation requests issued")); err != nil {
		log.Warn("failed to create instrument", slogError(err))
	}
	if inst.failures, err = meter.Int64Counter("interp.translation.failures", metric.WithDescription("Translation requests that failed")); err != nil {
		log.Warn("failed to create instrument", slogError(err))
	}
	if inst.stale, err = meter.Int64Counter("interp.translation.stale", metric.WithDescription("Translation responses discarded because a newer request was issued")); err != nil {
		log.Warn("failed to create instrument", slogError(err))
	}
	if inst.results, err = meter.Int64Counter("interp.recognition.results", metric.WithDescription("Recognition results applied to the transcript")); err != nil {
		log.Warn("failed to create instrument", slogError(err))
	}
	if inst.sessions, err = meter.Int64Counter("interp.capture.sessions", metric.WithDescription("Capture sessions started")); err != nil {
		log.Warn("failed to create instrument", slogError(err))
	}
	if inst.latency, err = meter.Float64Histogram("interp.translation.latency", metric.WithUnit("ms"), metric.WithDescription("Translation round trip latency")); err != nil {
		log.Warn("failed to create instrument", slogError(err))
	}
	return inst
}

func add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
