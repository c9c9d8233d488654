package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kalambet/jopper/internal/syncer"
)

// Recorder turns sync run results into metrics.
type Recorder struct {
	created  metric.Int64Counter
	updated  metric.Int64Counter
	deleted  metric.Int64Counter
	errors   metric.Int64Counter
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRecorder creates the sync instruments on m.
func NewRecorder(m metric.Meter) (*Recorder, error) {
	var r Recorder
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&r.created, "jopper.sync.notes.created", "Notes uploaded for the first time"},
		{&r.updated, "jopper.sync.notes.updated", "Notes re-uploaded after a change"},
		{&r.deleted, "jopper.sync.notes.deleted", "Notes removed from OpenWebUI"},
		{&r.errors, "jopper.sync.errors", "Per-note sync failures"},
		{&r.runs, "jopper.sync.runs", "Completed sync runs"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	r.duration, err = m.Float64Histogram("jopper.sync.duration",
		metric.WithDescription("Sync run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordRun adds one run's counters.
func (r *Recorder) RecordRun(ctx context.Context, res syncer.RunResult) {
	r.created.Add(ctx, int64(res.Created))
	r.updated.Add(ctx, int64(res.Updated))
	r.deleted.Add(ctx, int64(res.Deleted))
	r.errors.Add(ctx, int64(res.Errors))
	r.runs.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", res.Success)))
	r.duration.Record(ctx, float64(res.Duration.Milliseconds()))
}
