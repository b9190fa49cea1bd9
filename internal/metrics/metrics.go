// Package metrics implements C0b, the ambient metrics surface: a set of
// OpenTelemetry instruments that are safe to call against when no
// exporter is configured (a noop meter is used, matching how the corpus
// treats its own otel/trace spans as optional instrumentation rather than
// a required dependency — see internal/hooks/hooks_otel.go, which adds
// span events defensively and never fails a hook run if tracing is off).
package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Recorder holds every instrument the engine emits into. A zero-value
// Recorder is not usable; use New or NewNoop.
type Recorder struct {
	exportDuration  metric.Float64Histogram
	importConflicts metric.Int64Counter
	lanRequests     metric.Int64Counter
	mergeDecisions  metric.Int64Counter
	busyRetries     metric.Int64Counter
}

// New builds a Recorder from meter, naming instruments under the kb.*
// namespace. Any instrument-creation error is logged and that instrument
// becomes a noop, so a misconfigured exporter never prevents the engine
// from starting.
func New(meter metric.Meter, log *slog.Logger) *Recorder {
	if meter == nil {
		meter = noop.Meter{}
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{}

	var err error
	if r.exportDuration, err = meter.Float64Histogram("kb.export.duration",
		metric.WithDescription("duration of a package export in seconds"),
		metric.WithUnit("s")); err != nil {
		log.Warn("metrics: create kb.export.duration failed", "error", err)
	}
	if r.importConflicts, err = meter.Int64Counter("kb.import.conflicts_total",
		metric.WithDescription("conflicts recorded while applying an imported package")); err != nil {
		log.Warn("metrics: create kb.import.conflicts_total failed", "error", err)
	}
	if r.lanRequests, err = meter.Int64Counter("kb.lan.requests_total",
		metric.WithDescription("LAN endpoint requests handled, by path and status")); err != nil {
		log.Warn("metrics: create kb.lan.requests_total failed", "error", err)
	}
	if r.mergeDecisions, err = meter.Int64Counter("kb.merge.decisions_total",
		metric.WithDescription("merge arbitration outcomes, by entity type and outcome")); err != nil {
		log.Warn("metrics: create kb.merge.decisions_total failed", "error", err)
	}
	if r.busyRetries, err = meter.Int64Counter("kb.busy_retries_total",
		metric.WithDescription("SQLITE_BUSY retries issued by the store's retry policy")); err != nil {
		log.Warn("metrics: create kb.busy_retries_total failed", "error", err)
	}
	return r
}

// NewNoop returns a Recorder wired to the noop meter, for components
// (tests, the CLI's one-shot commands) that don't configure telemetry.
func NewNoop() *Recorder {
	return New(noop.Meter{}, slog.Default())
}

// ExportDuration records the wall-clock duration of one export in
// seconds, tagged by mode (Full/Incremental).
func (r *Recorder) ExportDuration(ctx context.Context, seconds float64, mode string) {
	if r.exportDuration == nil {
		return
	}
	r.exportDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("mode", mode)))
}

// ImportConflicts increments the conflict counter by n after an import.
func (r *Recorder) ImportConflicts(ctx context.Context, n int64) {
	if r.importConflicts == nil || n == 0 {
		return
	}
	r.importConflicts.Add(ctx, n)
}

// LANRequest records one handled LAN request.
func (r *Recorder) LANRequest(ctx context.Context, path string, status int) {
	if r.lanRequests == nil {
		return
	}
	r.lanRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("path", path),
		attribute.Int("status", status),
	))
}

// MergeDecision records one arbitration outcome.
func (r *Recorder) MergeDecision(ctx context.Context, entityType, outcome string) {
	if r.mergeDecisions == nil {
		return
	}
	r.mergeDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entityType", entityType),
		attribute.String("outcome", outcome),
	))
}

// BusyRetry records one retry issued by the store's busy policy.
func (r *Recorder) BusyRetry(ctx context.Context, op string) {
	if r.busyRetries == nil {
		return
	}
	r.busyRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
