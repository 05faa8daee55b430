package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes here feed metrics, so they must stay low cardinality:
// operation and component names and status values only. URLs, session IDs
// and file paths belong in logs, which carry the trace_id for correlation.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation runs fn inside a span named operationName.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	t.RecordDBOperation(operation, statusOf(err), time.Since(start))

	return err
}

// InstrumentCatalogPoll instruments one catalog poll. fn returns the number of
// items the poll produced.
func (t *Telemetry) InstrumentCatalogPoll(ctx context.Context, fn func(ctx context.Context) (int, error)) error {
	var items int

	err := t.InstrumentOperation(ctx, "catalog_poll", "catalog", func(ctx context.Context) error {
		var err error
		items, err = fn(ctx)

		return err
	})

	t.RecordCatalogPoll(statusOf(err), items)

	return err
}

// InstrumentInstall instruments the installer handoff.
func (t *Telemetry) InstrumentInstall(ctx context.Context, fn InstrumentedFunc) error {
	err := t.InstrumentOperation(ctx, "install_handoff", "installer", fn)

	t.RecordInstallHandoff(statusOf(err))

	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
