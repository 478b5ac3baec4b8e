package tcc

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/couchbaselabs/gotcc"

type coordinatorMetrics struct {
	begun               metric.Int64Counter
	committed           metric.Int64Counter
	rolledBack          metric.Int64Counter
	terminationFailures metric.Int64Counter

	recoveryAttempts metric.Int64Counter
	recoverySkipped  metric.Int64Counter
	recoveryFailures metric.Int64Counter
}

func newCoordinatorMetrics(provider metric.MeterProvider) (*coordinatorMetrics, error) {
	meter := provider.Meter(instrumentationName)

	m := &coordinatorMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.begun, "tcc.transactions.begun", "Transactions created by begin or branch propagation."},
		{&m.committed, "tcc.transactions.committed", "Transactions whose participants were all confirmed."},
		{&m.rolledBack, "tcc.transactions.rolledback", "Transactions whose participants were all cancelled."},
		{&m.terminationFailures, "tcc.transactions.termination_failures", "Confirm or cancel attempts that left the record in place."},
		{&m.recoveryAttempts, "tcc.recovery.attempts", "Stale transactions the recovery sweep tried to terminate."},
		{&m.recoverySkipped, "tcc.recovery.skipped", "Stale transactions the recovery sweep skipped."},
		{&m.recoveryFailures, "tcc.recovery.failures", "Recovery attempts that failed."},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	return m, nil
}

func txAttributes(tx *Transaction) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("type", tx.ttype.String()),
		attribute.String("status", tx.status.String()),
	)
}

func (m *coordinatorMetrics) recordFailure(ctx context.Context, counter metric.Int64Counter, tx *Transaction, err error) {
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", tx.ttype.String()),
		attribute.String("status", tx.status.String()),
		attribute.String("class", classifyError(err).Class.String()),
	))
}
