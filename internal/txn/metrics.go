package txn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// kernelMetrics are the transaction manager's otel instruments: commit
// and rollback counts are the headline signal an operator watches;
// deadlock avoidance and lock-wait-timeout counts distinguish "the
// workload is contending" from "something is stuck" without needing a
// log-scrape to tell them apart.
type kernelMetrics struct {
	commits         metric.Int64Counter
	rollbacks       metric.Int64Counter
	deadlocksAvoided metric.Int64Counter
	lockWaitTimeouts metric.Int64Counter
}

func newKernelMetrics() *kernelMetrics {
	meter := otel.Meter("github.com/beads-db/kernel/internal/txn")

	commits, _ := meter.Int64Counter("kernel.txn.commits",
		metric.WithDescription("Transactions committed, by manager mode"))
	rollbacks, _ := meter.Int64Counter("kernel.txn.rollbacks",
		metric.WithDescription("Transactions rolled back, by manager mode"))
	deadlocksAvoided, _ := meter.Int64Counter("kernel.txn.deadlocks_avoided",
		metric.WithDescription("Lock requests aborted to avoid closing a wait-for cycle"))
	lockWaitTimeouts, _ := meter.Int64Counter("kernel.txn.lock_wait_timeouts",
		metric.WithDescription("Lock requests aborted after exceeding the lock wait budget"))

	return &kernelMetrics{
		commits:          commits,
		rollbacks:        rollbacks,
		deadlocksAvoided: deadlocksAvoided,
		lockWaitTimeouts: lockWaitTimeouts,
	}
}

func (m *kernelMetrics) recordCommit(ctx context.Context, mode Mode) {
	if m == nil {
		return
	}
	m.commits.Add(ctx, 1, metric.WithAttributes(modeAttr(mode)))
}

func (m *kernelMetrics) recordRollback(ctx context.Context, mode Mode) {
	if m == nil {
		return
	}
	m.rollbacks.Add(ctx, 1, metric.WithAttributes(modeAttr(mode)))
}

func (m *kernelMetrics) recordDeadlockAvoided(ctx context.Context) {
	if m == nil {
		return
	}
	m.deadlocksAvoided.Add(ctx, 1)
}

func (m *kernelMetrics) recordLockWaitTimeout(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockWaitTimeouts.Add(ctx, 1)
}

func modeAttr(mode Mode) attribute.KeyValue {
	switch mode {
	case ModeMV2PL:
		return attribute.String("mode", "MV2PL")
	case ModeMVCC:
		return attribute.String("mode", "MVCC")
	default:
		return attribute.String("mode", "LOCKS")
	}
}
