package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/fitstack/llmgate/internal"
)

const (
	receiptChanSize   = 500
	receiptBatchSize  = 50
	receiptFlushEvery = 5 * time.Second
)

// ReceiptStore is the persistence interface consumed by ReceiptRecorder.
type ReceiptStore interface {
	InsertReceipts(ctx context.Context, receipts []gateway.DecisionReceipt) error
}

// ReceiptRecorder buffers routing decision receipts and batch-flushes them.
// Receipts are diagnostics, so overflow simply drops the newest.
type ReceiptRecorder struct {
	ch    chan gateway.DecisionReceipt
	store ReceiptStore
}

// NewReceiptRecorder creates a ReceiptRecorder backed by store.
func NewReceiptRecorder(store ReceiptStore) *ReceiptRecorder {
	return &ReceiptRecorder{
		ch:    make(chan gateway.DecisionReceipt, receiptChanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (r *ReceiptRecorder) Name() string { return "receipt_recorder" }

// Record enqueues a receipt. It never blocks.
func (r *ReceiptRecorder) Record(dr gateway.DecisionReceipt) {
	select {
	case r.ch <- dr:
	default:
		slog.Debug("decision receipt dropped, buffer full")
	}
}

// Run processes receipts until ctx is cancelled, then flushes what remains.
func (r *ReceiptRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(receiptFlushEvery)
	defer ticker.Stop()

	buf := make([]gateway.DecisionReceipt, 0, receiptBatchSize)

	for {
		select {
		case dr := <-r.ch:
			buf = append(buf, dr)
			if len(buf) >= receiptBatchSize {
				r.flush(ctx, buf)
				buf = buf[:0]
			}
		case <-ticker.C:
			if len(buf) > 0 {
				r.flush(ctx, buf)
				buf = buf[:0]
			}
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				select {
				case dr := <-r.ch:
					buf = append(buf, dr)
				default:
					if len(buf) > 0 {
						r.flush(drainCtx, buf)
					}
					return nil
				}
			}
		}
	}
}

func (r *ReceiptRecorder) flush(ctx context.Context, buf []gateway.DecisionReceipt) {
	batch := make([]gateway.DecisionReceipt, len(buf))
	copy(batch, buf)
	if err := r.store.InsertReceipts(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "receipt flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
