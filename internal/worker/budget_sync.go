package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fitstack/llmgate/internal/budget"
)

const budgetSyncInterval = 60 * time.Second

// BudgetAccountStore is the persistence interface consumed by BudgetSyncWorker.
type BudgetAccountStore interface {
	ListBudgetAccounts(ctx context.Context) ([]budget.Account, error)
	UpsertBudgetAccounts(ctx context.Context, accounts []budget.Account) error
}

// BudgetSyncWorker restores budget accounts at startup and periodically
// persists the in-memory snapshot so counters survive a restart.
type BudgetSyncWorker struct {
	manager *budget.Manager
	store   BudgetAccountStore
}

// NewBudgetSyncWorker creates a BudgetSyncWorker.
func NewBudgetSyncWorker(manager *budget.Manager, store BudgetAccountStore) *BudgetSyncWorker {
	return &BudgetSyncWorker{manager: manager, store: store}
}

// Name returns the worker identifier.
func (w *BudgetSyncWorker) Name() string { return "budget_sync" }

// Run restores persisted accounts, then syncs snapshots until ctx is
// cancelled; a final sync runs on shutdown.
func (w *BudgetSyncWorker) Run(ctx context.Context) error {
	accounts, err := w.store.ListBudgetAccounts(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "budget restore failed",
			slog.String("error", err.Error()),
		)
	} else {
		for _, acc := range accounts {
			w.manager.Restore(acc)
		}
		if len(accounts) > 0 {
			slog.Info("budget accounts restored", "count", len(accounts))
		}
	}

	ticker := time.NewTicker(budgetSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sync(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.sync(flushCtx)
			cancel()
			return nil
		}
	}
}

func (w *BudgetSyncWorker) sync(ctx context.Context) {
	snap := w.manager.Snapshot()
	if len(snap) == 0 {
		return
	}
	if err := w.store.UpsertBudgetAccounts(ctx, snap); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "budget sync failed",
			slog.Int("count", len(snap)),
			slog.String("error", err.Error()),
		)
	}
}
