package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/budget"
)

type fakeBudgetStore struct {
	mu       sync.Mutex
	seed     []budget.Account
	upserted [][]budget.Account
}

func (s *fakeBudgetStore) ListBudgetAccounts(context.Context) ([]budget.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed, nil
}

func (s *fakeBudgetStore) UpsertBudgetAccounts(_ context.Context, accounts []budget.Account) error {
	s.mu.Lock()
	s.upserted = append(s.upserted, accounts)
	s.mu.Unlock()
	return nil
}

func TestBudgetSync_RestoresOnStart(t *testing.T) {
	t.Parallel()

	mgr := budget.NewManager(budget.DefaultTierLimits(), budget.GlobalConfig{}, budget.Strict)
	store := &fakeBudgetStore{seed: []budget.Account{{
		UserID:            "alice",
		Tier:              gateway.TierPremium,
		CurrentMonthUsage: decimal.RequireFromString("3.5"),
		LastReset:         time.Now(),
	}}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := NewBudgetSyncWorker(mgr, store)
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mgr.Usage("alice").IsZero() {
		select {
		case <-deadline:
			t.Fatal("account not restored")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	if !mgr.Usage("alice").Equal(decimal.RequireFromString("3.5")) {
		t.Fatalf("usage = %s, want 3.5", mgr.Usage("alice"))
	}

	cancel()
	<-done
}

func TestBudgetSync_FlushesOnShutdown(t *testing.T) {
	t.Parallel()

	mgr := budget.NewManager(budget.DefaultTierLimits(), budget.GlobalConfig{}, budget.Strict)
	mgr.Record("bob", gateway.TierFree, decimal.RequireFromString("0.1"), 10)
	store := &fakeBudgetStore{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := NewBudgetSyncWorker(mgr, store)
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond) // let the goroutine start
	cancel()
	<-done

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.upserted) == 0 {
		t.Fatal("no snapshot persisted on shutdown")
	}
	last := store.upserted[len(store.upserted)-1]
	if len(last) != 1 || last[0].UserID != "bob" {
		t.Fatalf("persisted %+v", last)
	}
}
