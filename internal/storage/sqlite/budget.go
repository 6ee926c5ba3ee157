package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/budget"
)

// GetSetting reads one budget setting by key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.read.QueryRowContext(ctx,
		`SELECT value FROM budget_settings WHERE key=?`, key,
	).Scan(&value)
	if err != nil {
		return "", notFoundErr(err)
	}
	return value, nil
}

// SetSetting upserts one budget setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO budget_settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// ListTierLimits returns the persisted per-tier quota table.
func (s *Store) ListTierLimits(ctx context.Context) ([]gateway.TierLimits, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT tier, daily_limit, weekly_limit, monthly_limit, monthly_budget
		 FROM user_tier_limits`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.TierLimits
	for rows.Next() {
		var l gateway.TierLimits
		var tier, budgetStr string
		if err := rows.Scan(&tier, &l.DailyLimit, &l.WeeklyLimit, &l.MonthlyLimit, &budgetStr); err != nil {
			return nil, err
		}
		l.Tier = gateway.ParseTier(tier)
		d, err := decimal.NewFromString(budgetStr)
		if err != nil {
			return nil, err
		}
		l.MonthlyBudget = d
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertTierLimits inserts or replaces one tier's quota row.
func (s *Store) UpsertTierLimits(ctx context.Context, limits gateway.TierLimits) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO user_tier_limits (tier, daily_limit, weekly_limit, monthly_limit, monthly_budget)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tier) DO UPDATE SET
		 daily_limit = excluded.daily_limit,
		 weekly_limit = excluded.weekly_limit,
		 monthly_limit = excluded.monthly_limit,
		 monthly_budget = excluded.monthly_budget`,
		limits.Tier.String(), limits.DailyLimit, limits.WeeklyLimit, limits.MonthlyLimit,
		limits.MonthlyBudget.String(),
	)
	return err
}

// ListBudgetAccounts loads every persisted per-user budget account.
func (s *Store) ListBudgetAccounts(ctx context.Context) ([]budget.Account, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT user_id, tier, monthly_budget, current_month_usage,
		 daily_requests, weekly_requests, monthly_requests, last_reset
		 FROM user_usage_limits`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []budget.Account
	for rows.Next() {
		var acc budget.Account
		var tier, budgetStr, usage, lastReset string
		err := rows.Scan(&acc.UserID, &tier, &budgetStr, &usage,
			&acc.DailyRequests, &acc.WeeklyRequests, &acc.MonthlyRequests, &lastReset)
		if err != nil {
			return nil, err
		}
		acc.Tier = gateway.ParseTier(tier)
		if acc.MonthlyBudget, err = decimal.NewFromString(budgetStr); err != nil {
			return nil, err
		}
		if acc.CurrentMonthUsage, err = decimal.NewFromString(usage); err != nil {
			return nil, err
		}
		if t, e := time.Parse(time.RFC3339, lastReset); e == nil {
			acc.LastReset = t
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// UpsertBudgetAccounts persists a snapshot of budget accounts in one
// multi-row upsert.
func (s *Store) UpsertBudgetAccounts(ctx context.Context, accounts []budget.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	placeholders := make([]string, len(accounts))
	args := make([]any, 0, len(accounts)*8)
	for i, acc := range accounts {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			acc.UserID, acc.Tier.String(),
			acc.MonthlyBudget.String(), acc.CurrentMonthUsage.String(),
			acc.DailyRequests, acc.WeeklyRequests, acc.MonthlyRequests,
			acc.LastReset.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO user_usage_limits
		(user_id, tier, monthly_budget, current_month_usage,
		 daily_requests, weekly_requests, monthly_requests, last_reset)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT(user_id) DO UPDATE SET
		tier = excluded.tier,
		monthly_budget = excluded.monthly_budget,
		current_month_usage = excluded.current_month_usage,
		daily_requests = excluded.daily_requests,
		weekly_requests = excluded.weekly_requests,
		monthly_requests = excluded.monthly_requests,
		last_reset = excluded.last_reset`

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}
