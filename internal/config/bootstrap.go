package config

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
	"github.com/fitstack/llmgate/internal/storage"
)

// Bootstrap seeds the database from the config file on first run. Existing
// rows win so operator edits survive restarts.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	// Seed models
	for _, entry := range cfg.Models {
		mc, err := entry.ModelConfig()
		if err != nil {
			return err
		}
		existing, _ := store.GetModel(ctx, mc.ModelID)
		if existing != nil {
			continue // already exists, skip
		}
		if err := store.CreateModel(ctx, &mc); err != nil {
			return err
		}
		slog.Info("bootstrapped model", "model_id", mc.ModelID, "provider", mc.Provider)
	}

	// Seed routing rules only when the table is empty; rules are an ordered
	// list, so merging with existing rows would scramble precedence.
	existingRules, err := store.ListRules(ctx)
	if err != nil {
		return err
	}
	if len(existingRules) == 0 && len(cfg.Rules) > 0 {
		rules := make([]gateway.RoutingRule, 0, len(cfg.Rules))
		for _, r := range cfg.Rules {
			rules = append(rules, gateway.RoutingRule{
				Name:     r.Name,
				TaskType: r.TaskType,
				UserTier: r.UserTier,
				Priority: r.Priority,
				Models:   r.Models,
				Pin:      r.Pin,
			})
		}
		if err := store.ReplaceRules(ctx, rules); err != nil {
			return err
		}
		slog.Info("bootstrapped routing rules", "count", len(rules))
	}

	// Seed tier quotas
	for _, t := range cfg.Tiers {
		budget := decimal.Zero
		if t.MonthlyBudget != "" {
			var err error
			budget, err = decimal.NewFromString(t.MonthlyBudget)
			if err != nil {
				return err
			}
		}
		limits := gateway.TierLimits{
			Tier:          gateway.ParseTier(t.Tier),
			DailyLimit:    t.DailyLimit,
			WeeklyLimit:   t.WeeklyLimit,
			MonthlyLimit:  t.MonthlyLimit,
			MonthlyBudget: budget,
		}
		if err := store.UpsertTierLimits(ctx, limits); err != nil {
			return err
		}
	}

	// Persist the global budget so it survives config file changes.
	if cfg.Budget.MonthlyBudget != "" && cfg.Budget.MonthlyBudget != "0" {
		if _, err := store.GetSetting(ctx, "monthly_budget"); errors.Is(err, gateway.ErrNotFound) {
			if err := store.SetSetting(ctx, "monthly_budget", cfg.Budget.MonthlyBudget); err != nil {
				return err
			}
		}
	}

	return nil
}
