package sqlite

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
)

// CreateModel inserts a new model configuration.
func (s *Store) CreateModel(ctx context.Context, cfg *gateway.ModelConfig) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO ai_provider_priorities
		 (model_id, provider, model_name, api_key_ref, priority, cost_per_token, max_tokens, temperature, is_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ModelID, cfg.Provider, cfg.ModelName, cfg.APIKeyRef,
		int(cfg.Priority), cfg.CostPerTok.String(), cfg.MaxTokens, cfg.Temperature,
		boolToInt(cfg.Active),
	)
	return err
}

// GetModel retrieves a model configuration by id.
func (s *Store) GetModel(ctx context.Context, modelID string) (*gateway.ModelConfig, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT model_id, provider, model_name, api_key_ref, priority, cost_per_token, max_tokens, temperature, is_active
		 FROM ai_provider_priorities WHERE model_id=?`, modelID,
	)
	return scanModel(row)
}

// ListModels returns all model configurations, highest priority first.
func (s *Store) ListModels(ctx context.Context) ([]*gateway.ModelConfig, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT model_id, provider, model_name, api_key_ref, priority, cost_per_token, max_tokens, temperature, is_active
		 FROM ai_provider_priorities ORDER BY priority DESC, model_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*gateway.ModelConfig
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// UpdateModel updates a model configuration.
func (s *Store) UpdateModel(ctx context.Context, cfg *gateway.ModelConfig) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE ai_provider_priorities SET provider=?, model_name=?, api_key_ref=?,
		 priority=?, cost_per_token=?, max_tokens=?, temperature=?, is_active=?
		 WHERE model_id=?`,
		cfg.Provider, cfg.ModelName, cfg.APIKeyRef,
		int(cfg.Priority), cfg.CostPerTok.String(), cfg.MaxTokens, cfg.Temperature,
		boolToInt(cfg.Active), cfg.ModelID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "model")
}

// DeleteModel removes a model configuration.
func (s *Store) DeleteModel(ctx context.Context, modelID string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM ai_provider_priorities WHERE model_id=?`, modelID)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "model")
}

func scanModel(s scanner) (*gateway.ModelConfig, error) {
	var m gateway.ModelConfig
	var priority, active int
	var cost string

	err := s.Scan(
		&m.ModelID, &m.Provider, &m.ModelName, &m.APIKeyRef,
		&priority, &cost, &m.MaxTokens, &m.Temperature, &active,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	m.Priority = gateway.Priority(priority)
	m.Active = active != 0
	d, err := decimal.NewFromString(cost)
	if err != nil {
		return nil, err
	}
	m.CostPerTok = d
	return &m, nil
}

// ListRules returns the routing rules in declaration order.
func (s *Store) ListRules(ctx context.Context) ([]gateway.RoutingRule, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT name, task_type, user_tier, priority, models, pin
		 FROM routing_rules ORDER BY position ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []gateway.RoutingRule
	for rows.Next() {
		var r gateway.RoutingRule
		var models string
		var pin int
		if err := rows.Scan(&r.Name, &r.TaskType, &r.UserTier, &r.Priority, &models, &pin); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(models), &r.Models); err != nil {
			return nil, err
		}
		r.Pin = pin != 0
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// ReplaceRules swaps the full rule list in one transaction, preserving the
// given declaration order.
func (s *Store) ReplaceRules(ctx context.Context, rules []gateway.RoutingRule) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM routing_rules`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO routing_rules (position, name, task_type, user_tier, priority, models, pin)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range rules {
		models, err := json.Marshal(r.Models)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			i, r.Name, r.TaskType, r.UserTier, r.Priority, string(models), boolToInt(r.Pin),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}
