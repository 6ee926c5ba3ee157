package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	gateway "github.com/fitstack/llmgate/internal"
)

// InsertUsage batch-inserts usage records.
func (s *Store) InsertUsage(ctx context.Context, records []gateway.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 15
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.RequestID, r.UserID, r.ModelID, r.Provider,
			r.TaskType, r.SessionID,
			r.InputTokens, r.OutputTokens, r.Cost.String(),
			r.LatencyMs, boolToInt(r.Cached), boolToInt(r.Success), r.ErrorKind,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO ai_usage_logs
		(id, request_id, user_id, model_id, provider, task_type, session_id,
		 input_tokens, output_tokens, cost, latency_ms, cached, success, error_kind, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// SumUsageCost returns the total accumulated cost for a user.
func (s *Store) SumUsageCost(ctx context.Context, userID string) (decimal.Decimal, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT cost FROM ai_usage_logs WHERE user_id = ?`, userID,
	)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	// Costs are stored as decimal strings; summing in SQL would go through
	// floating point, so accumulate here instead.
	total := decimal.Zero
	for rows.Next() {
		var cost string
		if err := rows.Scan(&cost); err != nil {
			return decimal.Zero, err
		}
		d, err := decimal.NewFromString(cost)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// QueryUsage returns usage records matching the filter.
func (s *Store) QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageRecord, error) {
	where, args := usageWhere(f)
	query := `SELECT id, request_id, user_id, model_id, provider, task_type, session_id,
		input_tokens, output_tokens, cost, latency_ms, cached, success, error_kind, created_at
		FROM ai_usage_logs` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageRecord
	for rows.Next() {
		var r gateway.UsageRecord
		var cost, createdAt string
		var cached, success int
		err := rows.Scan(
			&r.ID, &r.RequestID, &r.UserID, &r.ModelID, &r.Provider,
			&r.TaskType, &r.SessionID,
			&r.InputTokens, &r.OutputTokens, &cost,
			&r.LatencyMs, &cached, &success, &r.ErrorKind, &createdAt,
		)
		if err != nil {
			return nil, err
		}
		r.Cached = cached != 0
		r.Success = success != 0
		if d, e := decimal.NewFromString(cost); e == nil {
			r.Cost = d
		}
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountUsage returns the count of usage records matching the filter.
func (s *Store) CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error) {
	where, args := usageWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ai_usage_logs`+where, args...,
	).Scan(&n)
	return n, err
}

func usageWhere(f gateway.UsageFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ModelID != "" {
		clauses = append(clauses, "model_id = ?")
		args = append(args, f.ModelID)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// InsertReceipts batch-inserts routing decision receipts.
func (s *Store) InsertReceipts(ctx context.Context, receipts []gateway.DecisionReceipt) error {
	if len(receipts) == 0 {
		return nil
	}

	placeholders := make([]string, len(receipts))
	args := make([]any, 0, len(receipts)*5)
	for i, r := range receipts {
		rejected, err := json.Marshal(r.Rejected)
		if err != nil {
			return err
		}
		placeholders[i] = "(?, ?, ?, ?, ?)"
		args = append(args,
			r.RequestID, r.ModelID, string(rejected), r.Explanation,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO decision_receipts (request_id, model_id, rejected, explanation, created_at)
		VALUES ` + strings.Join(placeholders, ", ")
	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryReceipts returns the decision receipts recorded for a request.
func (s *Store) QueryReceipts(ctx context.Context, requestID string) ([]gateway.DecisionReceipt, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT request_id, model_id, rejected, explanation, created_at
		 FROM decision_receipts WHERE request_id = ? ORDER BY created_at`, requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.DecisionReceipt
	for rows.Next() {
		var r gateway.DecisionReceipt
		var rejected, createdAt string
		if err := rows.Scan(&r.RequestID, &r.ModelID, &rejected, &r.Explanation, &createdAt); err != nil {
			return nil, err
		}
		if rejected != "" && rejected != "null" {
			if err := json.Unmarshal([]byte(rejected), &r.Rejected); err != nil {
				return nil, err
			}
		}
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
