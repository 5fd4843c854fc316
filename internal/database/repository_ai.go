package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"collab-trading-bot/internal/executor"
)

// =====================================================
// AI LOG OPERATIONS
// =====================================================

// SaveAILog persists an AI decision disclosure row. Satisfies the executor
// package's AILogStore interface.
func (r *Repository) SaveAILog(ctx context.Context, l *executor.AILogRecord) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	query := `
		INSERT INTO ai_logs (
			id, user_id, order_id, stage, model, input, output, explanation,
			uploaded_to_exchange, exchange_log_id, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		l.ID, l.UserID, l.OrderID, l.Stage, l.Model, l.Input, l.Output,
		l.Explanation, l.UploadedToExchange, l.ExchangeLogID, l.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save ai log: %w", err)
	}
	return nil
}

// GetAILogs returns recent AI logs for a user, newest first
func (r *Repository) GetAILogs(ctx context.Context, userID string, limit int) ([]AILog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, user_id, COALESCE(order_id, ''), stage, COALESCE(model, ''),
			COALESCE(input, ''), COALESCE(output, ''), COALESCE(explanation, ''),
			uploaded_to_exchange, COALESCE(exchange_log_id, ''), timestamp, created_at
		FROM ai_logs
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ai logs: %w", err)
	}
	defer rows.Close()

	var logs []AILog
	for rows.Next() {
		var l AILog
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.OrderID, &l.Stage, &l.Model,
			&l.Input, &l.Output, &l.Explanation,
			&l.UploadedToExchange, &l.ExchangeLogID, &l.Timestamp, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ai log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// =====================================================
// ANALYSIS HISTORY
// =====================================================

// SaveAnalysis records one pipeline stage output
func (r *Repository) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	query := `
		INSERT INTO analyses (id, stage, analyst_id, input, output)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.Pool.QueryRow(ctx, query,
		a.ID, a.Stage, a.AnalystID, a.Input, a.Output,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

// GetRecentAnalyses returns the newest recorded stage outputs
func (r *Repository) GetRecentAnalyses(ctx context.Context, limit int) ([]Analysis, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, stage, analyst_id, COALESCE(input, ''), COALESCE(output, ''), created_at
		FROM analyses
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(&a.ID, &a.Stage, &a.AnalystID, &a.Input, &a.Output, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PruneAnalyses deletes stage outputs older than the cutoff
func (r *Repository) PruneAnalyses(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM analyses WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune analyses: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AuditRecorder adapts the repository to the deliberation pipeline's audit
// sink, which has no context or error in its signature. Writes are
// best-effort with a short deadline.
type AuditRecorder struct {
	repo *Repository
}

// NewAuditRecorder wraps a repository for pipeline audit recording
func NewAuditRecorder(repo *Repository) *AuditRecorder {
	return &AuditRecorder{repo: repo}
}

// RecordAnalysis persists one stage output, logging and swallowing failures
func (a *AuditRecorder) RecordAnalysis(stage, analystID, input, output string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &Analysis{Stage: stage, AnalystID: analystID, Input: input, Output: output}
	if err := a.repo.SaveAnalysis(ctx, rec); err != nil {
		a.repo.db.logger.Warn("Analysis audit write failed", "stage", stage, "analyst", analystID, "error", err)
	}
}
