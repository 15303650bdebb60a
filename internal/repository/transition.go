package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/overwasher/sensor-node/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TransitionRepository 活动状态变化日志
type TransitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransitionRepository 创建状态变化日志仓库
func NewTransitionRepository(db *sql.DB, logger *zap.Logger) *TransitionRepository {
	return &TransitionRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 创建日志表
func (r *TransitionRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS activity_transitions (
			transition_id UUID PRIMARY KEY,
			node_id       TEXT NOT NULL,
			state         TEXT NOT NULL,
			previous      TEXT NOT NULL,
			metric        INTEGER NOT NULL,
			active_count  INTEGER NOT NULL,
			observed_at   TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create activity_transitions: %w", err)
	}
	return nil
}

// RecordTransition 写入一次状态变化
func (r *TransitionRepository) RecordTransition(ctx context.Context, nodeID string, status models.Status) error {
	query := `
		INSERT INTO activity_transitions (
			transition_id, node_id, state, previous, metric, active_count, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	id := uuid.New().String()
	_, err := r.db.ExecContext(ctx, query,
		id,
		nodeID,
		status.State.String(),
		status.Previous.String(),
		status.Metric,
		status.ActiveCount,
		status.ObservedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity transition: %w", err)
	}

	r.logger.Debug("Activity transition recorded",
		zap.String("transition_id", id),
		zap.String("node_id", nodeID),
		zap.String("state", status.State.String()),
	)
	return nil
}

// ListRecent 最近的状态变化，按时间倒序
func (r *TransitionRepository) ListRecent(ctx context.Context, nodeID string, limit int) ([]models.Transition, error) {
	query := `
		SELECT
			transition_id,
			node_id,
			state,
			previous,
			metric,
			active_count,
			observed_at
		FROM activity_transitions
		WHERE node_id = $1
		ORDER BY observed_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity transitions: %w", err)
	}
	defer rows.Close()

	var out []models.Transition
	for rows.Next() {
		var t models.Transition
		if err := rows.Scan(
			&t.TransitionID,
			&t.NodeID,
			&t.State,
			&t.Previous,
			&t.Metric,
			&t.ActiveCount,
			&t.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity transition: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity transitions: %w", err)
	}
	return out, nil
}
