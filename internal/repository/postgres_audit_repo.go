package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/civicportal/internal/audit"
)

// PostgresAuditRepo はPostgreSQLのadmin_audit_eventsテーブルを使用した監査リポジトリ。
// 追記のみを行い、既存イベントは更新しない。
type PostgresAuditRepo struct {
	db *sql.DB
}

// NewPostgresAuditRepo はPostgresAuditRepoを生成する。
func NewPostgresAuditRepo(db *sql.DB) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: db}
}

// Append は監査イベントを1件追記する。
func (r *PostgresAuditRepo) Append(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_audit_events (occurred_at, device_id, admin_id, path, requirement, authorized, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.Timestamp, event.DeviceID, event.AdminID, event.Path, event.Requirement, event.Authorized, event.Outcome,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Emit はaudit.Sinkを実装する。書き込み失敗はログに記録するのみで呼び出し元には返さない。
func (r *PostgresAuditRepo) Emit(ctx context.Context, event audit.Event) {
	if err := r.Append(ctx, event); err != nil {
		slog.Error("failed to persist audit event",
			slog.String("error", err.Error()),
			slog.String("path", event.Path),
		)
	}
}

// ListRecent は新しい順に最大limit件の監査イベントを返す。
func (r *PostgresAuditRepo) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT occurred_at, device_id, admin_id, path, requirement, authorized, outcome
		 FROM admin_audit_events
		 ORDER BY occurred_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.Timestamp, &e.DeviceID, &e.AdminID, &e.Path, &e.Requirement, &e.Authorized, &e.Outcome); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return events, nil
}

// DeleteOlderThan はcutoffより古いイベントを削除し、削除件数を返す。
func (r *PostgresAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM admin_audit_events WHERE occurred_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ AuditRepository = (*PostgresAuditRepo)(nil)
