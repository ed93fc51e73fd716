// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/civicportal/internal/audit"
	"github.com/hitoshi/civicportal/internal/storage"
)

// KVRepository は端末ローカルストレージ相当のキーバリュー永続化インターフェース。
// storage.KVと同一のメソッド集合を持ち、バックエンド（メモリ/Redis/PostgreSQL）を差し替え可能にする。
type KVRepository interface {
	storage.KV
}

// AuditRepository は管理者ルート監査イベントの永続化インターフェース。
type AuditRepository interface {
	audit.Sink

	// Append は監査イベントを1件追記する。
	Append(ctx context.Context, event audit.Event) error

	// ListRecent は新しい順に最大limit件の監査イベントを返す。
	ListRecent(ctx context.Context, limit int) ([]audit.Event, error)

	// DeleteOlderThan はcutoffより古いイベントを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
