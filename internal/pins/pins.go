// Package pins は一般ユーザーのピン留めタブ集合を管理する。
//
// 集合はKVの1キー（pinnedTabs）にJSON配列として保存される。
// 表示ゲート（一般ユーザーが認証済みかつ管理者が未認証）が開いたときに読み込み、
// 閉じたときはメモリ上の集合のみを消去する。永続化データは残す。
package pins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/civicportal/internal/authz"
	"github.com/hitoshi/civicportal/internal/metrics"
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/security"
	"github.com/hitoshi/civicportal/internal/session"
	"github.com/hitoshi/civicportal/internal/storage"
)

// UserSource は一般ユーザーセッションの購読元。*session.UserStore が満たす。
type UserSource interface {
	Snapshot() session.UserSnapshot
	Subscribe(fn func(session.UserSnapshot)) func()
}

// AdminSource は管理者セッションの購読元。*session.AdminStore が満たす。
type AdminSource interface {
	Snapshot() session.AdminSnapshot
	Subscribe(fn func(session.AdminSnapshot)) func()
}

// Options はStoreの設定。
type Options struct {
	Sanitizer security.LabelSanitizerService
	Logger    *slog.Logger
	Metrics   metrics.MetricsCollector
}

// Store はピン留めタブ集合。全メソッドはgoroutineセーフ。
type Store struct {
	kv        storage.KV
	sanitizer security.LabelSanitizerService
	logger    *slog.Logger
	metrics   metrics.MetricsCollector

	mu      sync.Mutex
	tabs    []model.PinnedTab
	visible bool

	user   UserSource
	admin  AdminSource
	unsubs []func()
}

// NewStore はStoreを生成する。Bindされるまでゲートは閉じている。
func NewStore(kv storage.KV, opts Options) *Store {
	if opts.Sanitizer == nil {
		opts.Sanitizer = security.NewLabelSanitizer(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Store{
		kv:        kv,
		sanitizer: opts.Sanitizer,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Bind は両セッションストアを購読し、現在の状態でゲートを評価する。
func (s *Store) Bind(user UserSource, admin AdminSource) {
	s.mu.Lock()
	s.user = user
	s.admin = admin
	s.mu.Unlock()

	unsubUser := user.Subscribe(func(session.UserSnapshot) { s.reevaluate() })
	unsubAdmin := admin.Subscribe(func(session.AdminSnapshot) { s.reevaluate() })

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubUser, unsubAdmin)
	s.mu.Unlock()

	s.reevaluate()
}

// Close は購読を解除し、メモリ上の集合を消去する。
func (s *Store) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.visible = false
	s.tabs = nil
	s.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
}

// reevaluate は購読通知の順序に依存しないよう、両ストアの最新スナップショットからゲートを再計算する。
func (s *Store) reevaluate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil || s.admin == nil {
		return
	}

	visible := authz.PinsVisible(s.user.Snapshot(), s.admin.Snapshot())
	switch {
	case visible && !s.visible:
		s.tabs = Load(context.Background(), s.kv, s.logger)
		s.logger.Debug("pinned tabs loaded", slog.Int("count", len(s.tabs)))
	case !visible && s.visible:
		s.tabs = nil
	}
	s.visible = visible
}

// Visible は表示ゲートが開いているかを返す。
func (s *Store) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// TogglePin はidが存在すれば削除し、存在しなければ追加する。
// 戻り値は操作後にピン留めされているか。変更後の集合全体を永続化するが、
// 保存失敗はログに記録するのみで操作自体は成功として扱う。
func (s *Store) TogglePin(ctx context.Context, id, name, module string) (bool, error) {
	id = NormalizeID(id)
	if id == "" {
		s.metrics.RecordPinToggle("rejected")
		return false, model.NewInvalidPinError("id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.visible {
		s.metrics.RecordPinToggle("rejected")
		return false, model.NewPinUnavailableError()
	}

	pinned := false
	if i := indexOf(s.tabs, id); i >= 0 {
		next := make([]model.PinnedTab, 0, len(s.tabs)-1)
		next = append(next, s.tabs[:i]...)
		next = append(next, s.tabs[i+1:]...)
		s.tabs = next
	} else {
		s.tabs = append(s.tabs, model.PinnedTab{
			ID:     id,
			Name:   s.sanitizer.Sanitize(name),
			Module: s.sanitizer.Sanitize(module),
		})
		pinned = true
	}

	if err := Save(ctx, s.kv, s.tabs); err != nil {
		s.logger.Error("failed to persist pinned tabs", slog.String("error", err.Error()))
	}

	if pinned {
		s.metrics.RecordPinToggle("pinned")
	} else {
		s.metrics.RecordPinToggle("unpinned")
	}
	return pinned, nil
}

// IsPinned はidがピン留めされているかを返す。ゲートが閉じている場合は常にfalse。
func (s *Store) IsPinned(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.tabs, NormalizeID(id)) >= 0
}

// NormalizeID はタブIDの前後の空白を除去する。集合の照合と応答は常にこの形を使う。
func NormalizeID(id string) string {
	return strings.TrimSpace(id)
}

// List はピン留めタブを追加順で返す。戻り値はコピー。
func (s *Store) List() []model.PinnedTab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PinnedTab, len(s.tabs))
	copy(out, s.tabs)
	return out
}

// Load はKVからピン留めタブ集合を読み込む。
// キーが存在しない場合、読み込みに失敗した場合、JSONが壊れている場合は空集合を返す。
// 重複したidは最初の出現のみを残す。
func Load(ctx context.Context, kv storage.KV, logger *slog.Logger) []model.PinnedTab {
	if logger == nil {
		logger = slog.Default()
	}

	raw, ok, err := kv.Get(ctx, storage.KeyPinnedTabs)
	if err != nil {
		logger.Warn("failed to read pinned tabs", slog.String("error", err.Error()))
		return []model.PinnedTab{}
	}
	if !ok || raw == "" {
		return []model.PinnedTab{}
	}

	var stored []model.PinnedTab
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		logger.Warn("discarding corrupt pinned tabs", slog.String("error", err.Error()))
		return []model.PinnedTab{}
	}

	tabs := make([]model.PinnedTab, 0, len(stored))
	seen := make(map[string]struct{}, len(stored))
	for _, t := range stored {
		t.ID = NormalizeID(t.ID)
		if t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		tabs = append(tabs, t)
	}
	return tabs
}

// Save はピン留めタブ集合をJSON配列としてKVに保存する。
func Save(ctx context.Context, kv storage.KV, tabs []model.PinnedTab) error {
	if tabs == nil {
		tabs = []model.PinnedTab{}
	}
	data, err := json.Marshal(tabs)
	if err != nil {
		return fmt.Errorf("failed to encode pinned tabs: %w", err)
	}
	if err := kv.Set(ctx, storage.KeyPinnedTabs, string(data)); err != nil {
		return fmt.Errorf("failed to save pinned tabs: %w", err)
	}
	return nil
}

func indexOf(tabs []model.PinnedTab, id string) int {
	for i, t := range tabs {
		if t.ID == id {
			return i
		}
	}
	return -1
}
