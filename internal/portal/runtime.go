// Package portal は端末（device_id）ごとのランタイムを管理する。
//
// Runtime は1台のブラウザに対応し、一般ユーザー・管理者のセッションストアと
// ピン留めストアを保持する。Registry は端末IDからRuntimeを引き当て、
// 一定時間アクセスのないRuntimeを破棄する。
package portal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/civicportal/internal/authz"
	"github.com/hitoshi/civicportal/internal/guard"
	"github.com/hitoshi/civicportal/internal/metrics"
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/pins"
	"github.com/hitoshi/civicportal/internal/security"
	"github.com/hitoshi/civicportal/internal/session"
	"github.com/hitoshi/civicportal/internal/storage"
)

// Deps はRuntimeの生成に必要な依存。
type Deps struct {
	UserBackend  session.UserBackend
	AdminBackend session.AdminBackend
	Timeout      time.Duration // 外部API呼び出し1回あたりの上限時間
	Logger       *slog.Logger
	Metrics      metrics.MetricsCollector
	Sanitizer    security.LabelSanitizerService
}

// Runtime は1端末分のストア群。
type Runtime struct {
	DeviceID string
	User     *session.UserStore
	Admin    *session.AdminStore
	Pins     *pins.Store

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRuntime はRuntimeを生成する。kvは端末の名前空間に区切られている必要がある。
// ピン留めストアは両セッションストアに購読済みの状態で返される。
func NewRuntime(deviceID string, kv storage.KV, deps Deps) *Runtime {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("device_id", deviceID))

	rt := &Runtime{
		DeviceID: deviceID,
		User: session.NewUserStore(deps.UserBackend, kv, session.Options[model.LoginCredentials]{
			Timeout: deps.Timeout,
			Logger:  logger,
			Metrics: deps.Metrics,
		}),
		Admin: session.NewAdminStore(deps.AdminBackend, kv, session.Options[model.AdminCredentials]{
			Timeout: deps.Timeout,
			Logger:  logger,
			Metrics: deps.Metrics,
		}),
		Pins: pins.NewStore(kv, pins.Options{
			Sanitizer: deps.Sanitizer,
			Logger:    logger,
			Metrics:   deps.Metrics,
		}),
		ready: make(chan struct{}),
	}
	rt.Pins.Bind(rt.User, rt.Admin)
	return rt
}

// Init は両セッションストアの初期検証を並行に実行し、完了まで待つ。
func (rt *Runtime) Init(ctx context.Context) {
	rt.begin()(ctx)
}

// begin は両セッションストアの初期検証の世代を同期的に確保し、検証を実行する関数を返す。
// begin以降に開始されたログイン等の操作は初期検証の結果より優先される。
func (rt *Runtime) begin() func(ctx context.Context) {
	resolveUser := rt.User.BeginInit()
	resolveAdmin := rt.Admin.BeginInit()
	return func(ctx context.Context) {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			resolveUser(ctx)
		}()
		go func() {
			defer wg.Done()
			resolveAdmin(ctx)
		}()
		wg.Wait()
		rt.readyOnce.Do(func() { close(rt.ready) })
	}
}

// Ready は初回のInitが完了するとクローズされるチャネルを返す。
func (rt *Runtime) Ready() <-chan struct{} {
	return rt.ready
}

// Dispose はピン留めストアの購読を解除し、両セッションストアを破棄する。
// 永続化データは残す。
func (rt *Runtime) Dispose() {
	rt.Pins.Close()
	rt.User.Dispose()
	rt.Admin.Dispose()
}

// Principals は両セッションの現在の状態をルートガードの入力に変換する。
func (rt *Runtime) Principals() guard.Principals {
	return PrincipalsOf(rt.User.Snapshot(), rt.Admin.Snapshot())
}

// PrincipalsOf はスナップショットの組をルートガードの入力に変換する。
func PrincipalsOf(user session.UserSnapshot, admin session.AdminSnapshot) guard.Principals {
	p := guard.Principals{
		UserResolved:      !user.Loading(),
		UserAuthenticated: user.IsAuthenticated(),
		ProfileComplete:   session.ProfileComplete(user),
		AdminResolved:     !admin.Loading(),
		AdminAuthorized:   authz.AdminAuthorized(admin),
	}
	if admin.IsAuthenticated() {
		p.AdminID = admin.Profile.ID
	}
	return p
}
