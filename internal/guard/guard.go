// Package guard はページ遷移時のアクセス制御（ルートガード）を提供する。
//
// 判定は純粋関数 Decide に集約され、Guard.Evaluate がメトリクス記録と
// 管理者ルートの監査イベント送出を付加する。監査の失敗は判定結果に影響しない。
package guard

import (
	"context"
	"time"

	"github.com/hitoshi/civicportal/internal/audit"
	"github.com/hitoshi/civicportal/internal/metrics"
)

// Requirement はページに宣言されたアクセス要件。
type Requirement string

const (
	Public                  Requirement = "public"
	RequiresUser            Requirement = "requires-user"
	RequiresCompleteProfile Requirement = "requires-complete-profile"
	RequiresAdmin           Requirement = "requires-admin"
	// AdminFallback は未定義の /admin/* に適用され、常に管理者ログインへ誘導する。
	AdminFallback Requirement = "admin-fallback"
)

// IsAdmin は監査対象となる管理者ルートの要件かを返す。
func (r Requirement) IsAdmin() bool {
	return r == RequiresAdmin || r == AdminFallback
}

// Action はガードの判定結果。
type Action string

const (
	ActionRender                  Action = "render"
	ActionLoading                 Action = "loading"
	ActionRedirectLogin           Action = "redirect-login"
	ActionRedirectAdminLogin      Action = "redirect-admin-login"
	ActionRedirectCompleteProfile Action = "redirect-complete-profile"
)

// リダイレクト先
const (
	LoginPath           = "/login"
	AdminLoginPath      = "/admin/login"
	CompleteProfilePath = "/complete-profile"
)

// Principals は判定に必要な両セッションの解決状態。
type Principals struct {
	UserResolved      bool
	UserAuthenticated bool
	ProfileComplete   bool
	AdminResolved     bool
	AdminAuthorized   bool
	AdminID           string // 監査用。未認証の場合は空
}

// Decision はガードの判定。Locationはリダイレクト時のみ設定される。
type Decision struct {
	Action   Action `json:"action"`
	Location string `json:"location,omitempty"`
}

// IsRedirect はリダイレクト判定かを返す。
func (d Decision) IsRedirect() bool {
	return d.Location != ""
}

var (
	render                  = Decision{Action: ActionRender}
	loading                 = Decision{Action: ActionLoading}
	redirectLogin           = Decision{Action: ActionRedirectLogin, Location: LoginPath}
	redirectAdminLogin      = Decision{Action: ActionRedirectAdminLogin, Location: AdminLoginPath}
	redirectCompleteProfile = Decision{Action: ActionRedirectCompleteProfile, Location: CompleteProfilePath}
)

// Decide は要件と両セッションの状態からページの扱いを決定する。
// 関係するストアが未解決の間はリダイレクトせずLoadingを返す。
// 未知の要件は一般ユーザーログインへ誘導する。
func Decide(req Requirement, p Principals) Decision {
	switch req {
	case Public:
		return render
	case RequiresUser:
		if !p.UserResolved {
			return loading
		}
		if p.UserAuthenticated {
			return render
		}
		return redirectLogin
	case RequiresCompleteProfile:
		if !p.UserResolved {
			return loading
		}
		if !p.UserAuthenticated {
			return redirectLogin
		}
		if !p.ProfileComplete {
			return redirectCompleteProfile
		}
		return render
	case RequiresAdmin:
		if !p.AdminResolved {
			return loading
		}
		if p.AdminAuthorized {
			return render
		}
		return redirectAdminLogin
	case AdminFallback:
		return redirectAdminLogin
	default:
		return redirectLogin
	}
}

// Request はガード評価の対象。
type Request struct {
	Path        string
	DeviceID    string
	Requirement Requirement
}

// Guard は判定にメトリクスと監査を付加する。
type Guard struct {
	metrics metrics.MetricsCollector
	sink    audit.Sink
	now     func() time.Time
}

// New はGuardを生成する。nilの依存はNo-op実装で置き換える。
func New(m metrics.MetricsCollector, sink audit.Sink) *Guard {
	if m == nil {
		m = metrics.Nop{}
	}
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	return &Guard{metrics: m, sink: sink, now: time.Now}
}

// Evaluate はDecideの結果を返し、判定をメトリクスに記録する。
// 管理者ルートの場合は監査イベントを送出する。
func (g *Guard) Evaluate(ctx context.Context, req Request, p Principals) Decision {
	d := Decide(req.Requirement, p)
	g.metrics.RecordGuardDecision(string(req.Requirement), string(d.Action))

	if req.Requirement.IsAdmin() {
		g.sink.Emit(ctx, audit.Event{
			Timestamp:   g.now().UTC(),
			DeviceID:    req.DeviceID,
			AdminID:     p.AdminID,
			Path:        req.Path,
			Requirement: string(req.Requirement),
			Authorized:  p.AdminAuthorized,
			Outcome:     string(d.Action),
		})
	}
	return d
}
