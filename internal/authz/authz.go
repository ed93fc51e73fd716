// Package authz は管理者の認可判定とナビゲーション表示判定を一箇所に集約する。
// ルートガードとリンク表示の双方がこのパッケージの関数を参照する。
package authz

import (
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/session"
)

// AdminAuthorized は管理者セッションが認証済みで、かつ停止・無効化されていない場合にtrueを返す。
func AdminAuthorized(admin session.AdminSnapshot) bool {
	if !admin.IsAuthenticated() {
		return false
	}
	return AdminRecordAuthorized(*admin.Profile)
}

// AdminRecordAuthorized は管理者レコード単体の状態を判定する。
// statusは未設定または"active"のみ許可する。
func AdminRecordAuthorized(a model.Admin) bool {
	if a.Status != "" && a.Status != model.AdminStatusActive {
		return false
	}
	if a.Role == model.AdminRoleDisabled {
		return false
	}
	return true
}

// PinsVisible はピン留めUIを表示してよいかを返す。
// 一般ユーザーが認証済みで、管理者が未認証の場合のみtrue。
func PinsVisible(user session.UserSnapshot, admin session.AdminSnapshot) bool {
	return user.IsAuthenticated() && !admin.IsAuthenticated()
}

// NavLinks はヘッダーナビゲーションのリンク表示状態。
type NavLinks struct {
	Loading         bool `json:"loading"`
	Login           bool `json:"login"`
	Register        bool `json:"register"`
	Profile         bool `json:"profile"`
	CompleteProfile bool `json:"complete_profile"`
	Logout          bool `json:"logout"`
	Pins            bool `json:"pins"`
	AdminDashboard  bool `json:"admin_dashboard"`
	AdminLogin      bool `json:"admin_login"`
	AdminLogout     bool `json:"admin_logout"`
}

// Navigation は両セッションの状態からリンク表示を決定する。
// どちらかのストアが未解決の間はLoadingのみを返す。
func Navigation(user session.UserSnapshot, admin session.AdminSnapshot) NavLinks {
	if user.Loading() || admin.Loading() {
		return NavLinks{Loading: true}
	}

	userIn := user.IsAuthenticated()
	adminOK := AdminAuthorized(admin)
	return NavLinks{
		Login:           !userIn,
		Register:        !userIn,
		Profile:         userIn,
		CompleteProfile: session.ProfilePending(user),
		Logout:          userIn,
		Pins:            PinsVisible(user, admin),
		AdminDashboard:  adminOK,
		AdminLogin:      !admin.IsAuthenticated(),
		AdminLogout:     admin.IsAuthenticated(),
	}
}
