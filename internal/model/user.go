// Package model はドメインモデルを定義する。
package model

// プロフィール状態
const (
	ProfileStatusPending  = "pending"
	ProfileStatusComplete = "complete"
)

// 管理者の状態とロール
const (
	AdminStatusActive    = "active"
	AdminStatusSuspended = "suspended"
	AdminRoleDisabled    = "disabled"
)

// User はポータルを利用する一般ユーザーを表す。
// 外部APIのユーザーレコードをそのまま保持し、スナップショットとしてKVに保存される。
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	Name             string `json:"name,omitempty"`
	Constituency     string `json:"constituency,omitempty"`
	ProfileCompleted bool   `json:"profile_completed"`
	ProfileStatus    string `json:"profile_status,omitempty"`
}

// IsProfileComplete はプロフィール入力が完了しているかを返す。
func (u User) IsProfileComplete() bool {
	return u.ProfileCompleted || u.ProfileStatus == ProfileStatusComplete
}

// Admin は管理画面を利用する管理者を表す。
// Status と Role は認可判定（authz.AdminAuthorized）で参照される。
type Admin struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Status string `json:"status,omitempty"`
}

// PinnedTab はユーザーがピン留めしたセクションへのショートカットを表す。
type PinnedTab struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Module string `json:"module,omitempty"`
}

// LoginCredentials は一般ユーザーのログイン入力。
type LoginCredentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Remember bool   `json:"remember"`
}

// AdminCredentials は管理者のログイン入力。
type AdminCredentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterData は新規登録の入力。
type RegisterData struct {
	Username string `json:"username" validate:"required,min=3,max=30,alphanum"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// ProfileUpdate はプロフィール更新の入力。空のフィールドは送信されない。
type ProfileUpdate struct {
	Name         string `json:"name,omitempty" validate:"max=100"`
	Constituency string `json:"constituency,omitempty" validate:"max=100"`
}

// PasswordChange はパスワード変更の入力。
type PasswordChange struct {
	Current string `json:"current_password" validate:"required"`
	New     string `json:"new_password" validate:"required,min=6,nefield=Current"`
}
