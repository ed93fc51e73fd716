package session

import (
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/storage"
	"github.com/hitoshi/civicportal/internal/validation"
)

// AdminSnapshot は管理者セッションのスナップショット。
type AdminSnapshot = Snapshot[model.Admin]

// AdminBackend は管理者向けの外部API。
type AdminBackend = Backend[model.Admin, model.AdminCredentials]

// AdminStore は管理者のセッションストア。
// ユーザーストアとは独立したキー（adminToken/admin）と読み込み状態を持つ。
type AdminStore struct {
	*Store[model.Admin, model.AdminCredentials]
}

// NewAdminStore はAdminStoreを生成する。
func NewAdminStore(backend AdminBackend, kv storage.KV, opts Options[model.AdminCredentials]) *AdminStore {
	opts.Role = "admin"
	opts.Keys = Keys{Token: storage.KeyAdminToken, Profile: storage.KeyAdminProfile}
	if opts.Validate == nil {
		opts.Validate = validation.AdminLogin
	}
	return &AdminStore{
		Store: NewStore[model.Admin, model.AdminCredentials](backend, kv, opts),
	}
}
