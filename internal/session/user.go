package session

import (
	"context"
	"log/slog"

	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/storage"
	"github.com/hitoshi/civicportal/internal/validation"
)

// UserSnapshot は一般ユーザーセッションのスナップショット。
type UserSnapshot = Snapshot[model.User]

// UserBackend は一般ユーザー向けの外部API。ログイン系に加えて新規登録を提供する。
type UserBackend interface {
	Backend[model.User, model.LoginCredentials]
	Registrar[model.User]
}

// UserStore は一般ユーザーのセッションストア。
type UserStore struct {
	*Store[model.User, model.LoginCredentials]
	registrar Registrar[model.User]
}

// NewUserStore はUserStoreを生成する。永続化キーはtoken/user。
func NewUserStore(backend UserBackend, kv storage.KV, opts Options[model.LoginCredentials]) *UserStore {
	opts.Role = "user"
	opts.Keys = Keys{Token: storage.KeyUserToken, Profile: storage.KeyUserProfile}
	if opts.Validate == nil {
		opts.Validate = validation.Login
	}
	return &UserStore{
		Store:     NewStore[model.User, model.LoginCredentials](backend, kv, opts),
		registrar: backend,
	}
}

// Register は新規登録を外部APIに転送する。
// 応答にtokenが含まれる場合はStateAuthenticatedに遷移する。
// 含まれない場合は未認証のまま、返されたユーザーをプロフィール入力待ちとして保持する。
func (s *UserStore) Register(ctx context.Context, data model.RegisterData) (*model.User, error) {
	if verr := validation.Register(data); verr != nil {
		return nil, verr
	}

	gen, err := s.begin()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.registrar.Register(callCtx, data)
	if err != nil {
		s.concludeSuperseded(ctx, gen, "register")
		return nil, err
	}
	if res == nil || res.Profile == nil {
		s.concludeSuperseded(ctx, gen, "register")
		return nil, model.NewAPIRejectedError("registration response missing user")
	}

	if res.Token != "" {
		if !s.adopt(ctx, gen, "register", res) {
			return nil, ErrSuperseded
		}
		return clone(res.Profile), nil
	}

	applied := s.apply(gen, "register", func() {
		if s.state == StateUnresolved {
			s.clearLocked(ctx)
			s.state = StateUnauthenticated
		}
		s.pending = clone(res.Profile)
	})
	if !applied {
		return nil, ErrSuperseded
	}
	s.opts.Logger.Info("registration pending profile completion", slog.String("user_id", res.Profile.ID))
	return clone(res.Profile), nil
}

// HasCompletedProfile は認証済みかつプロフィール入力が完了している場合にtrueを返す。
func (s *UserStore) HasCompletedProfile() bool {
	return ProfileComplete(s.Snapshot())
}

// IsProfilePending はプロフィール入力待ちのユーザーが存在する場合にtrueを返す。
func (s *UserStore) IsProfilePending() bool {
	return ProfilePending(s.Snapshot())
}

// ProfileComplete はスナップショットが認証済みかつプロフィール完了かを返す。
func ProfileComplete(snap UserSnapshot) bool {
	return snap.IsAuthenticated() && snap.Profile.IsProfileComplete()
}

// ProfilePending はスナップショットがプロフィール入力待ちかを返す。
// 登録直後でtokenがない場合、または認証済みでプロフィールが未完了の場合が該当する。
func ProfilePending(snap UserSnapshot) bool {
	if snap.Pending != nil {
		return !snap.Pending.IsProfileComplete()
	}
	return snap.IsAuthenticated() && !snap.Profile.IsProfileComplete()
}
