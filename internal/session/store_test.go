package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/repository"
	"github.com/hitoshi/civicportal/internal/storage"
)

// --- モック定義 ---

type mockUserBackend struct {
	loginFn          func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error)
	registerFn       func(ctx context.Context, data model.RegisterData) (*AuthResult[model.User], error)
	fetchProfileFn   func(ctx context.Context, token string) (*model.User, error)
	updateProfileFn  func(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error)
	changePasswordFn func(ctx context.Context, token string, change model.PasswordChange) error

	calls atomic.Int32
}

func (m *mockUserBackend) Login(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
	m.calls.Add(1)
	if m.loginFn != nil {
		return m.loginFn(ctx, creds)
	}
	return nil, errors.New("not implemented")
}

func (m *mockUserBackend) Register(ctx context.Context, data model.RegisterData) (*AuthResult[model.User], error) {
	m.calls.Add(1)
	if m.registerFn != nil {
		return m.registerFn(ctx, data)
	}
	return nil, errors.New("not implemented")
}

func (m *mockUserBackend) FetchProfile(ctx context.Context, token string) (*model.User, error) {
	m.calls.Add(1)
	if m.fetchProfileFn != nil {
		return m.fetchProfileFn(ctx, token)
	}
	return nil, errors.New("not implemented")
}

func (m *mockUserBackend) UpdateProfile(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error) {
	m.calls.Add(1)
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, token, update)
	}
	return nil, errors.New("not implemented")
}

func (m *mockUserBackend) ChangePassword(ctx context.Context, token string, change model.PasswordChange) error {
	m.calls.Add(1)
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, token, change)
	}
	return errors.New("not implemented")
}

// failingKV は削除のみ失敗するKV。
type failingKV struct {
	*repository.MemoryKVRepo
}

func (f failingKV) Delete(ctx context.Context, keys ...string) error {
	return errors.New("disk full")
}

func testUser() *model.User {
	return &model.User{ID: "u-1", Username: "citizen", Email: "a@b.com", ProfileCompleted: true}
}

func newTestUserStore(backend *mockUserBackend, kv storage.KV) *UserStore {
	return NewUserStore(backend, kv, Options[model.LoginCredentials]{Timeout: time.Second})
}

func validCreds() model.LoginCredentials {
	return model.LoginCredentials{Email: "a@b.com", Password: "correct-horse"}
}

// --- テスト ---

func TestStore_InitialStateIsUnresolved(t *testing.T) {
	s := newTestUserStore(&mockUserBackend{}, repository.NewMemoryKVRepo())
	snap := s.Snapshot()
	if !snap.Loading() {
		t.Error("new store should be loading")
	}
	if snap.IsAuthenticated() {
		t.Error("new store should not be authenticated")
	}
}

func TestStore_Init_NoCredential_ResolvesUnauthenticatedWithoutNetwork(t *testing.T) {
	backend := &mockUserBackend{}
	s := newTestUserStore(backend, repository.NewMemoryKVRepo())

	s.Init(context.Background())

	snap := s.Snapshot()
	if snap.State != StateUnauthenticated {
		t.Errorf("State = %v, want %v", snap.State, StateUnauthenticated)
	}
	if backend.calls.Load() != 0 {
		t.Errorf("backend calls = %d, want 0", backend.calls.Load())
	}
}

func TestStore_Init_ValidCredential_Authenticates(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	kv.Set(ctx, storage.KeyUserToken, "opaque-token")

	backend := &mockUserBackend{
		fetchProfileFn: func(ctx context.Context, token string) (*model.User, error) {
			if token != "opaque-token" {
				t.Errorf("token = %q, want opaque-token", token)
			}
			return testUser(), nil
		},
	}
	s := newTestUserStore(backend, kv)

	s.Init(ctx)

	snap := s.Snapshot()
	if !snap.IsAuthenticated() {
		t.Fatalf("expected authenticated, got %v", snap.State)
	}
	if !s.HasCompletedProfile() {
		t.Error("expected completed profile")
	}

	raw, ok, _ := kv.Get(ctx, storage.KeyUserProfile)
	if !ok {
		t.Fatal("profile snapshot should be persisted")
	}
	var persisted model.User
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil {
		t.Fatalf("persisted profile is not JSON: %v", err)
	}
	if persisted.ID != "u-1" {
		t.Errorf("persisted ID = %q, want u-1", persisted.ID)
	}
}

func TestStore_Init_ValidationFails_ClearsAndResolvesSilently(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	kv.Set(ctx, storage.KeyUserToken, "revoked")
	kv.Set(ctx, storage.KeyUserProfile, `{"id":"u-1"}`)

	backend := &mockUserBackend{
		fetchProfileFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, model.NewAPIRejectedError("token revoked")
		},
	}
	s := newTestUserStore(backend, kv)

	s.Init(ctx)

	if got := s.Snapshot().State; got != StateUnauthenticated {
		t.Errorf("State = %v, want %v", got, StateUnauthenticated)
	}
	if kv.Len() != 0 {
		t.Errorf("persisted keys = %d, want 0", kv.Len())
	}
}

func TestStore_Init_ExpiredJWT_SkipsNetwork(t *testing.T) {
	ctx := context.Background()
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	kv := repository.NewMemoryKVRepo()
	kv.Set(ctx, storage.KeyUserToken, expired)

	backend := &mockUserBackend{}
	s := newTestUserStore(backend, kv)

	s.Init(ctx)

	if got := s.Snapshot().State; got != StateUnauthenticated {
		t.Errorf("State = %v, want %v", got, StateUnauthenticated)
	}
	if backend.calls.Load() != 0 {
		t.Errorf("backend calls = %d, want 0", backend.calls.Load())
	}
	if _, ok, _ := kv.Get(ctx, storage.KeyUserToken); ok {
		t.Error("expired credential should be cleared")
	}
}

func TestStore_Init_Timeout_FallsBackToUnauthenticated(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	kv.Set(ctx, storage.KeyUserToken, "slow-token")

	backend := &mockUserBackend{
		fetchProfileFn: func(ctx context.Context, token string) (*model.User, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := NewUserStore(backend, kv, Options[model.LoginCredentials]{Timeout: 20 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		s.Init(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Init did not return after timeout")
	}
	if got := s.Snapshot().State; got != StateUnauthenticated {
		t.Errorf("State = %v, want %v", got, StateUnauthenticated)
	}
}

func TestStore_Login_Success_PersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	backend := &mockUserBackend{
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "tok-1", Profile: testUser()}, nil
		},
	}
	s := newTestUserStore(backend, kv)
	s.Init(ctx)

	var notified []State
	unsubscribe := s.Subscribe(func(snap UserSnapshot) {
		notified = append(notified, snap.State)
	})
	defer unsubscribe()

	profile, err := s.Login(ctx, validCreds())
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if profile.ID != "u-1" {
		t.Errorf("profile.ID = %q, want u-1", profile.ID)
	}
	if !s.Snapshot().IsAuthenticated() {
		t.Error("expected authenticated")
	}
	if token, _, _ := kv.Get(ctx, storage.KeyUserToken); token != "tok-1" {
		t.Errorf("persisted token = %q, want tok-1", token)
	}
	if len(notified) != 1 || notified[0] != StateAuthenticated {
		t.Errorf("notified = %v, want [authenticated]", notified)
	}
}

func TestStore_Login_ShortPassword_RejectedBeforeNetwork(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	backend := &mockUserBackend{}
	s := newTestUserStore(backend, kv)
	s.Init(ctx)
	before := s.Snapshot()

	_, err := s.Login(ctx, model.LoginCredentials{Email: "a@b.com", Password: "short"})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %v", err)
	}
	if apiErr.Category != model.CategoryValidation {
		t.Errorf("Category = %q, want validation", apiErr.Category)
	}
	if apiErr.Fields["password"] != "password must be at least 6 characters" {
		t.Errorf("password message = %q", apiErr.Fields["password"])
	}
	if backend.calls.Load() != 0 {
		t.Errorf("backend calls = %d, want 0", backend.calls.Load())
	}
	after := s.Snapshot()
	if after.State != before.State || after.Generation != before.Generation {
		t.Errorf("store mutated: before=%+v after=%+v", before, after)
	}
	if kv.Len() != 0 {
		t.Errorf("persisted keys = %d, want 0", kv.Len())
	}
}

func TestStore_Login_APIRejects_StateUnchangedAndMessageSurfaced(t *testing.T) {
	ctx := context.Background()
	backend := &mockUserBackend{
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return nil, model.NewAuthFailedError("Account locked")
		},
	}
	s := newTestUserStore(backend, repository.NewMemoryKVRepo())
	s.Init(ctx)

	_, err := s.Login(ctx, validCreds())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Account locked" {
		t.Fatalf("err = %v, want API message 'Account locked'", err)
	}
	if got := s.Snapshot().State; got != StateUnauthenticated {
		t.Errorf("State = %v, want %v", got, StateUnauthenticated)
	}
}

func TestStore_LoginThenLogoutBeforeResolution_LogoutWins(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	release := make(chan struct{})
	started := make(chan struct{})
	backend := &mockUserBackend{
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			close(started)
			<-release
			return &AuthResult[model.User]{Token: "late-token", Profile: testUser()}, nil
		},
	}
	s := newTestUserStore(backend, kv)
	s.Init(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Login(ctx, validCreds())
		errCh <- err
	}()

	<-started
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	close(release)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Login err = %v, want ErrSuperseded", err)
	}
	if got := s.Snapshot().State; got != StateUnauthenticated {
		t.Errorf("State = %v, want %v", got, StateUnauthenticated)
	}
	if _, ok, _ := kv.Get(ctx, storage.KeyUserToken); ok {
		t.Error("late login must not persist a credential after logout")
	}
}

func TestStore_LoginSupersedesInFlightInit(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	kv.Set(ctx, storage.KeyUserToken, "stale")

	release := make(chan struct{})
	started := make(chan struct{})
	backend := &mockUserBackend{
		fetchProfileFn: func(ctx context.Context, token string) (*model.User, error) {
			close(started)
			<-release
			return nil, errors.New("revoked")
		},
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "fresh", Profile: testUser()}, nil
		},
	}
	s := newTestUserStore(backend, kv)

	initDone := make(chan struct{})
	go func() {
		s.Init(ctx)
		close(initDone)
	}()
	<-started

	if _, err := s.Login(ctx, validCreds()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	close(release)
	<-initDone

	snap := s.Snapshot()
	if !snap.IsAuthenticated() || snap.Token != "fresh" {
		t.Errorf("snapshot = %+v, want authenticated with fresh token", snap)
	}
	if token, _, _ := kv.Get(ctx, storage.KeyUserToken); token != "fresh" {
		t.Errorf("persisted token = %q, want fresh", token)
	}
}

func TestStore_FailedLoginDuringInit_KeepsPersistedCredential(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	kv.Set(ctx, storage.KeyUserToken, "stored")

	release := make(chan struct{})
	started := make(chan struct{})
	var fetches atomic.Int32
	backend := &mockUserBackend{
		fetchProfileFn: func(ctx context.Context, token string) (*model.User, error) {
			if fetches.Add(1) == 1 {
				close(started)
				<-release
			}
			if token != "stored" {
				return nil, errors.New("unexpected token")
			}
			return testUser(), nil
		},
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return nil, model.NewAuthFailedError("Invalid email or password.")
		},
	}
	s := newTestUserStore(backend, kv)

	initDone := make(chan struct{})
	go func() {
		s.Init(ctx)
		close(initDone)
	}()
	<-started

	_, err := s.Login(ctx, validCreds())
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeAuthFailed {
		t.Errorf("Login err = %v, want AUTH_FAILED", err)
	}
	if token, ok, _ := kv.Get(ctx, storage.KeyUserToken); !ok || token != "stored" {
		t.Errorf("persisted token = %q (ok=%v), want stored", token, ok)
	}
	if snap := s.Snapshot(); !snap.IsAuthenticated() || snap.Token != "stored" {
		t.Errorf("snapshot = %+v, want authenticated with stored token", snap)
	}

	close(release)
	<-initDone

	if snap := s.Snapshot(); !snap.IsAuthenticated() {
		t.Errorf("State = %v after init finished, want %v", snap.State, StateAuthenticated)
	}
}

func TestStore_BeginInit_LaterLoginWins(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	kv.Set(ctx, storage.KeyUserToken, "stale")
	backend := &mockUserBackend{
		fetchProfileFn: func(ctx context.Context, token string) (*model.User, error) {
			return nil, errors.New("revoked")
		},
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "fresh", Profile: testUser()}, nil
		},
	}
	s := newTestUserStore(backend, kv)

	resolve := s.BeginInit()
	if _, err := s.Login(ctx, validCreds()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	resolve(ctx)

	snap := s.Snapshot()
	if !snap.IsAuthenticated() || snap.Token != "fresh" {
		t.Errorf("snapshot = %+v, want authenticated with fresh token", snap)
	}
	if token, _, _ := kv.Get(ctx, storage.KeyUserToken); token != "fresh" {
		t.Errorf("persisted token = %q, want fresh", token)
	}
}

func TestStore_Logout_StorageFailureStillLogsOut(t *testing.T) {
	ctx := context.Background()
	kv := failingKV{repository.NewMemoryKVRepo()}
	backend := &mockUserBackend{
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "tok", Profile: testUser()}, nil
		},
	}
	s := newTestUserStore(backend, kv)
	s.Init(ctx)
	if _, err := s.Login(ctx, validCreds()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := s.Logout(ctx); err == nil {
		t.Error("expected storage error to be reported")
	}
	if got := s.Snapshot().State; got != StateUnauthenticated {
		t.Errorf("State = %v, want %v", got, StateUnauthenticated)
	}
}

func TestStore_Register_WithoutToken_IsPending(t *testing.T) {
	ctx := context.Background()
	backend := &mockUserBackend{
		registerFn: func(ctx context.Context, data model.RegisterData) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Profile: &model.User{ID: "u-2", Username: data.Username, ProfileStatus: model.ProfileStatusPending}}, nil
		},
	}
	s := newTestUserStore(backend, repository.NewMemoryKVRepo())
	s.Init(ctx)

	user, err := s.Register(ctx, model.RegisterData{Username: "newcitizen", Email: "n@example.com", Password: "secret123"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID != "u-2" {
		t.Errorf("user.ID = %q, want u-2", user.ID)
	}
	if s.Snapshot().IsAuthenticated() {
		t.Error("registration without token must not authenticate")
	}
	if !s.IsProfilePending() {
		t.Error("expected profile pending")
	}
}

func TestStore_Register_WithToken_Authenticates(t *testing.T) {
	ctx := context.Background()
	backend := &mockUserBackend{
		registerFn: func(ctx context.Context, data model.RegisterData) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "reg-token", Profile: &model.User{ID: "u-3", Username: data.Username}}, nil
		},
	}
	s := newTestUserStore(backend, repository.NewMemoryKVRepo())
	s.Init(ctx)

	if _, err := s.Register(ctx, model.RegisterData{Username: "citizen3", Email: "c3@example.com", Password: "secret123"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !s.Snapshot().IsAuthenticated() {
		t.Error("expected authenticated")
	}
	if s.HasCompletedProfile() {
		t.Error("profile should not be complete yet")
	}
	if !s.IsProfilePending() {
		t.Error("authenticated user with incomplete profile should be pending")
	}
}

func TestStore_UpdateProfile(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	backend := &mockUserBackend{
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "tok", Profile: testUser()}, nil
		},
	}
	s := newTestUserStore(backend, kv)
	s.Init(ctx)
	if _, err := s.Login(ctx, validCreds()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	t.Run("success updates persisted snapshot", func(t *testing.T) {
		backend.updateProfileFn = func(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error) {
			u := testUser()
			u.Name = update.Name
			return u, nil
		}
		if _, err := s.UpdateProfile(ctx, model.ProfileUpdate{Name: "Jane Citizen"}); err != nil {
			t.Fatalf("UpdateProfile: %v", err)
		}
		if got := s.Snapshot().Profile.Name; got != "Jane Citizen" {
			t.Errorf("Name = %q, want Jane Citizen", got)
		}
		raw, _, _ := kv.Get(ctx, storage.KeyUserProfile)
		var persisted model.User
		json.Unmarshal([]byte(raw), &persisted)
		if persisted.Name != "Jane Citizen" {
			t.Errorf("persisted Name = %q, want Jane Citizen", persisted.Name)
		}
	})

	t.Run("failure propagates and keeps session", func(t *testing.T) {
		backend.updateProfileFn = func(ctx context.Context, token string, update model.ProfileUpdate) (*model.User, error) {
			return nil, model.NewAPIRejectedError("name taken")
		}
		if _, err := s.UpdateProfile(ctx, model.ProfileUpdate{Name: "Taken"}); err == nil {
			t.Fatal("expected error")
		}
		snap := s.Snapshot()
		if !snap.IsAuthenticated() || snap.Profile.Name != "Jane Citizen" {
			t.Errorf("snapshot changed after failed update: %+v", snap)
		}
	})
}

func TestStore_Refresh(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	backend := &mockUserBackend{
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "tok", Profile: testUser()}, nil
		},
	}
	s := newTestUserStore(backend, kv)
	s.Init(ctx)
	if _, err := s.Login(ctx, validCreds()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	backend.fetchProfileFn = func(ctx context.Context, token string) (*model.User, error) {
		u := testUser()
		u.Constituency = "North Ward"
		return u, nil
	}
	s.Refresh(ctx)
	if snap := s.Snapshot(); !snap.IsAuthenticated() || snap.Profile.Constituency != "North Ward" {
		t.Errorf("snapshot after refresh = %+v, want refreshed profile", snap)
	}

	backend.fetchProfileFn = func(ctx context.Context, token string) (*model.User, error) {
		return nil, model.NewAPIRejectedError("")
	}
	s.Refresh(ctx)
	if snap := s.Snapshot(); snap.State != StateUnauthenticated {
		t.Errorf("State = %v, want %v", snap.State, StateUnauthenticated)
	}
	if _, ok, _ := kv.Get(ctx, storage.KeyUserToken); ok {
		t.Error("credential should be cleared after failed refresh")
	}

	calls := backend.calls.Load()
	s.Refresh(ctx)
	if backend.calls.Load() != calls {
		t.Error("refresh while unauthenticated must not call the backend")
	}
}

func TestStore_UpdateProfile_Unauthenticated_RequiresSession(t *testing.T) {
	backend := &mockUserBackend{}
	s := newTestUserStore(backend, repository.NewMemoryKVRepo())
	s.Init(context.Background())

	_, err := s.UpdateProfile(context.Background(), model.ProfileUpdate{Name: "x"})
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeSessionRequired {
		t.Errorf("err = %v, want SESSION_REQUIRED", err)
	}
	if backend.calls.Load() != 0 {
		t.Error("backend should not be called")
	}
}

func TestStore_ChangePassword_ForwardsToken(t *testing.T) {
	ctx := context.Background()
	var gotToken string
	backend := &mockUserBackend{
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "tok-pw", Profile: testUser()}, nil
		},
		changePasswordFn: func(ctx context.Context, token string, change model.PasswordChange) error {
			gotToken = token
			return nil
		},
	}
	s := newTestUserStore(backend, repository.NewMemoryKVRepo())
	s.Init(ctx)
	s.Login(ctx, validCreds())

	if err := s.ChangePassword(ctx, model.PasswordChange{Current: "oldpass1", New: "newpass1"}); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if gotToken != "tok-pw" {
		t.Errorf("token = %q, want tok-pw", gotToken)
	}
	if !s.Snapshot().IsAuthenticated() {
		t.Error("session should remain authenticated")
	}
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	backend := &mockUserBackend{
		loginFn: func(ctx context.Context, creds model.LoginCredentials) (*AuthResult[model.User], error) {
			return &AuthResult[model.User]{Token: "tok", Profile: testUser()}, nil
		},
	}
	s := newTestUserStore(backend, repository.NewMemoryKVRepo())
	s.Init(ctx)
	s.Login(ctx, validCreds())

	snap := s.Snapshot()
	snap.Profile.Name = "mutated"

	if got := s.Snapshot().Profile.Name; got == "mutated" {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestStore_Dispose_DiscardsInFlightAndRejectsNewCalls(t *testing.T) {
	ctx := context.Background()
	kv := repository.NewMemoryKVRepo()
	kv.Set(ctx, storage.KeyUserToken, "tok")

	release := make(chan struct{})
	started := make(chan struct{})
	backend := &mockUserBackend{
		fetchProfileFn: func(ctx context.Context, token string) (*model.User, error) {
			close(started)
			<-release
			return testUser(), nil
		},
	}
	s := newTestUserStore(backend, kv)

	done := make(chan struct{})
	go func() {
		s.Init(ctx)
		close(done)
	}()
	<-started
	s.Dispose()
	close(release)
	<-done

	if s.Snapshot().IsAuthenticated() {
		t.Error("disposed store must not apply in-flight results")
	}
	if _, err := s.Login(ctx, validCreds()); !errors.Is(err, ErrDisposed) {
		t.Errorf("Login err = %v, want ErrDisposed", err)
	}
}
