package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/civicportal/internal/middleware"
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/session"
)

// UserSessionResponse は一般ユーザーセッションの状態。資格情報（token）は含めない。
type UserSessionResponse struct {
	Loading         bool        `json:"loading"`
	Authenticated   bool        `json:"authenticated"`
	ProfileComplete bool        `json:"profile_complete"`
	ProfilePending  bool        `json:"profile_pending"`
	User            *model.User `json:"user,omitempty"`
}

// newUserSessionResponse はスナップショットからレスポンスを組み立てる。
// 登録直後でtokenがない場合は入力待ちユーザーをUserとして返す。
func newUserSessionResponse(snap session.UserSnapshot) UserSessionResponse {
	resp := UserSessionResponse{
		Loading:         snap.Loading(),
		Authenticated:   snap.IsAuthenticated(),
		ProfileComplete: session.ProfileComplete(snap),
		ProfilePending:  session.ProfilePending(snap),
	}
	switch {
	case resp.Authenticated:
		resp.User = snap.Profile
	case snap.Pending != nil:
		resp.User = snap.Pending
	}
	return resp
}

// AuthHandler は一般ユーザーの認証・プロフィール関連のHTTPハンドラー。
type AuthHandler struct {
	runtimes RuntimeProvider
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(runtimes RuntimeProvider) *AuthHandler {
	return &AuthHandler{runtimes: runtimes}
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var creds model.LoginCredentials
	if !decodeJSON(w, r, &creds) {
		return
	}

	if _, err := rt.User.Login(r.Context(), creds); err != nil {
		writeSessionError(w, err)
		return
	}

	slog.Info("user logged in", slog.String("device_id", rt.DeviceID))
	writeJSON(w, http.StatusOK, newUserSessionResponse(rt.User.Snapshot()))
}

// Register は新規ユーザーを登録する。
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var data model.RegisterData
	if !decodeJSON(w, r, &data) {
		return
	}

	if _, err := rt.User.Register(r.Context(), data); err != nil {
		writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newUserSessionResponse(rt.User.Snapshot()))
}

// Logout はログアウトする。ストレージの消去に失敗しても未認証状態で応答する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	if err := rt.User.Logout(r.Context()); err != nil {
		slog.Warn("logout storage cleanup failed",
			slog.String("device_id", rt.DeviceID),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, newUserSessionResponse(rt.User.Snapshot()))
}

// Me は現在のセッション状態を返す。初期検証中はloading=trueを返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, newUserSessionResponse(rt.User.Snapshot()))
}

// UpdateProfile はプロフィールを更新する。
// PUT /api/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var update model.ProfileUpdate
	if !decodeJSON(w, r, &update) {
		return
	}

	if _, err := rt.User.UpdateProfile(r.Context(), update); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserSessionResponse(rt.User.Snapshot()))
}

// ChangePassword はパスワードを変更する。
// PUT /api/auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var change model.PasswordChange
	if !decodeJSON(w, r, &change) {
		return
	}

	if err := rt.User.ChangePassword(r.Context(), change); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
