package handler

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/civicportal/internal/authz"
	"github.com/hitoshi/civicportal/internal/middleware"
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/session"
)

// AdminSessionResponse は管理者セッションの状態。
// Authorizedは停止・無効化された管理者ではfalseになる。
type AdminSessionResponse struct {
	Loading       bool         `json:"loading"`
	Authenticated bool         `json:"authenticated"`
	Authorized    bool         `json:"authorized"`
	Admin         *model.Admin `json:"admin,omitempty"`
}

func newAdminSessionResponse(snap session.AdminSnapshot) AdminSessionResponse {
	resp := AdminSessionResponse{
		Loading:       snap.Loading(),
		Authenticated: snap.IsAuthenticated(),
		Authorized:    authz.AdminAuthorized(snap),
	}
	if resp.Authenticated {
		resp.Admin = snap.Profile
	}
	return resp
}

// AdminAuthHandler は管理者の認証・プロフィール関連のHTTPハンドラー。
type AdminAuthHandler struct {
	runtimes RuntimeProvider
}

// NewAdminAuthHandler はAdminAuthHandlerを生成する。
func NewAdminAuthHandler(runtimes RuntimeProvider) *AdminAuthHandler {
	return &AdminAuthHandler{runtimes: runtimes}
}

// Login は管理者としてログインする。
// POST /api/admin/auth/login
func (h *AdminAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var creds model.AdminCredentials
	if !decodeJSON(w, r, &creds) {
		return
	}

	if _, err := rt.Admin.Login(r.Context(), creds); err != nil {
		writeSessionError(w, err)
		return
	}

	resp := newAdminSessionResponse(rt.Admin.Snapshot())
	slog.Info("admin logged in",
		slog.String("device_id", rt.DeviceID),
		slog.Bool("authorized", resp.Authorized),
	)
	writeJSON(w, http.StatusOK, resp)
}

// Logout は管理者セッションを終了する。
// POST /api/admin/auth/logout
func (h *AdminAuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	if err := rt.Admin.Logout(r.Context()); err != nil {
		slog.Warn("admin logout storage cleanup failed",
			slog.String("device_id", rt.DeviceID),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, http.StatusOK, newAdminSessionResponse(rt.Admin.Snapshot()))
}

// Me は現在の管理者セッション状態を返す。
// GET /api/admin/auth/me
func (h *AdminAuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, newAdminSessionResponse(rt.Admin.Snapshot()))
}

// UpdateProfile は管理者プロフィールを更新する。
// PUT /api/admin/auth/profile
func (h *AdminAuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var update model.ProfileUpdate
	if !decodeJSON(w, r, &update) {
		return
	}

	if _, err := rt.Admin.UpdateProfile(r.Context(), update); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAdminSessionResponse(rt.Admin.Snapshot()))
}

// ChangePassword は管理者のパスワードを変更する。
// PUT /api/admin/auth/password
func (h *AdminAuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var change model.PasswordChange
	if !decodeJSON(w, r, &change) {
		return
	}

	if err := rt.Admin.ChangePassword(r.Context(), change); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
