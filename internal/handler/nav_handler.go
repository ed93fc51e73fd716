package handler

import (
	"net/http"

	"github.com/hitoshi/civicportal/internal/authz"
	"github.com/hitoshi/civicportal/internal/middleware"
)

// NavHandler はナビゲーション表示項目を返す。
type NavHandler struct {
	runtimes RuntimeProvider
}

// NewNavHandler はNavHandlerを生成する。
func NewNavHandler(runtimes RuntimeProvider) *NavHandler {
	return &NavHandler{runtimes: runtimes}
}

// Get は現在のセッション状態から表示すべきリンクを返す。
// GET /api/nav
func (h *NavHandler) Get(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, authz.Navigation(rt.User.Snapshot(), rt.Admin.Snapshot()))
}
