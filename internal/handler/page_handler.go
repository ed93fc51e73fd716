package handler

import (
	"net/http"

	"github.com/hitoshi/civicportal/internal/authz"
	"github.com/hitoshi/civicportal/internal/guard"
	"github.com/hitoshi/civicportal/internal/middleware"
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/portal"
)

// PageResponse は描画許可されたページの応答。
type PageResponse struct {
	Page   string            `json:"page"`
	Params map[string]string `json:"params,omitempty"`
	Nav    authz.NavLinks    `json:"nav"`
}

// LoadingResponse は初期検証中に返す応答。リダイレクトは行わない。
type LoadingResponse struct {
	Loading bool   `json:"loading"`
	Page    string `json:"page"`
}

// PageHandler はページ要求をアクセス判定し、描画・待機・リダイレクトのいずれかで応答する。
type PageHandler struct {
	runtimes RuntimeProvider
	guard    *guard.Guard
	table    guard.Table
}

// NewPageHandler はPageHandlerを生成する。tableがnilの場合はguard.DefaultTableを使用する。
func NewPageHandler(runtimes RuntimeProvider, g *guard.Guard, table guard.Table) *PageHandler {
	if table == nil {
		table = guard.DefaultTable
	}
	return &PageHandler{runtimes: runtimes, guard: g, table: table}
}

// Serve はページ要求を処理する。
// GET /*
func (h *PageHandler) Serve(w http.ResponseWriter, r *http.Request) {
	match, found := h.table.Lookup(r.URL.Path)
	if !found {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "NOT_FOUND",
			Message:  "Page not found.",
			Category: model.CategorySystem,
			Action:   "Check the address or return to the home page.",
		})
		return
	}

	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	user := rt.User.Snapshot()
	admin := rt.Admin.Snapshot()

	decision := h.guard.Evaluate(r.Context(), guard.Request{
		Path:        r.URL.Path,
		DeviceID:    rt.DeviceID,
		Requirement: match.Requirement,
	}, portal.PrincipalsOf(user, admin))

	switch decision.Action {
	case guard.ActionLoading:
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusAccepted, LoadingResponse{Loading: true, Page: match.Page})
	case guard.ActionRender:
		writeJSON(w, http.StatusOK, PageResponse{
			Page:   match.Page,
			Params: match.Params,
			Nav:    authz.Navigation(user, admin),
		})
	default:
		http.Redirect(w, r, decision.Location, http.StatusFound)
	}
}
