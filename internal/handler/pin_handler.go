package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/civicportal/internal/middleware"
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/pins"
)

// PinListResponse はピン留め一覧の応答。
type PinListResponse struct {
	Visible bool              `json:"visible"`
	Pins    []model.PinnedTab `json:"pins"`
}

// TogglePinRequest はピン留め切り替えの入力。
type TogglePinRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Module string `json:"module"`
}

// TogglePinResponse はピン留め切り替え後の状態。
type TogglePinResponse struct {
	ID     string `json:"id"`
	Pinned bool   `json:"pinned"`
}

// PinStatusResponse は個別タブのピン留め状態。
type PinStatusResponse struct {
	ID     string `json:"id"`
	Pinned bool   `json:"pinned"`
}

// PinHandler はピン留め関連のHTTPハンドラー。
type PinHandler struct {
	runtimes RuntimeProvider
}

// NewPinHandler はPinHandlerを生成する。
func NewPinHandler(runtimes RuntimeProvider) *PinHandler {
	return &PinHandler{runtimes: runtimes}
}

// List はピン留め一覧を返す。非表示の間は空の一覧を返す。
// GET /api/pins
func (h *PinHandler) List(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	tabs := rt.Pins.List()
	if tabs == nil {
		tabs = []model.PinnedTab{}
	}
	writeJSON(w, http.StatusOK, PinListResponse{Visible: rt.Pins.Visible(), Pins: tabs})
}

// Toggle はピン留めを切り替える。
// POST /api/pins/toggle
func (h *PinHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var req TogglePinRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pinned, err := rt.Pins.TogglePin(r.Context(), req.ID, req.Name, req.Module)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TogglePinResponse{ID: pins.NormalizeID(req.ID), Pinned: pinned})
}

// Status は指定タブのピン留め状態を返す。
// GET /api/pins/{id}
func (h *PinHandler) Status(w http.ResponseWriter, r *http.Request) {
	rt, ok := runtimeFor(h.runtimes, r)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	id := pins.NormalizeID(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, PinStatusResponse{ID: id, Pinned: rt.Pins.IsPinned(id)})
}
