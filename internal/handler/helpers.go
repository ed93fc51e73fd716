// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/civicportal/internal/middleware"
	"github.com/hitoshi/civicportal/internal/model"
	"github.com/hitoshi/civicportal/internal/portal"
	"github.com/hitoshi/civicportal/internal/session"
)

// maxBodySize はJSONリクエストボディの最大サイズ。
const maxBodySize = 64 << 10

// ErrCodeSuperseded は後続の操作（ログアウト等）により結果が破棄された場合のエラーコード。
const ErrCodeSuperseded = "SUPERSEDED"

// RuntimeProvider は端末IDからRuntimeを引き当てる。*portal.Registry が満たす。
type RuntimeProvider interface {
	Get(deviceID string) *portal.Runtime
}

// runtimeFor はリクエストの端末に対応するRuntimeを返す。
func runtimeFor(provider RuntimeProvider, r *http.Request) (*portal.Runtime, bool) {
	deviceID, err := middleware.DeviceIDFromContext(r.Context())
	if err != nil {
		slog.Error("handler reached without device id", slog.String("path", r.URL.Path))
		return nil, false
	}
	return provider.Get(deviceID), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをvに読み込む。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(map[string]string{
			"body": "request body must be a JSON object",
		}))
		return false
	}
	return true
}

// writeSessionError はセッション操作のエラーを統一フォーマットで書き込む。
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSuperseded):
		middleware.WriteErrorResponse(w, http.StatusConflict, &model.APIError{
			Code:     ErrCodeSuperseded,
			Message:  "The request was overtaken by a newer action.",
			Category: model.CategoryAuth,
			Action:   "Reload the page to see the current state.",
		})
	case errors.Is(err, session.ErrDisposed):
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, &model.APIError{
			Code:     model.ErrCodeAPIUnavailable,
			Message:  "Your session expired on the server.",
			Category: model.CategorySystem,
			Action:   "Reload the page and try again.",
		})
	default:
		middleware.WriteError(w, err)
	}
}
