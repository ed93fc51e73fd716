package middleware

import "net/http"

// NewCORSMiddleware はポータルのフロントエンドのオリジンからの資格情報付きリクエストを許可するミドルウェアを返す。
// リクエストのOriginがallowedOriginと一致する場合のみCORSヘッダーを付与する。
// allowedOriginが空の場合は同一オリジン運用とみなし何もしない。
// 一致するオリジンからのOPTIONSプリフライトには204で応答する。
// 初期検証待ちの202応答を再試行できるよう、Retry-Afterをフロントエンドに公開する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if allowedOrigin == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if r.Header.Get("Origin") != allowedOrigin {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Expose-Headers", "Retry-After, Location")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, "+csrfHeaderName)
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
