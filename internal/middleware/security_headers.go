package middleware

import "net/http"

// hstsValue は1年間HTTPSを強制する。サブドメインは端末Cookieのドメイン設定に従うため含めない。
const hstsValue = "max-age=31536000"

// SecurityHeadersConfig はセキュリティヘッダーの設定。
type SecurityHeadersConfig struct {
	// HTTPSで公開されている場合にtrue。Strict-Transport-Securityを付与する。
	HTTPS bool
}

// NewSecurityHeadersMiddleware はBFFの応答にセキュリティヘッダーを付与するミドルウェアを返す。
// 応答はJSONかリダイレクトのみで、端末ごとのセッション状態を含むため保存させない。
func NewSecurityHeadersMiddleware(cfg SecurityHeadersConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cross-Origin-Resource-Policy", "same-site")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			if cfg.HTTPS {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
