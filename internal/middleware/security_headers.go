package middleware

import (
	"net/http"
	"strings"
)

// securityHeaders はすべてのレスポンスに付与するヘッダー。
// APIはJSONのみを返すため、CSPはあらゆるリソースの読み込みを禁止する。
var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

// NewSecurityHeadersMiddleware はセキュリティ関連のヘッダーを付与するミドルウェアを返す。
// 連絡先やトークンを含む /api と /auth の応答は共有キャッシュに残さない。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range securityHeaders {
				w.Header().Set(h[0], h[1])
			}
			if isPrivatePath(r.URL.Path) {
				w.Header().Set("Cache-Control", "no-store")
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPrivatePath(path string) bool {
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/auth/")
}
