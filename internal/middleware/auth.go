// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/hitoshi/userbook/internal/auth"
	"github.com/hitoshi/userbook/internal/model"
)

// AccessTokenCookieName はアクセストークンを保持するCookieの名前。
const AccessTokenCookieName = "access_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストに認証済み主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// Principal はアクセストークンから復元した認証済みの主体。
type Principal struct {
	UserID    string
	SessionID string
	Roles     []string
}

// HasRole は主体が指定ロールを持つかを返す。
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// TokenAuthenticator はアクセストークンの検証インターフェース。
// auth.Serviceが実装する。
type TokenAuthenticator interface {
	Authenticate(accessToken string) (*auth.AccessClaims, error)
}

// NewAuthMiddleware はアクセストークンを検証するミドルウェアを返す。
// トークンはAuthorization: Bearerヘッダー、なければaccess_token Cookieから読み取る。
// 認証済みの主体をリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewAuthMiddleware(authenticator TokenAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. トークンを取得
			token := accessTokenFromRequest(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 2. 署名・有効期限・発行者を検証
			claims, err := authenticator.Authenticate(token)
			if err != nil {
				slog.Debug("access token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			// 3. 主体をコンテキストに注入
			p := Principal{UserID: claims.Subject, SessionID: claims.SessionID, Roles: claims.Roles}
			setRequestUserID(r.Context(), p.UserID)
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole は指定ロールを持たない主体に403 Forbiddenを返すミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if !p.HasRole(role) {
				slog.Warn("role required",
					slog.String("user_id", p.UserID),
					slog.String("role", role),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func accessTokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(AccessTokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// PrincipalFromContext はリクエストコンテキストから認証済み主体を取得する。
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok && p.UserID != ""
}

// ContextWithPrincipal はコンテキストに認証済み主体を注入する。
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return p.UserID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return ContextWithPrincipal(ctx, Principal{UserID: userID})
}
