package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/userbook/internal/auth"
	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/middleware"
	"github.com/hitoshi/userbook/internal/model"
)

const (
	oauthStateCookie   = "oauth_state"
	refreshTokenCookie = "refresh_token"
	refreshCookiePath  = "/auth"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.TokenPair, error)
	Register(ctx context.Context, email, password, name string) (*auth.TokenPair, error)
	Login(ctx context.Context, email, password string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, sessionID, refreshToken string) error
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// ProfileReader は/auth/meでデフォルトのメールアドレスを返すために使う。
type ProfileReader interface {
	GetAggregate(ctx context.Context, userID string) (*contact.Aggregate, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	profiles ProfileReader
	config   AuthHandlerConfig
	now      func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, profiles ProfileReader, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		profiles: profiles,
		config:   config,
		now:      time.Now,
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse はトークン発行時のレスポンス。
// リフレッシュトークンはCookieでのみ返す。
type tokenResponse struct {
	UserID      string    `json:"user_id"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type meResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	Roles         []string `json:"roles"`
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.service.GetLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch", slog.String("query_state", state))
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("stateパラメータが一致しません"))
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	// 3. 認証処理
	pair, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		handleServiceError(w, err)
		return
	}

	// 4. トークンCookieを設定してフロントエンドにリダイレクト
	h.setTokenCookies(w, pair)
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Register はメールアドレスとパスワードでユーザーを登録する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("メールアドレスとパスワードは必須です"))
		return
	}

	pair, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setTokenCookies(w, pair)
	writeJSON(w, http.StatusCreated, toTokenResponse(pair))
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setTokenCookies(w, pair)
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

// Refresh はリフレッシュトークンをローテーションする。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		token = c.Value
	}

	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.clearTokenCookies(w)
		handleServiceError(w, err)
		return
	}

	h.setTokenCookies(w, pair)
	writeJSON(w, http.StatusOK, toTokenResponse(pair))
}

// Logout はセッションを破棄し、トークンCookieをクリアする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var sessionID string
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		sessionID = p.SessionID
	}
	var token string
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		token = c.Value
	}

	if err := h.service.Logout(r.Context(), sessionID, token); err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	h.clearTokenCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := meResponse{ID: user.ID, Name: user.Name, Roles: user.Roles}
	if h.profiles != nil {
		agg, err := h.profiles.GetAggregate(r.Context(), userID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if email, ok := agg.Default(model.ContactKindEmail); ok {
			resp.Email = email.Value
			resp.EmailVerified = email.IsVerified
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// setTokenCookies はアクセストークンとリフレッシュトークンのCookieを設定する。
// リフレッシュトークンは/auth配下にのみ送信される。
func (h *AuthHandler) setTokenCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	now := h.now()
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookieName,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge(pair.AccessExpiresAt, now),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshTokenCookie,
		Value:    pair.RefreshToken,
		Path:     refreshCookiePath,
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge(pair.RefreshExpiresAt, now),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearTokenCookies(w http.ResponseWriter) {
	for _, c := range []struct{ name, path string }{
		{middleware.AccessTokenCookieName, "/"},
		{refreshTokenCookie, refreshCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Domain:   h.config.CookieDomain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func toTokenResponse(pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		UserID:      pair.UserID,
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   pair.AccessExpiresAt,
	}
}

// maxAge は有効期限までの秒数を返す。期限切れの場合も1秒は残す。
func maxAge(expiresAt, now time.Time) int {
	secs := int(expiresAt.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
