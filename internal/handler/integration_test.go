package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/userbook/internal/auth"
	"github.com/hitoshi/userbook/internal/database"
	"github.com/hitoshi/userbook/internal/middleware"
	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/repository"
	"github.com/hitoshi/userbook/internal/security"
	"github.com/hitoshi/userbook/internal/user"
	"github.com/hitoshi/userbook/internal/verification"
)

// capturingNotifier は発行された確認コードを保持する。
type capturingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
}

func (n *capturingNotifier) Notify(ctx context.Context, rec model.ContactRecord, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[rec.ID] = code
	return nil
}

func (n *capturingNotifier) code(contactID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.codes[contactID]
}

// browser はSet-Cookieを反映してCookieを送り返す簡易クライアント。
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, h http.Handler) *browser {
	b := &browser{t: t, handler: h, cookies: map[string]*http.Cookie{}}
	// CSRFはダブルサブミットなので固定値で足りる
	b.cookies["csrf_token"] = &http.Cookie{Name: "csrf_token", Value: "integration-csrf", Path: "/"}
	return b
}

func (b *browser) do(method, path, body string) *httptest.ResponseRecorder {
	b.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:40000"
	req.Header.Set("X-CSRF-Token", "integration-csrf")
	for _, c := range b.cookies {
		if strings.HasPrefix(path, c.Path) {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	w := httptest.NewRecorder()
	b.handler.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		if c.Path == "" {
			c.Path = "/"
		}
		b.cookies[c.Name] = c
	}
	return w
}

func (b *browser) mustDo(method, path, body string, wantStatus int) *httptest.ResponseRecorder {
	b.t.Helper()
	w := b.do(method, path, body)
	if w.Code != wantStatus {
		b.t.Fatalf("%s %s: status = %d, want %d, body = %s", method, path, w.Code, wantStatus, w.Body.String())
	}
	return w
}

func decodeInto[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

// setupIntegrationRouter は組み込みSQLiteと実サービスでルーターを構築する。
func setupIntegrationRouter(t *testing.T) (http.Handler, *capturingNotifier) {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Skipf("SQLiteを開けません（スキップ）: %v", err)
	}
	if err := repository.AutoMigrateGorm(db); err != nil {
		t.Fatalf("AutoMigrateに失敗: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	userRepo := repository.NewGormUserRepo(db)
	identRepo := repository.NewGormIdentityRepo(db)
	sessionRepo := repository.NewGormSessionRepo(db)
	contactRepo := repository.NewGormContactRepo(db)

	hasher := auth.NewHasher(bcrypt.MinCost)
	sanitizer := security.NewTextSanitizer()
	tokens := auth.NewTokenIssuer("integration-secret-integration-secret", "userbook", "userbook-api", 15*time.Minute)

	authService := auth.NewService(nil, userRepo, identRepo, sessionRepo, tokens, hasher, sanitizer, nil,
		auth.ServiceConfig{RefreshTokenTTL: 24 * time.Hour, LoginMaxAttempts: 5, LoginLockout: 15 * time.Minute})

	notifier := &capturingNotifier{codes: map[string]string{}}
	verifier := verification.NewService(verification.NewMemoryStore(), notifier,
		verification.ServiceConfig{TTL: 10 * time.Minute, MaxAttempts: 5}, nil)
	userService := user.NewService(userRepo, sessionRepo, contactRepo, verifier, hasher, sanitizer, nil)

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Authenticator:     authService,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       authService,
		AuthConfig:        AuthHandlerConfig{BaseURL: "http://localhost:3000"},
		ContactService:    userService,
		UserService:       userService,
		AdminService:      userService,
	})
	return router, notifier
}

func TestIntegration_ContactLifecycle(t *testing.T) {
	router, notifier := setupIntegrationRouter(t)
	b := newBrowser(t, router)

	// 1. 登録するとメールアドレス1件がデフォルトかつprimaryになる
	b.mustDo(http.MethodPost, "/auth/register",
		`{"email":"Alice@Example.com","password":"correct horse battery","name":"Alice"}`, http.StatusCreated)

	view := decodeInto[aggregateResponse](t, b.mustDo(http.MethodGet, "/api/contacts", "", http.StatusOK))
	if len(view.Emails) != 1 {
		t.Fatalf("emails = %d, want 1", len(view.Emails))
	}
	first := view.Emails[0]
	if !first.IsDefault || first.Category != string(model.CategoryPrimary) || first.IsVerified {
		t.Errorf("first email = %+v", first)
	}

	// 未確認のデフォルトは警告として報告される
	report := decodeInto[validationResponse](t, b.mustDo(http.MethodGet, "/api/contacts/validation", "", http.StatusOK))
	if report.Consistent || len(report.Violations) != 1 {
		t.Errorf("validation before verify = %+v", report)
	}

	// 2. 確認コードで確認済みにする
	b.mustDo(http.MethodPost, "/api/contacts/"+first.ID+"/verification", "", http.StatusAccepted)
	code := notifier.code(first.ID)
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}
	b.mustDo(http.MethodPost, "/api/contacts/"+first.ID+"/verification/confirm", `{"code":"000000x"}`, http.StatusBadRequest)
	verified := decodeInto[contactResponse](t, b.mustDo(http.MethodPost,
		"/api/contacts/"+first.ID+"/verification/confirm", `{"code":"`+code+`"}`, http.StatusOK))
	if !verified.IsVerified {
		t.Error("email should be verified")
	}

	// 3. 電話番号と2件目のメールアドレスを追加
	phone := decodeInto[contactResponse](t, b.mustDo(http.MethodPost, "/api/contacts",
		`{"kind":"phone","value":"+81 3-1234-5678","category":"mobile"}`, http.StatusCreated))
	if !phone.IsDefault {
		t.Error("first phone should become default")
	}
	second := decodeInto[contactResponse](t, b.mustDo(http.MethodPost, "/api/contacts",
		`{"kind":"email","value":"alice@work.example.com","category":"work"}`, http.StatusCreated))
	if second.IsDefault {
		t.Error("second email should not become default")
	}

	// 大文字小文字違いは重複
	b.mustDo(http.MethodPost, "/api/contacts", `{"kind":"email","value":"ALICE@example.com"}`, http.StatusConflict)

	// 4. デフォルトを2件目に切り替えると、最初のメールはデフォルトでなくなる
	b.mustDo(http.MethodPut, "/api/contacts/"+second.ID+"/default", "", http.StatusOK)
	view = decodeInto[aggregateResponse](t, b.mustDo(http.MethodGet, "/api/contacts", "", http.StatusOK))
	defaults := 0
	for _, e := range view.Emails {
		if e.IsDefault {
			defaults++
			if e.ID != second.ID {
				t.Errorf("default email = %s, want %s", e.ID, second.ID)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("default emails = %d, want 1", defaults)
	}

	// 5. 削除。最後のメールアドレスは削除できない
	b.mustDo(http.MethodDelete, "/api/contacts/"+first.ID, "", http.StatusNoContent)
	b.mustDo(http.MethodDelete, "/api/contacts/"+second.ID, "", http.StatusConflict)
	b.mustDo(http.MethodDelete, "/api/contacts/does-not-exist", "", http.StatusNotFound)

	// 6. 管理者ロールがなければ管理APIは使えない
	b.mustDo(http.MethodPost, "/api/admin/users/"+view.User.ID+"/repair", "", http.StatusForbidden)

	// 7. 退会するとトークンは使えても本人が見つからない
	b.mustDo(http.MethodDelete, "/api/users/me", "", http.StatusNoContent)
	b.mustDo(http.MethodGet, "/api/contacts", "", http.StatusNotFound)
}

func TestIntegration_LoginRefreshLogout(t *testing.T) {
	router, _ := setupIntegrationRouter(t)
	b := newBrowser(t, router)

	b.mustDo(http.MethodPost, "/auth/register", `{"email":"bob@example.com","password":"long enough pw","name":"Bob"}`, http.StatusCreated)
	b.mustDo(http.MethodPost, "/auth/logout", "", http.StatusNoContent)
	if _, ok := b.cookies[middleware.AccessTokenCookieName]; ok {
		t.Fatal("access cookie should be cleared after logout")
	}
	b.mustDo(http.MethodGet, "/api/contacts", "", http.StatusUnauthorized)

	// パスワード誤り、次に正しいパスワード
	b.mustDo(http.MethodPost, "/auth/login", `{"email":"bob@example.com","password":"wrong password"}`, http.StatusUnauthorized)
	b.mustDo(http.MethodPost, "/auth/login", `{"email":"BOB@example.com","password":"long enough pw"}`, http.StatusOK)

	me := decodeInto[meResponse](t, b.mustDo(http.MethodGet, "/auth/me", "", http.StatusOK))
	if me.Email != "bob@example.com" || me.Name != "Bob" {
		t.Errorf("me = %+v", me)
	}

	// リフレッシュトークンはローテーションされ、古いものは使えない
	oldRefresh := b.cookies[refreshTokenCookie].Value
	b.mustDo(http.MethodPost, "/auth/refresh", "", http.StatusOK)
	if b.cookies[refreshTokenCookie].Value == oldRefresh {
		t.Fatal("refresh token should rotate")
	}

	replay := newBrowser(t, router)
	replay.cookies[refreshTokenCookie] = &http.Cookie{Name: refreshTokenCookie, Value: oldRefresh, Path: "/auth"}
	replay.mustDo(http.MethodPost, "/auth/refresh", "", http.StatusUnauthorized)

	// 表示名とパスワードの変更
	updated := decodeInto[userResponse](t, b.mustDo(http.MethodPatch, "/api/users/me", `{"name":"<b>Bobby</b>"}`, http.StatusOK))
	if updated.Name != "Bobby" {
		t.Errorf("name = %q, want sanitized %q", updated.Name, "Bobby")
	}
	b.mustDo(http.MethodPut, "/api/users/me/password", `{"password":"short"}`, http.StatusBadRequest)
	b.mustDo(http.MethodPut, "/api/users/me/password", `{"password":"a brand new pw"}`, http.StatusNoContent)
	b.mustDo(http.MethodPost, "/auth/login", `{"email":"bob@example.com","password":"a brand new pw"}`, http.StatusOK)
}
