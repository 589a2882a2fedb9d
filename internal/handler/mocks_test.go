package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/userbook/internal/auth"
	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/middleware"
	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	getLoginURLFn    func(state string) string
	handleCallbackFn func(ctx context.Context, code string) (*auth.TokenPair, error)
	registerFn       func(ctx context.Context, email, password, name string) (*auth.TokenPair, error)
	loginFn          func(ctx context.Context, email, password string) (*auth.TokenPair, error)
	refreshFn        func(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	logoutFn         func(ctx context.Context, sessionID, refreshToken string) error
	getCurrentUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAuthService) GetLoginURL(state string) string {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return ""
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*auth.TokenPair, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) Register(ctx context.Context, email, password, name string) (*auth.TokenPair, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, email, password, name)
	}
	return nil, nil
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.TokenPair, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil, nil
}

func (m *mockAuthService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID, refreshToken string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID, refreshToken)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, userID)
	}
	return nil, nil
}

type mockContactService struct {
	getAggregateFn        func(ctx context.Context, userID string) (*contact.Aggregate, error)
	addContactFn          func(ctx context.Context, userID string, in user.AddContactInput) (*model.ContactRecord, error)
	removeContactFn       func(ctx context.Context, userID, contactID string) error
	setDefaultFn          func(ctx context.Context, userID, contactID string) (*model.ContactRecord, error)
	requestVerificationFn func(ctx context.Context, userID, contactID string) error
	confirmFn             func(ctx context.Context, userID, contactID, code string) (*model.ContactRecord, error)
	validateFn            func(ctx context.Context, userID string) (contact.Violations, error)
}

func (m *mockContactService) GetAggregate(ctx context.Context, userID string) (*contact.Aggregate, error) {
	if m.getAggregateFn != nil {
		return m.getAggregateFn(ctx, userID)
	}
	return contact.NewAggregate(model.User{ID: userID}, nil), nil
}

func (m *mockContactService) AddContact(ctx context.Context, userID string, in user.AddContactInput) (*model.ContactRecord, error) {
	if m.addContactFn != nil {
		return m.addContactFn(ctx, userID, in)
	}
	return nil, nil
}

func (m *mockContactService) RemoveContact(ctx context.Context, userID, contactID string) error {
	if m.removeContactFn != nil {
		return m.removeContactFn(ctx, userID, contactID)
	}
	return nil
}

func (m *mockContactService) SetDefaultContact(ctx context.Context, userID, contactID string) (*model.ContactRecord, error) {
	if m.setDefaultFn != nil {
		return m.setDefaultFn(ctx, userID, contactID)
	}
	return nil, nil
}

func (m *mockContactService) RequestVerification(ctx context.Context, userID, contactID string) error {
	if m.requestVerificationFn != nil {
		return m.requestVerificationFn(ctx, userID, contactID)
	}
	return nil
}

func (m *mockContactService) ConfirmVerification(ctx context.Context, userID, contactID, code string) (*model.ContactRecord, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, userID, contactID, code)
	}
	return nil, nil
}

func (m *mockContactService) Validate(ctx context.Context, userID string) (contact.Violations, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, userID)
	}
	return nil, nil
}

type mockUserService struct {
	updateNameFn  func(ctx context.Context, userID, name string) (*model.User, error)
	setPasswordFn func(ctx context.Context, userID, password string) error
	withdrawFn    func(ctx context.Context, userID string) error
}

func (m *mockUserService) UpdateName(ctx context.Context, userID, name string) (*model.User, error) {
	if m.updateNameFn != nil {
		return m.updateNameFn(ctx, userID, name)
	}
	return &model.User{ID: userID, Name: name}, nil
}

func (m *mockUserService) SetPassword(ctx context.Context, userID, password string) error {
	if m.setPasswordFn != nil {
		return m.setPasswordFn(ctx, userID, password)
	}
	return nil
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockAdminService struct {
	unlockFn   func(ctx context.Context, userID string) error
	validateFn func(ctx context.Context, userID string) (contact.Violations, error)
	repairFn   func(ctx context.Context, userID string) (contact.Violations, error)
}

func (m *mockAdminService) Unlock(ctx context.Context, userID string) error {
	if m.unlockFn != nil {
		return m.unlockFn(ctx, userID)
	}
	return nil
}

func (m *mockAdminService) Validate(ctx context.Context, userID string) (contact.Violations, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockAdminService) Repair(ctx context.Context, userID string) (contact.Violations, error) {
	if m.repairFn != nil {
		return m.repairFn(ctx, userID)
	}
	return nil, nil
}

// compile-time interface check
var (
	_ ContactServiceInterface = (*user.Service)(nil)
	_ UserServiceInterface    = (*user.Service)(nil)
	_ AdminServiceInterface   = (*user.Service)(nil)
	_ AuthServiceInterface    = (*auth.Service)(nil)
)

// --- ヘルパー ---

// withUser は認証済みユーザーIDをコンテキストに設定したリクエストを返す。
func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

// withURLParam はchiのURLパラメータを設定したリクエストを返す。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// decodeErrorCode はエラーレスポンスのcodeを取り出す。
func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Code
}

// findCookie はレスポンスから指定名のCookieを探す。
func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
