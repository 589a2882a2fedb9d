package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/userbook/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// UpdateName は表示名を更新する。
	UpdateName(ctx context.Context, userID, name string) (*model.User, error)
	// SetPassword はパスワードを設定または変更する。
	SetPassword(ctx context.Context, userID, password string) error
	// Withdraw はユーザーの退会処理を実行する。
	// セッションを削除してからユーザーを削除し、identitiesとcontactsはCASCADE削除される。
	Withdraw(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// UpdateProfile は表示名を更新する。
// PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.UpdateName(r.Context(), userID, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// SetPassword はパスワードを設定する。
// PUT /api/users/me/password
func (h *UserHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req setPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SetPassword(r.Context(), userID, req.Password); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetupUserRoutes はユーザー管理関連のルーティングを設定する。
func SetupUserRoutes(r chi.Router, h *UserHandler) {
	r.Route("/api/users/me", func(r chi.Router) {
		r.Patch("/", h.UpdateProfile)
		r.Delete("/", h.Withdraw)
		r.Put("/password", h.SetPassword)
	})
}
