package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/middleware"
	"github.com/hitoshi/userbook/internal/model"
)

// AdminServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	Unlock(ctx context.Context, userID string) error
	Validate(ctx context.Context, userID string) (contact.Violations, error)
	Repair(ctx context.Context, userID string) (contact.Violations, error)
}

// AdminHandler は管理者向けのHTTPハンドラー。adminロールが必要。
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

type repairResponse struct {
	UserID string             `json:"user_id"`
	Fixed  contact.Violations `json:"fixed"`
}

// UnlockUser はログイン失敗によるロックを解除する。
// POST /api/admin/users/{id}/unlock
func (h *AdminHandler) UnlockUser(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	if err := h.service.Unlock(r.Context(), targetID); err != nil {
		handleServiceError(w, err)
		return
	}
	h.logAction(r, "unlock", targetID)
	w.WriteHeader(http.StatusNoContent)
}

// ValidateUser は指定ユーザーの連絡先の整合性を検査する。
// GET /api/admin/users/{id}/validation
func (h *AdminHandler) ValidateUser(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	vs, err := h.service.Validate(r.Context(), targetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationResponse(targetID, vs))
}

// RepairUser は指定ユーザーの修復可能な違反を直して保存する。
// POST /api/admin/users/{id}/repair
func (h *AdminHandler) RepairUser(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	fixed, err := h.service.Repair(r.Context(), targetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if fixed == nil {
		fixed = contact.Violations{}
	}
	h.logAction(r, "repair", targetID)
	writeJSON(w, http.StatusOK, repairResponse{UserID: targetID, Fixed: fixed})
}

// logAction は管理操作をログに出す。
func (h *AdminHandler) logAction(r *http.Request, action, targetID string) {
	actor, _ := middleware.UserIDFromContext(r.Context())
	slog.Info("admin action",
		slog.String("action", action),
		slog.String("actor_id", actor),
		slog.String("target_user_id", targetID),
	)
}

// SetupAdminRoutes は管理者向けのルーティングを設定する。
func SetupAdminRoutes(r chi.Router, h *AdminHandler) {
	r.Route("/api/admin/users/{id}", func(r chi.Router) {
		r.Use(middleware.RequireRole(model.RoleAdmin))
		r.Post("/unlock", h.UnlockUser)
		r.Get("/validation", h.ValidateUser)
		r.Post("/repair", h.RepairUser)
	})
}
