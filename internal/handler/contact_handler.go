package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/middleware"
	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/user"
	"github.com/hitoshi/userbook/internal/valueobject"
)

// ContactServiceInterface は連絡先ハンドラーが必要とするサービスインターフェース。
type ContactServiceInterface interface {
	GetAggregate(ctx context.Context, userID string) (*contact.Aggregate, error)
	AddContact(ctx context.Context, userID string, in user.AddContactInput) (*model.ContactRecord, error)
	RemoveContact(ctx context.Context, userID, contactID string) error
	SetDefaultContact(ctx context.Context, userID, contactID string) (*model.ContactRecord, error)
	RequestVerification(ctx context.Context, userID, contactID string) error
	ConfirmVerification(ctx context.Context, userID, contactID, code string) (*model.ContactRecord, error)
	Validate(ctx context.Context, userID string) (contact.Violations, error)
}

// ContactHandler は連絡先管理のHTTPハンドラー。
type ContactHandler struct {
	service ContactServiceInterface
}

// NewContactHandler はContactHandlerを生成する。
func NewContactHandler(service ContactServiceInterface) *ContactHandler {
	return &ContactHandler{service: service}
}

type addressRequest struct {
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2"`
	City       string   `json:"city"`
	Region     string   `json:"region"`
	PostalCode string   `json:"postal_code"`
	Country    string   `json:"country"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

type addContactRequest struct {
	Kind        string          `json:"kind"`
	Value       string          `json:"value"`
	Address     *addressRequest `json:"address,omitempty"`
	Category    string          `json:"category"`
	MakeDefault bool            `json:"make_default"`
}

type confirmVerificationRequest struct {
	Code string `json:"code"`
}

type contactResponse struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Value      string          `json:"value"`
	Category   string          `json:"category"`
	IsDefault  bool            `json:"is_default"`
	IsVerified bool            `json:"is_verified"`
	VerifiedAt *time.Time      `json:"verified_at,omitempty"`
	Address    *addressRequest `json:"address,omitempty"`
}

type userResponse struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Roles  []string `json:"roles"`
}

// aggregateResponse はGET /api/contactsのレスポンス。
type aggregateResponse struct {
	User          userResponse      `json:"user"`
	EmailVerified bool              `json:"email_verified"`
	Emails        []contactResponse `json:"emails"`
	Phones        []contactResponse `json:"phones"`
	Addresses     []contactResponse `json:"addresses"`
}

// validationResponse は整合性検査の結果。
type validationResponse struct {
	UserID     string             `json:"user_id"`
	Consistent bool               `json:"consistent"`
	Violations contact.Violations `json:"violations"`
}

// ListContacts はユーザーの連絡先を種別ごとに返す。
// GET /api/contacts
func (h *ContactHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	agg, err := h.service.GetAggregate(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAggregateResponse(agg))
}

// AddContact は連絡先を追加する。
// POST /api/contacts
func (h *ContactHandler) AddContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addContactRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := user.AddContactInput{
		Kind:        model.ContactKind(req.Kind),
		Value:       req.Value,
		Category:    model.ContactCategory(req.Category),
		MakeDefault: req.MakeDefault,
	}
	if req.Address != nil {
		in.Address = &valueobject.AddressFields{
			Line1:      req.Address.Line1,
			Line2:      req.Address.Line2,
			City:       req.Address.City,
			Region:     req.Address.Region,
			PostalCode: req.Address.PostalCode,
			Country:    req.Address.Country,
			Latitude:   req.Address.Latitude,
			Longitude:  req.Address.Longitude,
		}
	}

	rec, err := h.service.AddContact(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toContactResponse(*rec))
}

// RemoveContact は連絡先を削除する。
// DELETE /api/contacts/{id}
func (h *ContactHandler) RemoveContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveContact(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetDefault は連絡先を同種別のデフォルトにする。
// PUT /api/contacts/{id}/default
func (h *ContactHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	rec, err := h.service.SetDefaultContact(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContactResponse(*rec))
}

// RequestVerification は確認コードを発行する。
// POST /api/contacts/{id}/verification
func (h *ContactHandler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RequestVerification(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ConfirmVerification は確認コードを照合する。
// POST /api/contacts/{id}/verification/confirm
func (h *ContactHandler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req confirmVerificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("確認コードを入力してください"))
		return
	}

	rec, err := h.service.ConfirmVerification(r.Context(), userID, chi.URLParam(r, "id"), req.Code)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toContactResponse(*rec))
}

// Validate は自分の連絡先の整合性を検査する。
// GET /api/contacts/validation
func (h *ContactHandler) Validate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	vs, err := h.service.Validate(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toValidationResponse(userID, vs))
}

// SetupContactRoutes は連絡先関連のルーティングを設定する。
func SetupContactRoutes(r chi.Router, h *ContactHandler) {
	r.Route("/api/contacts", func(r chi.Router) {
		r.Get("/", h.ListContacts)
		r.Post("/", h.AddContact)
		r.Get("/validation", h.Validate)

		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.RemoveContact)
			r.Put("/default", h.SetDefault)
			r.Post("/verification", h.RequestVerification)
			r.Post("/verification/confirm", h.ConfirmVerification)
		})
	})
}

// --- ヘルパー関数 ---

func toAggregateResponse(agg *contact.Aggregate) aggregateResponse {
	u := agg.User()
	return aggregateResponse{
		User:          toUserResponse(&u),
		EmailVerified: agg.EmailVerified(),
		Emails:        toContactResponses(agg.Emails()),
		Phones:        toContactResponses(agg.Phones()),
		Addresses:     toContactResponses(agg.Addresses()),
	}
}

func toUserResponse(u *model.User) userResponse {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	return userResponse{ID: u.ID, Name: u.Name, Status: string(u.Status), Roles: roles}
}

func toContactResponses(records []model.ContactRecord) []contactResponse {
	out := make([]contactResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toContactResponse(rec))
	}
	return out
}

// toContactResponse はmodel.ContactRecordからAPIレスポンスに変換する。
// 住所は正規化文字列に加えて各フィールドも返す。
func toContactResponse(rec model.ContactRecord) contactResponse {
	resp := contactResponse{
		ID:         rec.ID,
		Kind:       string(rec.Kind),
		Value:      rec.Value,
		Category:   string(rec.Category),
		IsDefault:  rec.IsDefault,
		IsVerified: rec.IsVerified,
		VerifiedAt: rec.VerifiedAt,
	}
	if rec.Kind == model.ContactKindAddress {
		if addr, err := valueobject.ParsePostalAddress(rec.Value); err == nil {
			f := addr.Fields()
			resp.Address = &addressRequest{
				Line1:      f.Line1,
				Line2:      f.Line2,
				City:       f.City,
				Region:     f.Region,
				PostalCode: f.PostalCode,
				Country:    f.Country,
				Latitude:   f.Latitude,
				Longitude:  f.Longitude,
			}
		}
	}
	return resp
}

func toValidationResponse(userID string, vs contact.Violations) validationResponse {
	if vs == nil {
		vs = contact.Violations{}
	}
	return validationResponse{UserID: userID, Consistent: len(vs) == 0, Violations: vs}
}
