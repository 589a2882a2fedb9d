package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/user"
	"github.com/hitoshi/userbook/internal/valueobject"
)

func sampleAggregate(userID string) *contact.Aggregate {
	addr, _ := valueobject.NewPostalAddress(valueobject.AddressFields{
		Line1: "1-2-3 Shibuya", City: "Shibuya-ku", Region: "Tokyo", PostalCode: "150-0002", Country: "JP",
	})
	return contact.NewAggregate(
		model.User{ID: userID, Name: "Alice", Status: model.UserStatusActive, Roles: []string{model.RoleUser}},
		[]model.ContactRecord{
			{ID: "e1", UserID: userID, Kind: model.ContactKindEmail, Value: "alice@example.com", Category: model.CategoryPrimary, IsDefault: true, IsVerified: true},
			{ID: "p1", UserID: userID, Kind: model.ContactKindPhone, Value: "+81312345678", Category: model.CategoryMobile, IsDefault: true},
			{ID: "a1", UserID: userID, Kind: model.ContactKindAddress, Value: addr.Canonical(), Category: model.CategoryHome, IsDefault: true},
		},
	)
}

func TestContactHandler_ListContacts(t *testing.T) {
	svc := &mockContactService{
		getAggregateFn: func(ctx context.Context, userID string) (*contact.Aggregate, error) {
			return sampleAggregate(userID), nil
		},
	}
	h := NewContactHandler(svc)

	w := httptest.NewRecorder()
	h.ListContacts(w, withUser(httptest.NewRequest(http.MethodGet, "/api/contacts", nil), "user-1"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp aggregateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}

	if resp.User.ID != "user-1" || !resp.EmailVerified {
		t.Errorf("user = %+v, email_verified = %v", resp.User, resp.EmailVerified)
	}
	if len(resp.Emails) != 1 || len(resp.Phones) != 1 || len(resp.Addresses) != 1 {
		t.Fatalf("counts: emails=%d phones=%d addresses=%d", len(resp.Emails), len(resp.Phones), len(resp.Addresses))
	}

	wantAddr := &addressRequest{
		Line1: "1-2-3 Shibuya", City: "Shibuya-ku", Region: "Tokyo", PostalCode: "150-0002", Country: "JP",
	}
	if diff := cmp.Diff(wantAddr, resp.Addresses[0].Address); diff != "" {
		t.Errorf("address fields mismatch (-want +got):\n%s", diff)
	}
	if resp.Emails[0].Address != nil {
		t.Error("email records should not carry address fields")
	}
}

func TestContactHandler_ListContacts_EmptyKindsAreArrays(t *testing.T) {
	h := NewContactHandler(&mockContactService{})

	w := httptest.NewRecorder()
	h.ListContacts(w, withUser(httptest.NewRequest(http.MethodGet, "/api/contacts", nil), "user-1"))

	body := w.Body.String()
	for _, want := range []string{`"emails":[]`, `"phones":[]`, `"addresses":[]`} {
		if !strings.Contains(body, want) {
			t.Errorf("body should contain %s: %s", want, body)
		}
	}
}

func TestContactHandler_AddContact_PassesInput(t *testing.T) {
	var got user.AddContactInput
	svc := &mockContactService{
		addContactFn: func(ctx context.Context, userID string, in user.AddContactInput) (*model.ContactRecord, error) {
			got = in
			return &model.ContactRecord{
				ID: "a2", UserID: userID, Kind: in.Kind, Value: "x", Category: in.Category, IsDefault: in.MakeDefault,
			}, nil
		},
	}
	h := NewContactHandler(svc)

	lat, lng := 35.66, 139.70
	body := `{"kind":"address","address":{"line1":"1 Main","city":"Tokyo","country":"JP","latitude":35.66,"longitude":139.7},"category":"home","make_default":true}`
	w := httptest.NewRecorder()
	h.AddContact(w, withUser(httptest.NewRequest(http.MethodPost, "/api/contacts", strings.NewReader(body)), "user-1"))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	want := user.AddContactInput{
		Kind:        model.ContactKindAddress,
		Address:     &valueobject.AddressFields{Line1: "1 Main", City: "Tokyo", Country: "JP", Latitude: &lat, Longitude: &lng},
		Category:    model.CategoryHome,
		MakeDefault: true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("input mismatch (-want +got):\n%s", diff)
	}
}

func TestContactHandler_AddContact_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"不正なJSON", `{"kind":`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"重複", `{"kind":"email","value":"a@example.com"}`, model.NewContactDuplicateError(model.ContactKindEmail, "a@example.com"), http.StatusConflict, model.ErrCodeContactDuplicate},
		{"形式不正", `{"kind":"phone","value":"abc"}`, model.NewInvalidContactError("phone"), http.StatusBadRequest, model.ErrCodeInvalidContact},
		{"整合性違反", `{"kind":"phone","value":"+81312345678"}`, model.NewContactInconsistentError("missing_email"), http.StatusConflict, model.ErrCodeContactInconsistent},
		{"内部エラー", `{"kind":"email","value":"a@example.com"}`, errors.New("db down"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockContactService{
				addContactFn: func(ctx context.Context, userID string, in user.AddContactInput) (*model.ContactRecord, error) {
					return nil, tt.err
				},
			}
			h := NewContactHandler(svc)
			w := httptest.NewRecorder()
			h.AddContact(w, withUser(httptest.NewRequest(http.MethodPost, "/api/contacts", strings.NewReader(tt.body)), "user-1"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if code := decodeErrorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestContactHandler_RequiresUser(t *testing.T) {
	h := NewContactHandler(&mockContactService{})
	handlers := map[string]http.HandlerFunc{
		"ListContacts":        h.ListContacts,
		"AddContact":          h.AddContact,
		"RemoveContact":       h.RemoveContact,
		"SetDefault":          h.SetDefault,
		"RequestVerification": h.RequestVerification,
		"ConfirmVerification": h.ConfirmVerification,
		"Validate":            h.Validate,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			fn(w, httptest.NewRequest(http.MethodPost, "/api/contacts", strings.NewReader(`{}`)))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestContactHandler_RemoveContact(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"成功", nil, http.StatusNoContent},
		{"最後のメールアドレス", model.NewContactLastEmailError(), http.StatusConflict},
		{"見つからない", model.NewContactNotFoundError("c-9"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotID string
			svc := &mockContactService{
				removeContactFn: func(ctx context.Context, userID, contactID string) error {
					gotUser, gotID = userID, contactID
					return tt.err
				},
			}
			h := NewContactHandler(svc)
			req := withUser(httptest.NewRequest(http.MethodDelete, "/api/contacts/c-9", nil), "user-1")
			req = withURLParam(req, "id", "c-9")
			w := httptest.NewRecorder()
			h.RemoveContact(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotUser != "user-1" || gotID != "c-9" {
				t.Errorf("RemoveContact(%q, %q)", gotUser, gotID)
			}
		})
	}
}

func TestContactHandler_SetDefault(t *testing.T) {
	svc := &mockContactService{
		setDefaultFn: func(ctx context.Context, userID, contactID string) (*model.ContactRecord, error) {
			return &model.ContactRecord{ID: contactID, Kind: model.ContactKindPhone, Value: "+81312345678", Category: model.CategoryWork, IsDefault: true}, nil
		},
	}
	h := NewContactHandler(svc)
	req := withURLParam(withUser(httptest.NewRequest(http.MethodPut, "/api/contacts/p2/default", nil), "user-1"), "id", "p2")
	w := httptest.NewRecorder()
	h.SetDefault(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp contactResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.ID != "p2" || !resp.IsDefault {
		t.Errorf("response = %+v", resp)
	}
}

func TestContactHandler_Verification(t *testing.T) {
	t.Run("コード発行", func(t *testing.T) {
		var gotID string
		svc := &mockContactService{
			requestVerificationFn: func(ctx context.Context, userID, contactID string) error {
				gotID = contactID
				return nil
			},
		}
		h := NewContactHandler(svc)
		req := withURLParam(withUser(httptest.NewRequest(http.MethodPost, "/api/contacts/e2/verification", nil), "user-1"), "id", "e2")
		w := httptest.NewRecorder()
		h.RequestVerification(w, req)

		if w.Code != http.StatusAccepted {
			t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
		}
		if gotID != "e2" {
			t.Errorf("contactID = %q, want e2", gotID)
		}
	})

	t.Run("コード照合", func(t *testing.T) {
		var gotCode string
		svc := &mockContactService{
			confirmFn: func(ctx context.Context, userID, contactID, code string) (*model.ContactRecord, error) {
				gotCode = code
				return &model.ContactRecord{ID: contactID, Kind: model.ContactKindEmail, IsVerified: true}, nil
			},
		}
		h := NewContactHandler(svc)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/contacts/e2/verification/confirm", strings.NewReader(`{"code":"123456"}`)), "user-1")
		req = withURLParam(req, "id", "e2")
		w := httptest.NewRecorder()
		h.ConfirmVerification(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if gotCode != "123456" {
			t.Errorf("code = %q, want 123456", gotCode)
		}
	})

	t.Run("コード未入力", func(t *testing.T) {
		h := NewContactHandler(&mockContactService{})
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/contacts/e2/verification/confirm", strings.NewReader(`{}`)), "user-1")
		w := httptest.NewRecorder()
		h.ConfirmVerification(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("コード不一致", func(t *testing.T) {
		svc := &mockContactService{
			confirmFn: func(ctx context.Context, userID, contactID, code string) (*model.ContactRecord, error) {
				return nil, model.NewVerificationFailedError("mismatch")
			},
		}
		h := NewContactHandler(svc)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/contacts/e2/verification/confirm", strings.NewReader(`{"code":"000000"}`)), "user-1")
		w := httptest.NewRecorder()
		h.ConfirmVerification(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if code := decodeErrorCode(t, w); code != model.ErrCodeVerificationFailed {
			t.Errorf("code = %q, want %q", code, model.ErrCodeVerificationFailed)
		}
	})
}

func TestContactHandler_Validate(t *testing.T) {
	tests := []struct {
		name           string
		violations     contact.Violations
		wantConsistent bool
		wantCount      int
	}{
		{"整合", nil, true, 0},
		{"未確認のデフォルト", contact.Violations{
			{Kind: contact.ViolationUnverifiedDefault, ContactKind: model.ContactKindEmail, Message: "default email is not verified"},
		}, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockContactService{
				validateFn: func(ctx context.Context, userID string) (contact.Violations, error) {
					return tt.violations, nil
				},
			}
			h := NewContactHandler(svc)
			w := httptest.NewRecorder()
			h.Validate(w, withUser(httptest.NewRequest(http.MethodGet, "/api/contacts/validation", nil), "user-1"))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			body := w.Body.String()
			var resp validationResponse
			if err := json.NewDecoder(strings.NewReader(body)).Decode(&resp); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if resp.Consistent != tt.wantConsistent || len(resp.Violations) != tt.wantCount {
				t.Errorf("response = %+v", resp)
			}
			if !strings.Contains(body, `"violations":[`) {
				t.Errorf("violations should always be an array: %s", body)
			}
		})
	}
}
