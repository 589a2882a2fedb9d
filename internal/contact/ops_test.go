package contact

import (
	"errors"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/valueobject"
)

const testUserID = "user-1"

func email(value string, category model.ContactCategory, isDefault bool) model.ContactRecord {
	return model.ContactRecord{
		ID:        "email-" + value,
		UserID:    testUserID,
		Kind:      model.ContactKindEmail,
		Value:     value,
		Category:  category,
		IsDefault: isDefault,
	}
}

func phone(value string, category model.ContactCategory, isDefault bool) model.ContactRecord {
	return model.ContactRecord{
		ID:        "phone-" + value,
		UserID:    testUserID,
		Kind:      model.ContactKindPhone,
		Value:     value,
		Category:  category,
		IsDefault: isDefault,
	}
}

func defaults(records []model.ContactRecord, kind model.ContactKind) []string {
	var out []string
	for _, r := range records {
		if r.Kind == kind && r.IsDefault {
			out = append(out, r.Value)
		}
	}
	return out
}

func TestAddThenSetDefault_Example(t *testing.T) {
	start := []model.ContactRecord{email("a@example.com", model.CategoryPrimary, true)}

	added, err := Add(start, email("b@example.com", model.CategoryWork, false), false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if diff := cmp.Diff([]string{"a@example.com"}, defaults(added, model.ContactKindEmail)); diff != "" {
		t.Errorf("defaults after Add mismatch (-want +got):\n%s", diff)
	}

	got, err := SetDefault(added, model.ContactKindEmail, "b@example.com")
	if err != nil {
		t.Fatalf("SetDefault: %v", err)
	}

	want := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, false),
		email("b@example.com", model.CategoryPrimary, true),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestAdd_FirstOfKindBecomesDefault(t *testing.T) {
	got, err := Add(nil, email("first@example.com", model.CategoryWork, false), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || !got[0].IsDefault {
		t.Fatalf("first email should be default, got %+v", got)
	}
	if got[0].Category != model.CategoryPrimary {
		t.Errorf("default email category = %q, want primary", got[0].Category)
	}

	got, err = Add(got, model.ContactRecord{UserID: testUserID, Kind: model.ContactKindPhone, Value: "+1 415 555 0100"}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := got[1]
	if !p.IsDefault {
		t.Error("first phone should be default")
	}
	if p.Value != "+14155550100" {
		t.Errorf("phone value = %q, want normalized +14155550100", p.Value)
	}
	if p.Category != model.CategoryMobile {
		t.Errorf("phone category = %q, want mobile", p.Category)
	}
}

func TestAdd_MakeDefaultClearsOthers(t *testing.T) {
	start := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		phone("+14155550100", model.CategoryMobile, true),
	}

	got, err := Add(start, email("b@example.com", model.CategoryHome, false), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"b@example.com"}, defaults(got, model.ContactKindEmail)); diff != "" {
		t.Errorf("email defaults mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"+14155550100"}, defaults(got, model.ContactKindPhone)); diff != "" {
		t.Errorf("phone default should be untouched (-want +got):\n%s", diff)
	}
	if got[2].Category != model.CategoryPrimary {
		t.Errorf("new default email category = %q, want primary", got[2].Category)
	}
}

func TestAdd_Errors(t *testing.T) {
	start := []model.ContactRecord{email("a@example.com", model.CategoryPrimary, true)}

	tests := []struct {
		name    string
		rec     model.ContactRecord
		wantErr error
	}{
		{"大文字小文字違いの重複", email("A@EXAMPLE.com", model.CategoryWork, false), ErrDuplicateContact},
		{"不正なメールアドレス", email("not-an-email", model.CategoryWork, false), valueobject.ErrInvalidValue},
		{"不明な種別", model.ContactRecord{Kind: "fax", Value: "123"}, ErrInvalidKind},
		{"不明な分類", email("c@example.com", "school", false), ErrInvalidCategory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := slices.Clone(start)
			got, err := Add(start, tt.rec, false)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got != nil {
				t.Errorf("expected nil result on error, got %+v", got)
			}
			if diff := cmp.Diff(snapshot, start); diff != "" {
				t.Errorf("input mutated (-before +after):\n%s", diff)
			}
		})
	}
}

func TestAdd_DoesNotMutateInput(t *testing.T) {
	start := make([]model.ContactRecord, 1, 4)
	start[0] = email("a@example.com", model.CategoryPrimary, true)
	snapshot := slices.Clone(start)

	if _, err := Add(start, email("b@example.com", model.CategoryWork, false), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(snapshot, start); diff != "" {
		t.Errorf("input mutated (-before +after):\n%s", diff)
	}
	if extra := start[:2][1]; extra.Value != "" {
		t.Errorf("spare capacity of input was written: %+v", extra)
	}
}

func TestRemove_DefaultPromotesPrimaryTagged(t *testing.T) {
	start := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		email("b@example.com", model.CategoryWork, false),
		email("c@example.com", model.CategoryPrimary, false),
	}

	got, err := Remove(start, model.ContactKindEmail, "a@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"c@example.com"}, defaults(got, model.ContactKindEmail)); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestRemove_DefaultPromotesFirstWhenNoPrimary(t *testing.T) {
	start := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		email("b@example.com", model.CategoryWork, false),
		email("c@example.com", model.CategoryHome, false),
	}

	got, err := Remove(start, model.ContactKindEmail, "A@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []model.ContactRecord{
		email("b@example.com", model.CategoryPrimary, true),
		email("c@example.com", model.CategoryHome, false),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestRemove_NonDefaultKeepsDefault(t *testing.T) {
	start := []model.ContactRecord{
		phone("+14155550100", model.CategoryMobile, true),
		phone("+14155550101", model.CategoryWork, false),
	}

	got, err := Remove(start, model.ContactKindPhone, "+1 415 555 0101")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(start[:1], got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestRemove_LastPhoneAllowed(t *testing.T) {
	start := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		phone("+14155550100", model.CategoryMobile, true),
	}

	got, err := Remove(start, model.ContactKindPhone, "+14155550100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Kind != model.ContactKindEmail {
		t.Errorf("expected only the email to remain, got %+v", got)
	}
}

func TestRemove_LastEmailFails(t *testing.T) {
	start := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		phone("+14155550100", model.CategoryMobile, true),
	}
	snapshot := slices.Clone(start)

	got, err := Remove(start, model.ContactKindEmail, "a@example.com")
	if !errors.Is(err, ErrLastEmail) {
		t.Fatalf("error = %v, want ErrLastEmail", err)
	}
	if got != nil {
		t.Errorf("expected nil result, got %+v", got)
	}
	if diff := cmp.Diff(snapshot, start); diff != "" {
		t.Errorf("input mutated (-before +after):\n%s", diff)
	}
}

func TestRemove_NotFound(t *testing.T) {
	start := []model.ContactRecord{email("a@example.com", model.CategoryPrimary, true)}
	if _, err := Remove(start, model.ContactKindEmail, "zzz@example.com"); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("error = %v, want ErrContactNotFound", err)
	}
}

func TestSetDefault_KeepsOtherCategories(t *testing.T) {
	start := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		email("b@example.com", model.CategoryWork, false),
		email("c@example.com", model.CategoryHome, false),
	}

	got, err := SetDefault(start, model.ContactKindEmail, "c@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, false),
		email("b@example.com", model.CategoryWork, false),
		email("c@example.com", model.CategoryPrimary, true),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestSetDefault_PhoneKeepsCategory(t *testing.T) {
	start := []model.ContactRecord{
		phone("+14155550100", model.CategoryMobile, true),
		phone("+14155550101", model.CategoryWork, false),
	}

	got, err := SetDefault(start, model.ContactKindPhone, "+14155550101")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[1].Category != model.CategoryWork {
		t.Errorf("phone category = %q, want work", got[1].Category)
	}
	if got[0].IsDefault || !got[1].IsDefault {
		t.Errorf("default not moved: %+v", got)
	}
}

func TestSetDefault_NotFound(t *testing.T) {
	if _, err := SetDefault(nil, model.ContactKindPhone, "+14155550100"); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("error = %v, want ErrContactNotFound", err)
	}
}

func TestMarkVerified(t *testing.T) {
	start := []model.ContactRecord{email("a@example.com", model.CategoryPrimary, true)}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := MarkVerified(start, model.ContactKindEmail, "a@example.com", at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got[0].IsVerified || got[0].VerifiedAt == nil || !got[0].VerifiedAt.Equal(at) {
		t.Errorf("record not verified: %+v", got[0])
	}
	if start[0].IsVerified {
		t.Error("input mutated")
	}

	if _, err := MarkVerified(start, model.ContactKindEmail, "b@example.com", at); !errors.Is(err, ErrContactNotFound) {
		t.Errorf("error = %v, want ErrContactNotFound", err)
	}
}

// 固定シードのランダム操作列で、成功した操作の後は常に整合し、
// 失敗した操作は入力を変更しないことを確認する。
func TestOperations_RandomSequencesKeepInvariants(t *testing.T) {
	emails := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "E@example.com"}
	phones := []string{"+14155550100", "+14155550101", "+442079460018"}
	categories := []model.ContactCategory{
		model.CategoryPrimary, model.CategoryHome, model.CategoryWork, model.CategoryMobile, model.CategoryOther,
	}

	rng := rand.New(rand.NewSource(20240601))

	for seq := 0; seq < 200; seq++ {
		records, err := Add(nil, email(emails[0], model.CategoryWork, false), false)
		if err != nil {
			t.Fatalf("seed record: %v", err)
		}

		for step := 0; step < 40; step++ {
			kind := model.ContactKindEmail
			value := emails[rng.Intn(len(emails))]
			if rng.Intn(2) == 0 {
				kind = model.ContactKindPhone
				value = phones[rng.Intn(len(phones))]
			}

			snapshot := slices.Clone(records)
			var (
				next []model.ContactRecord
				op   string
			)
			switch rng.Intn(3) {
			case 0:
				op = "add"
				rec := model.ContactRecord{
					UserID:   testUserID,
					Kind:     kind,
					Value:    value,
					Category: categories[rng.Intn(len(categories))],
				}
				next, err = Add(records, rec, rng.Intn(2) == 0)
			case 1:
				op = "remove"
				next, err = Remove(records, kind, value)
			default:
				op = "set_default"
				next, err = SetDefault(records, kind, value)
			}

			if diff := cmp.Diff(snapshot, records); diff != "" {
				t.Fatalf("seq %d step %d %s mutated input (-before +after):\n%s", seq, step, op, diff)
			}
			if err != nil {
				continue
			}

			if vs := Validate(testUserID, next).Blocking(); len(vs) > 0 {
				t.Fatalf("seq %d step %d %s %s %s left violations: %v", seq, step, op, kind, value, vs.Err())
			}
			for _, k := range model.ContactKinds() {
				if n := len(defaults(next, k)); n > 1 {
					t.Fatalf("seq %d step %d: %d defaults for %s", seq, step, n, k)
				}
			}
			records = next
		}
	}
}
