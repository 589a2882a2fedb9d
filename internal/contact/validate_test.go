package contact

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/multierr"

	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/valueobject"
)

func testAddress(t *testing.T) string {
	t.Helper()
	addr, err := valueobject.NewPostalAddress(valueobject.AddressFields{
		Line1:   "1 Main St",
		City:    "Springfield",
		Country: "US",
	})
	if err != nil {
		t.Fatalf("NewPostalAddress: %v", err)
	}
	return addr.Canonical()
}

func violationKinds(vs Violations) []ViolationKind {
	out := make([]ViolationKind, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Kind)
	}
	return out
}

func inconsistentRecords(t *testing.T) []model.ContactRecord {
	return []model.ContactRecord{
		email("a@example.com", model.CategoryWork, true),
		email("A@example.com", model.CategoryOther, true),
		phone("+14155550100", model.CategoryMobile, false),
		{
			ID:       "addr-1",
			UserID:   "someone-else",
			Kind:     model.ContactKindAddress,
			Value:    testAddress(t),
			Category: model.CategoryHome,
		},
	}
}

func TestValidate_Consistent(t *testing.T) {
	records := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		email("b@example.com", model.CategoryWork, false),
		phone("+14155550100", model.CategoryMobile, true),
	}

	vs := Validate(testUserID, records)
	if len(vs) != 0 {
		t.Fatalf("expected no violations, got %v", vs)
	}
	if vs.Err() != nil {
		t.Errorf("Err() = %v, want nil", vs.Err())
	}
}

func TestValidate_ReportsEveryRule(t *testing.T) {
	vs := Validate(testUserID, inconsistentRecords(t))

	want := []ViolationKind{
		ViolationForeignOwner,
		ViolationDuplicateValue,
		ViolationMultipleDefaults,
		ViolationDefaultEmailNotPrimary,
		ViolationDefaultEmailNotPrimary,
		ViolationNoDefault,
		ViolationNoDefault,
	}
	if diff := cmp.Diff(want, violationKinds(vs)); diff != "" {
		t.Errorf("violation kinds mismatch (-want +got):\n%s", diff)
	}

	err := vs.Err()
	if err == nil {
		t.Fatal("Err() should not be nil")
	}
	if got := len(multierr.Errors(err)); got != len(vs) {
		t.Errorf("multierr.Errors len = %d, want %d", got, len(vs))
	}
	var v Violation
	if !errors.As(err, &v) {
		t.Error("errors.As should find a Violation")
	}
}

func TestValidate_MissingEmail(t *testing.T) {
	vs := Validate(testUserID, []model.ContactRecord{phone("+14155550100", model.CategoryMobile, true)})
	if diff := cmp.Diff([]ViolationKind{ViolationMissingEmail}, violationKinds(vs)); diff != "" {
		t.Errorf("violation kinds mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate_InvalidValue(t *testing.T) {
	records := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		phone("12345", model.CategoryMobile, true),
	}
	vs := Validate(testUserID, records)
	if !vs.Has(ViolationInvalidValue) {
		t.Errorf("expected invalid_value, got %v", vs)
	}
}

func TestValidate_UnverifiedDefaultIsAdvisory(t *testing.T) {
	verified := email("b@example.com", model.CategoryWork, false)
	verified.IsVerified = true
	records := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		verified,
	}

	vs := Validate(testUserID, records)
	if diff := cmp.Diff([]ViolationKind{ViolationUnverifiedDefault}, violationKinds(vs)); diff != "" {
		t.Errorf("violation kinds mismatch (-want +got):\n%s", diff)
	}
	if blocking := vs.Blocking(); len(blocking) != 0 {
		t.Errorf("unverified_default should not block, got %v", blocking)
	}
}

func TestRepair_FixesStructuralViolations(t *testing.T) {
	records := inconsistentRecords(t)

	got, fixed := Repair(testUserID, records)

	want := []model.ContactRecord{
		email("a@example.com", model.CategoryPrimary, true),
		phone("+14155550100", model.CategoryMobile, true),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("repaired records mismatch (-want +got):\n%s", diff)
	}
	if len(fixed) != 7 {
		t.Errorf("fixed = %d violations, want 7: %v", len(fixed), fixed)
	}
	if vs := Validate(testUserID, got); len(vs) != 0 {
		t.Errorf("repaired records still violate: %v", vs)
	}
	if records[0].Category != model.CategoryWork {
		t.Error("input mutated")
	}
}

func TestRepair_PromotesWhenNoDefault(t *testing.T) {
	records := []model.ContactRecord{
		email("a@example.com", model.CategoryWork, false),
		email("b@example.com", model.CategoryPrimary, false),
	}

	got, fixed := Repair(testUserID, records)
	if diff := cmp.Diff([]string{"b@example.com"}, defaults(got, model.ContactKindEmail)); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]ViolationKind{ViolationNoDefault}, violationKinds(fixed)); diff != "" {
		t.Errorf("fixed mismatch (-want +got):\n%s", diff)
	}
}

func TestRepair_CannotInventEmail(t *testing.T) {
	got, fixed := Repair(testUserID, nil)
	if len(got) != 0 || len(fixed) != 0 {
		t.Errorf("Repair(nil) = %v, %v; want empty", got, fixed)
	}
	if !Validate(testUserID, got).Has(ViolationMissingEmail) {
		t.Error("missing_email should remain")
	}
}

func TestAggregate_ViewsAndImmutability(t *testing.T) {
	user := model.User{ID: testUserID, Name: "Alice"}
	agg := NewAggregate(user, []model.ContactRecord{email("a@example.com", model.CategoryPrimary, true)})

	next, err := agg.Add(model.ContactRecord{Kind: model.ContactKindPhone, Value: "+14155550100"}, false)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(agg.Phones()) != 0 {
		t.Error("receiver aggregate was modified")
	}
	phones := next.Phones()
	if len(phones) != 1 || phones[0].UserID != testUserID {
		t.Fatalf("phones = %+v, want one record owned by %s", phones, testUserID)
	}
	if d, ok := next.Default(model.ContactKindPhone); !ok || d.Value != "+14155550100" {
		t.Errorf("Default(phone) = %+v, %v", d, ok)
	}
	if _, ok := next.Default(model.ContactKindAddress); ok {
		t.Error("no address default expected")
	}
	if len(next.Addresses()) != 0 {
		t.Error("expected no addresses")
	}
	if next.EmailVerified() {
		t.Error("default email is not verified yet")
	}

	verified, err := next.MarkVerified(model.ContactKindEmail, "a@example.com", time.Now())
	if err != nil {
		t.Fatalf("MarkVerified: %v", err)
	}
	if !verified.EmailVerified() {
		t.Error("EmailVerified() should be true after verification")
	}
	if _, ok := verified.FindByID("email-a@example.com"); !ok {
		t.Error("FindByID should find the email")
	}
	if len(verified.Validate()) != 0 {
		t.Errorf("unexpected violations: %v", verified.Validate())
	}

	if _, err := verified.Remove(model.ContactKindEmail, "a@example.com"); !errors.Is(err, ErrLastEmail) {
		t.Errorf("Remove last email error = %v, want ErrLastEmail", err)
	}
}
