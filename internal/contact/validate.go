package contact

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/valueobject"
)

// ViolationKind は整合性違反の種類を表す。
type ViolationKind string

const (
	ViolationDuplicateValue         ViolationKind = "duplicate_value"
	ViolationNoDefault              ViolationKind = "no_default"
	ViolationMultipleDefaults       ViolationKind = "multiple_defaults"
	ViolationDefaultEmailNotPrimary ViolationKind = "default_email_not_primary"
	ViolationUnverifiedDefault      ViolationKind = "unverified_default"
	ViolationMissingEmail           ViolationKind = "missing_email"
	ViolationForeignOwner           ViolationKind = "foreign_owner"
	ViolationInvalidValue           ViolationKind = "invalid_value"
)

// Blocking は永続化を拒否すべき違反かを返す。
// unverified_default は利用者の確認操作を待つ状態のため警告扱いとする。
func (k ViolationKind) Blocking() bool {
	return k != ViolationUnverifiedDefault
}

// Violation は1件の整合性違反。
type Violation struct {
	Kind        ViolationKind     `json:"kind"`
	ContactKind model.ContactKind `json:"contact_kind,omitempty"`
	Value       string            `json:"value,omitempty"`
	Message     string            `json:"message"`
}

// Error はerrorインターフェースを満たす。
func (v Violation) Error() string {
	if v.ContactKind == "" {
		return fmt.Sprintf("%s: %s", v.Kind, v.Message)
	}
	return fmt.Sprintf("%s (%s): %s", v.Kind, v.ContactKind, v.Message)
}

// Violations はValidateの結果。空なら整合している。
type Violations []Violation

// Err は違反をまとめた1つのエラーを返す。違反がなければnil。
func (vs Violations) Err() error {
	var err error
	for _, v := range vs {
		err = multierr.Append(err, v)
	}
	return err
}

// Blocking は永続化を拒否すべき違反のみを返す。
func (vs Violations) Blocking() Violations {
	var out Violations
	for _, v := range vs {
		if v.Kind.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Has は指定種類の違反を含むかを返す。
func (vs Violations) Has(kind ViolationKind) bool {
	for _, v := range vs {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// Validate は全ての整合性ルールを検査し、違反を列挙して返す。
// エラーを返さず、記録・拒否・修復の判断は呼び出し側に委ねる。
// 結果の順序は種別の定義順、同種別内ではレコードの並び順で決定的。
func Validate(userID string, records []model.ContactRecord) Violations {
	var vs Violations

	for _, r := range records {
		if r.UserID != userID {
			vs = append(vs, Violation{
				Kind:        ViolationForeignOwner,
				ContactKind: r.Kind,
				Value:       r.Value,
				Message:     fmt.Sprintf("record %s belongs to user %q", r.ID, r.UserID),
			})
		}
		if !r.Kind.Valid() {
			vs = append(vs, Violation{
				Kind:        ViolationInvalidValue,
				ContactKind: r.Kind,
				Value:       r.Value,
				Message:     fmt.Sprintf("unknown contact kind %q", r.Kind),
			})
			continue
		}
		if _, err := valueobject.Canonicalize(r.Kind, r.Value); err != nil {
			vs = append(vs, Violation{
				Kind:        ViolationInvalidValue,
				ContactKind: r.Kind,
				Value:       r.Value,
				Message:     err.Error(),
			})
		}
	}

	for _, kind := range model.ContactKinds() {
		vs = append(vs, validateKind(kind, records)...)
	}

	return vs
}

func validateKind(kind model.ContactKind, records []model.ContactRecord) Violations {
	var (
		vs       Violations
		count    int
		defaults []model.ContactRecord
		verified bool
		seen     = make(map[string]bool)
	)

	for _, r := range records {
		if r.Kind != kind {
			continue
		}
		count++

		key := valueobject.DedupKey(kind, r.Value)
		if seen[key] {
			vs = append(vs, Violation{
				Kind:        ViolationDuplicateValue,
				ContactKind: kind,
				Value:       r.Value,
				Message:     fmt.Sprintf("duplicate %s %s", kind, valueobject.Display(kind, r.Value)),
			})
		}
		seen[key] = true

		if r.IsDefault {
			defaults = append(defaults, r)
		}
		if r.IsVerified {
			verified = true
		}
	}

	if count == 0 {
		if kind == model.ContactKindEmail {
			vs = append(vs, Violation{
				Kind:        ViolationMissingEmail,
				ContactKind: kind,
				Message:     "user has no email address",
			})
		}
		return vs
	}

	switch len(defaults) {
	case 0:
		vs = append(vs, Violation{
			Kind:        ViolationNoDefault,
			ContactKind: kind,
			Message:     fmt.Sprintf("no default %s among %d records", kind, count),
		})
	case 1:
	default:
		vs = append(vs, Violation{
			Kind:        ViolationMultipleDefaults,
			ContactKind: kind,
			Message:     fmt.Sprintf("%d default %s records", len(defaults), kind),
		})
	}

	for _, d := range defaults {
		if kind == model.ContactKindEmail && d.Category != model.CategoryPrimary {
			vs = append(vs, Violation{
				Kind:        ViolationDefaultEmailNotPrimary,
				ContactKind: kind,
				Value:       d.Value,
				Message:     fmt.Sprintf("default email is tagged %q", d.Category),
			})
		}
		if !d.IsVerified && verified {
			vs = append(vs, Violation{
				Kind:        ViolationUnverifiedDefault,
				ContactKind: kind,
				Value:       d.Value,
				Message:     fmt.Sprintf("default %s is unverified while a verified one exists", kind),
			})
		}
	}

	return vs
}
