package contact

import (
	"slices"

	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/valueobject"
)

// Repair は修復可能な違反を直した新しいスライスと、修復した違反を返す。
//
//   - 他ユーザーのレコードを除外する
//   - 重複は最初の1件を残して除外する
//   - デフォルトがない種別はRemoveと同じ優先順位で昇格させる
//   - デフォルトが複数ある種別は最初の1件以外を解除する
//   - デフォルトのメールアドレスを primary に分類し直す
//
// missing_email と invalid_value は修復できないため、Validateで引き続き検出される。
func Repair(userID string, records []model.ContactRecord) ([]model.ContactRecord, Violations) {
	before := Validate(userID, records)
	if len(before) == 0 {
		return slices.Clone(records), nil
	}

	out := make([]model.ContactRecord, 0, len(records))
	seen := make(map[model.ContactKind]map[string]bool)
	for _, r := range records {
		if r.UserID != userID {
			continue
		}
		if seen[r.Kind] == nil {
			seen[r.Kind] = make(map[string]bool)
		}
		key := valueobject.DedupKey(r.Kind, r.Value)
		if seen[r.Kind][key] {
			continue
		}
		seen[r.Kind][key] = true
		out = append(out, r)
	}

	for _, kind := range model.ContactKinds() {
		repairDefaults(out, kind)
	}

	after := Validate(userID, out)
	var fixed Violations
	for _, v := range before {
		if !slices.Contains(after, v) {
			fixed = append(fixed, v)
		}
	}
	return out, fixed
}

func repairDefaults(records []model.ContactRecord, kind model.ContactKind) {
	first := -1
	for i := range records {
		if records[i].Kind != kind || !records[i].IsDefault {
			continue
		}
		if first < 0 {
			first = i
			continue
		}
		records[i].IsDefault = false
	}

	if first < 0 {
		promoteDefault(records, kind)
		return
	}
	if kind == model.ContactKindEmail {
		records[first].Category = model.CategoryPrimary
	}
}
