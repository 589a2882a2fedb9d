// Package contact はユーザー集約（ユーザー＋連絡先）の整合性ルールを提供する。
//
// 全ての操作は純粋関数として実装し、入力のスライスを変更せずに新しいスライスを返す。
// 集約が保証する不変条件:
//   - 種別ごとにデフォルトの連絡先は高々1件（1件以上あれば必ず1件）
//   - デフォルトのメールアドレスは primary に分類される
//   - デフォルトを削除した場合、同種別の残りから新しいデフォルトを選ぶ
//   - ユーザーは少なくとも1件のメールアドレスを持つ
package contact

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/valueobject"
)

var (
	// ErrDuplicateContact は同一ユーザー・同一種別で同じ値が既に存在する場合のエラー。
	ErrDuplicateContact = errors.New("contact: duplicate value")
	// ErrContactNotFound は対象の連絡先が存在しない場合のエラー。
	ErrContactNotFound = errors.New("contact: not found")
	// ErrLastEmail は唯一のメールアドレスを削除しようとした場合のエラー。
	ErrLastEmail = errors.New("contact: cannot remove the only email")
	// ErrInvalidKind は未知の連絡先種別の場合のエラー。
	ErrInvalidKind = errors.New("contact: invalid kind")
	// ErrInvalidCategory は未知の分類の場合のエラー。
	ErrInvalidCategory = errors.New("contact: invalid category")
)

// Add は連絡先を追加した新しいスライスを返す。
//
//   - 値は種別に応じた値オブジェクトで正規化する
//   - 同一種別に同じ値があればErrDuplicateContact
//   - その種別の最初の1件は makeDefault に関わらずデフォルトにする
//   - makeDefault の場合は同種別の既存デフォルトを解除する
//   - デフォルトになるメールアドレスは primary に分類する
func Add(records []model.ContactRecord, rec model.ContactRecord, makeDefault bool) ([]model.ContactRecord, error) {
	if !rec.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, rec.Kind)
	}

	value, err := valueobject.Canonicalize(rec.Kind, rec.Value)
	if err != nil {
		return nil, err
	}
	rec.Value = value

	if rec.Category == "" {
		rec.Category = defaultCategory(rec.Kind)
	}
	if !rec.Category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, rec.Category)
	}

	if indexOf(records, rec.Kind, rec.Value) >= 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrDuplicateContact, rec.Kind, valueobject.Display(rec.Kind, rec.Value))
	}

	if countKind(records, rec.Kind) == 0 {
		makeDefault = true
	}

	out := slices.Clone(records)
	if makeDefault {
		clearDefault(out, rec.Kind)
		if rec.Kind == model.ContactKindEmail {
			rec.Category = model.CategoryPrimary
		}
	}
	rec.IsDefault = makeDefault

	return append(out, rec), nil
}

// Remove は連絡先を削除した新しいスライスを返す。
//
//   - 存在しなければErrContactNotFound
//   - 唯一のメールアドレスならErrLastEmail
//   - 削除対象がデフォルトだった場合は同種別の残りから新しいデフォルトを選ぶ。
//     primary に分類されたものを優先し、なければ並び順で最初のもの
func Remove(records []model.ContactRecord, kind model.ContactKind, value string) ([]model.ContactRecord, error) {
	idx := indexOf(records, kind, value)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrContactNotFound, kind, value)
	}
	if kind == model.ContactKindEmail && countKind(records, kind) == 1 {
		return nil, ErrLastEmail
	}

	removed := records[idx]
	out := slices.Delete(slices.Clone(records), idx, idx+1)
	if removed.IsDefault {
		promoteDefault(out, kind)
	}
	return out, nil
}

// SetDefault は指定の連絡先をその種別のデフォルトにした新しいスライスを返す。
// メールアドレスの場合は分類を primary に変更する。他の連絡先の分類は変更しない。
func SetDefault(records []model.ContactRecord, kind model.ContactKind, value string) ([]model.ContactRecord, error) {
	idx := indexOf(records, kind, value)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrContactNotFound, kind, value)
	}

	out := slices.Clone(records)
	clearDefault(out, kind)
	out[idx].IsDefault = true
	if kind == model.ContactKindEmail {
		out[idx].Category = model.CategoryPrimary
	}
	return out, nil
}

// MarkVerified は指定の連絡先を確認済みにした新しいスライスを返す。
func MarkVerified(records []model.ContactRecord, kind model.ContactKind, value string, at time.Time) ([]model.ContactRecord, error) {
	idx := indexOf(records, kind, value)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrContactNotFound, kind, value)
	}

	out := slices.Clone(records)
	out[idx].IsVerified = true
	verifiedAt := at
	out[idx].VerifiedAt = &verifiedAt
	return out, nil
}

// Find は種別と値で連絡先を検索する。値は正規化して比較する。
func Find(records []model.ContactRecord, kind model.ContactKind, value string) (model.ContactRecord, bool) {
	idx := indexOf(records, kind, value)
	if idx < 0 {
		return model.ContactRecord{}, false
	}
	return records[idx], true
}

func indexOf(records []model.ContactRecord, kind model.ContactKind, value string) int {
	key := valueobject.DedupKey(kind, value)
	return slices.IndexFunc(records, func(r model.ContactRecord) bool {
		return r.Kind == kind && valueobject.DedupKey(kind, r.Value) == key
	})
}

func countKind(records []model.ContactRecord, kind model.ContactKind) int {
	n := 0
	for _, r := range records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func clearDefault(records []model.ContactRecord, kind model.ContactKind) {
	for i := range records {
		if records[i].Kind == kind {
			records[i].IsDefault = false
		}
	}
}

// promoteDefault は同種別の中から新しいデフォルトを選ぶ。records は呼び出し側で複製済み。
func promoteDefault(records []model.ContactRecord, kind model.ContactKind) {
	pick := slices.IndexFunc(records, func(r model.ContactRecord) bool {
		return r.Kind == kind && r.Category == model.CategoryPrimary
	})
	if pick < 0 {
		pick = slices.IndexFunc(records, func(r model.ContactRecord) bool {
			return r.Kind == kind
		})
	}
	if pick < 0 {
		return
	}

	records[pick].IsDefault = true
	if kind == model.ContactKindEmail {
		records[pick].Category = model.CategoryPrimary
	}
}

func defaultCategory(kind model.ContactKind) model.ContactCategory {
	switch kind {
	case model.ContactKindPhone:
		return model.CategoryMobile
	case model.ContactKindAddress:
		return model.CategoryHome
	default:
		return model.CategoryOther
	}
}
