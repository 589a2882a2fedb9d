package contact

import (
	"slices"
	"time"

	"github.com/hitoshi/userbook/internal/model"
)

// Aggregate はユーザーと連絡先一覧をまとめた集約。
// 変更操作は新しいAggregateを返し、レシーバは変更しない。
type Aggregate struct {
	user    model.User
	records []model.ContactRecord
}

// NewAggregate はユーザーと連絡先から集約を生成する。recordsは複製して保持する。
func NewAggregate(user model.User, records []model.ContactRecord) *Aggregate {
	return &Aggregate{user: user, records: slices.Clone(records)}
}

// User は集約のユーザーを返す。
func (a *Aggregate) User() model.User { return a.user }

// Records は全連絡先の複製を返す。
func (a *Aggregate) Records() []model.ContactRecord { return slices.Clone(a.records) }

// Emails はメールアドレスの一覧を返す。
func (a *Aggregate) Emails() []model.ContactRecord { return a.ByKind(model.ContactKindEmail) }

// Phones は電話番号の一覧を返す。
func (a *Aggregate) Phones() []model.ContactRecord { return a.ByKind(model.ContactKindPhone) }

// Addresses は住所の一覧を返す。
func (a *Aggregate) Addresses() []model.ContactRecord { return a.ByKind(model.ContactKindAddress) }

// ByKind は指定種別の連絡先を並び順で返す。
func (a *Aggregate) ByKind(kind model.ContactKind) []model.ContactRecord {
	out := make([]model.ContactRecord, 0)
	for _, r := range a.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Default は指定種別のデフォルト連絡先を返す。
func (a *Aggregate) Default(kind model.ContactKind) (model.ContactRecord, bool) {
	for _, r := range a.records {
		if r.Kind == kind && r.IsDefault {
			return r, true
		}
	}
	return model.ContactRecord{}, false
}

// FindByID はIDで連絡先を検索する。
func (a *Aggregate) FindByID(id string) (model.ContactRecord, bool) {
	for _, r := range a.records {
		if r.ID == id {
			return r, true
		}
	}
	return model.ContactRecord{}, false
}

// EmailVerified はデフォルトのメールアドレスが確認済みかを返す。
func (a *Aggregate) EmailVerified() bool {
	d, ok := a.Default(model.ContactKindEmail)
	return ok && d.IsVerified
}

// Add は連絡先を追加した集約を返す。UserIDは集約のユーザーで上書きする。
func (a *Aggregate) Add(rec model.ContactRecord, makeDefault bool) (*Aggregate, error) {
	rec.UserID = a.user.ID
	out, err := Add(a.records, rec, makeDefault)
	if err != nil {
		return nil, err
	}
	return &Aggregate{user: a.user, records: out}, nil
}

// Remove は連絡先を削除した集約を返す。
func (a *Aggregate) Remove(kind model.ContactKind, value string) (*Aggregate, error) {
	out, err := Remove(a.records, kind, value)
	if err != nil {
		return nil, err
	}
	return &Aggregate{user: a.user, records: out}, nil
}

// SetDefault はデフォルトを変更した集約を返す。
func (a *Aggregate) SetDefault(kind model.ContactKind, value string) (*Aggregate, error) {
	out, err := SetDefault(a.records, kind, value)
	if err != nil {
		return nil, err
	}
	return &Aggregate{user: a.user, records: out}, nil
}

// MarkVerified は連絡先を確認済みにした集約を返す。
func (a *Aggregate) MarkVerified(kind model.ContactKind, value string, at time.Time) (*Aggregate, error) {
	out, err := MarkVerified(a.records, kind, value, at)
	if err != nil {
		return nil, err
	}
	return &Aggregate{user: a.user, records: out}, nil
}

// Validate は集約の整合性を検査する。
func (a *Aggregate) Validate() Violations {
	return Validate(a.user.ID, a.records)
}

// Repair は修復した集約と修復した違反を返す。
func (a *Aggregate) Repair() (*Aggregate, Violations) {
	out, fixed := Repair(a.user.ID, a.records)
	return &Aggregate{user: a.user, records: out}, fixed
}
