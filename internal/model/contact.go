package model

import "time"

// ContactKind は連絡先の種別を表す。
type ContactKind string

const (
	ContactKindEmail   ContactKind = "email"
	ContactKindPhone   ContactKind = "phone"
	ContactKindAddress ContactKind = "address"
)

// ContactKinds は全種別を定義順で返す。
func ContactKinds() []ContactKind {
	return []ContactKind{ContactKindEmail, ContactKindPhone, ContactKindAddress}
}

// Valid は既知の種別かを返す。
func (k ContactKind) Valid() bool {
	switch k {
	case ContactKindEmail, ContactKindPhone, ContactKindAddress:
		return true
	default:
		return false
	}
}

// ContactCategory は連絡先の分類タグを表す。
type ContactCategory string

const (
	CategoryPrimary ContactCategory = "primary"
	CategoryHome    ContactCategory = "home"
	CategoryWork    ContactCategory = "work"
	CategoryMobile  ContactCategory = "mobile"
	CategoryOther   ContactCategory = "other"
)

// Valid は既知の分類かを返す。
func (c ContactCategory) Valid() bool {
	switch c {
	case CategoryPrimary, CategoryHome, CategoryWork, CategoryMobile, CategoryOther:
		return true
	default:
		return false
	}
}

// ContactRecord はユーザーの連絡先1件（メール・電話・住所）を表す。
// Valueは値オブジェクトで正規化済みの文字列。
type ContactRecord struct {
	ID         string
	UserID     string
	Kind       ContactKind
	Value      string
	Category   ContactCategory
	IsDefault  bool
	IsVerified bool
	VerifiedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
