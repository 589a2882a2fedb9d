// Package valueobject は連絡先の値オブジェクトを提供する。
//
// 値オブジェクトは識別子を持たず、属性の値のみで等価性が決まる不変の型である。
// 生成は必ず検証付きのコンストラクタ（Parse*/New*）を経由し、
// 不正な値を持つインスタンスは存在しない。
package valueobject

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mcnijman/go-emailaddress"
)

// ErrInvalidValue は値オブジェクトの検証エラーの基底。
var ErrInvalidValue = errors.New("invalid value")

// ErrInvalidEmail はメールアドレスの形式が不正な場合のエラー。
var ErrInvalidEmail = fmt.Errorf("%w: email address", ErrInvalidValue)

// maxEmailLength はRFC 5321のパス長上限。
const maxEmailLength = 254

// EmailAddress は検証済みのメールアドレスを表す値オブジェクト。
// ドメイン部は小文字に正規化し、ローカル部は入力のまま保持する。
type EmailAddress struct {
	local  string
	domain string
}

// ParseEmailAddress は文字列を検証してEmailAddressを生成する。
func ParseEmailAddress(s string) (EmailAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EmailAddress{}, fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	if len(s) > maxEmailLength {
		return EmailAddress{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidEmail, maxEmailLength)
	}

	parsed, err := emailaddress.Parse(s)
	if err != nil {
		return EmailAddress{}, fmt.Errorf("%w: %q", ErrInvalidEmail, s)
	}

	return EmailAddress{
		local:  parsed.LocalPart,
		domain: strings.ToLower(parsed.Domain),
	}, nil
}

// LocalPart は@より前の部分を返す。
func (e EmailAddress) LocalPart() string { return e.local }

// Domain は小文字化済みのドメイン部を返す。
func (e EmailAddress) Domain() string { return e.domain }

// String は正規化済みのアドレスを返す。
func (e EmailAddress) String() string {
	if e.local == "" && e.domain == "" {
		return ""
	}
	return e.local + "@" + e.domain
}

// Key は重複判定用のキーを返す。大文字小文字を区別しない。
func (e EmailAddress) Key() string {
	return strings.ToLower(e.String())
}

// Equal は大文字小文字を区別せずに比較する。
func (e EmailAddress) Equal(other EmailAddress) bool {
	return e.Key() == other.Key()
}
