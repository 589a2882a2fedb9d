package valueobject

import (
	"fmt"
	"strings"

	"github.com/hitoshi/userbook/internal/model"
)

// Canonicalize は連絡先種別に応じた値オブジェクトで値を検証し、正規形を返す。
// 住所の場合、rawはPostalAddress.Canonicalの出力を想定する。
func Canonicalize(kind model.ContactKind, raw string) (string, error) {
	switch kind {
	case model.ContactKindEmail:
		e, err := ParseEmailAddress(raw)
		if err != nil {
			return "", err
		}
		return e.String(), nil
	case model.ContactKindPhone:
		p, err := ParsePhoneNumber(raw)
		if err != nil {
			return "", err
		}
		return p.String(), nil
	case model.ContactKindAddress:
		a, err := ParsePostalAddress(raw)
		if err != nil {
			return "", err
		}
		return a.Canonical(), nil
	default:
		return "", fmt.Errorf("%w: unknown contact kind %q", ErrInvalidValue, kind)
	}
}

// DedupKey は同一ユーザー内の重複判定に使うキーを返す。
// 正規化できない値はトリムと小文字化のみ行ったキーを返す。
func DedupKey(kind model.ContactKind, value string) string {
	canonical, err := Canonicalize(kind, value)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(value))
	}
	return strings.ToLower(canonical)
}

// Display は表示用の文字列を返す。住所は1行形式にする。
func Display(kind model.ContactKind, value string) string {
	if kind == model.ContactKindAddress {
		if a, err := ParsePostalAddress(value); err == nil {
			return a.String()
		}
	}
	return value
}
