package valueobject

import (
	"fmt"
	"strings"
)

// ErrInvalidPhone は電話番号の形式が不正な場合のエラー。
var ErrInvalidPhone = fmt.Errorf("%w: phone number", ErrInvalidValue)

// E.164の桁数範囲（国番号を含む）
const (
	minPhoneDigits = 8
	maxPhoneDigits = 15
)

// PhoneNumber はE.164形式に正規化された電話番号を表す値オブジェクト。
type PhoneNumber struct {
	e164 string
}

// ParsePhoneNumber は文字列をE.164形式に正規化してPhoneNumberを生成する。
// 空白・ハイフン・括弧・ドットは区切り文字として除去する。
// 先頭の "00" は国際プレフィックスとして "+" に置き換える。
func ParsePhoneNumber(s string) (PhoneNumber, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PhoneNumber{}, fmt.Errorf("%w: empty", ErrInvalidPhone)
	}

	stripped := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, s)

	if strings.HasPrefix(stripped, "00") {
		stripped = "+" + stripped[2:]
	}
	if !strings.HasPrefix(stripped, "+") {
		return PhoneNumber{}, fmt.Errorf("%w: country code is required (e.g. +81...): %q", ErrInvalidPhone, s)
	}

	digits := stripped[1:]
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return PhoneNumber{}, fmt.Errorf("%w: must have %d-%d digits: %q", ErrInvalidPhone, minPhoneDigits, maxPhoneDigits, s)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return PhoneNumber{}, fmt.Errorf("%w: unexpected character %q", ErrInvalidPhone, r)
		}
	}
	if digits[0] == '0' {
		return PhoneNumber{}, fmt.Errorf("%w: country code cannot start with 0: %q", ErrInvalidPhone, s)
	}

	return PhoneNumber{e164: stripped}, nil
}

// String はE.164形式の文字列を返す。
func (p PhoneNumber) String() string { return p.e164 }

// Equal は正規化後の値で比較する。
func (p PhoneNumber) Equal(other PhoneNumber) bool { return p.e164 == other.e164 }
