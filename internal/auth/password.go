package auth

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// パスワードの長さ制限。bcryptは72バイトを超える入力を扱えない。
const (
	minPasswordLength = 8
	maxPasswordBytes  = 72
)

// ErrWeakPassword はパスワードが長さ要件を満たさない場合のエラー。
var ErrWeakPassword = errors.New("auth: password must be 8 to 72 bytes")

// Hasher はbcryptでパスワードをハッシュ化・照合する。
// 平文のパスワードをログや永続化層に渡してはならない。
type Hasher struct {
	cost int
}

// NewHasher は指定コストのHasherを生成する。範囲外のコストは丸める。
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	cost = max(bcrypt.MinCost, min(cost, bcrypt.MaxCost))
	return &Hasher{cost: cost}
}

// Hash はパスワードの長さを検証してbcryptハッシュを返す。
func (h *Hasher) Hash(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare はパスワードが保存済みハッシュと一致するかを定数時間で検証する。
// 一致しない場合はbcrypt.ErrMismatchedHashAndPasswordを返す。
func (h *Hasher) Compare(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// ValidatePassword はパスワードの長さ要件を検証する。
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength || len(password) > maxPasswordBytes {
		return ErrWeakPassword
	}
	return nil
}
