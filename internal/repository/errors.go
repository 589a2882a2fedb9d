package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/hitoshi/userbook/internal/contact"
)

var (
	// ErrUserNotFound は対象ユーザーが存在しない場合のエラー。
	ErrUserNotFound = errors.New("repository: user not found")
	// ErrSessionNotFound は削除対象のセッションが存在しない場合のエラー。
	ErrSessionNotFound = errors.New("repository: session not found")
	// ErrEmailTaken はメールアドレスが他ユーザーに登録済みの場合のエラー。
	ErrEmailTaken = errors.New("repository: email already registered")
	// ErrConflict はその他の一意制約違反。
	ErrConflict = errors.New("repository: unique constraint violation")
	// ErrInconsistent は変更後の集約が整合性を満たさない場合のエラー。
	ErrInconsistent = errors.New("repository: aggregate would be inconsistent")
)

// PostgreSQLのエラーコード
const pqUniqueViolation = "23505"

// メールアドレスの一意制約名（migrations/000004_create_contacts.up.sql）
const emailUniqueIndex = "idx_contacts_email_value"

// InconsistentError はコミットを拒否した違反を保持する。
type InconsistentError struct {
	Violations contact.Violations
}

func (e *InconsistentError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInconsistent, e.Violations.Err())
}

func (e *InconsistentError) Unwrap() error { return ErrInconsistent }

// mapPQError は一意制約違反をリポジトリのエラーに変換する。
func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return err
	}
	if pqErr.Constraint == emailUniqueIndex {
		return fmt.Errorf("%w: %v", ErrEmailTaken, err)
	}
	return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
}

// mapGormError はgormの一意制約違反をリポジトリのエラーに変換する。
// SQLiteでは制約名が取れないため、呼び出し側が対象を判断してconflictを渡す。
func mapGormError(err, conflict error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", conflict, err)
	}
	return err
}
