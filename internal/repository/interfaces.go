// Package repository はデータ永続化のインターフェースを定義する。
// PostgreSQL（database/sql + lib/pq）と、開発用の組み込みSQLite（gorm）の2実装を持つ。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/userbook/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザー、identity、最初のメールアドレスを同一トランザクションで作成する。
	// メールアドレスが他ユーザーに登録済みの場合はErrEmailTakenを返す。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, email *model.ContactRecord) error

	// Create はパスワード登録のユーザーと最初のメールアドレスを同一トランザクションで作成する。
	Create(ctx context.Context, user *model.User, email *model.ContactRecord) error

	// Update は名前、状態、ロール、パスワードハッシュ、ログイン失敗情報を更新する。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、contactsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error

	// RecordLoginFailure はログイン失敗回数を1増やし、maxAttemptsに達した場合は
	// lockUntilまでロックする。更新後のユーザーを返す。
	RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*model.User, error)

	// ResetLoginFailures はログイン失敗回数とロックを解除する。
	ResetLoginFailures(ctx context.Context, id string) error

	// ListIDs はafterより大きいユーザーIDを昇順でlimit件返す。afterが空の場合は先頭から。
	ListIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はリフレッシュセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByTokenHash はリフレッシュトークンのハッシュでセッションを取得する。期限切れの場合はnilを返す。
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error)
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。存在しない場合はErrSessionNotFoundを返す。
	// リフレッシュトークンのローテーションで同じセッションを二重に使わせないために使う。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ContactMutation は連絡先一覧を受け取り、変更後の一覧を返す純粋関数。
type ContactMutation func(records []model.ContactRecord) ([]model.ContactRecord, error)

// ContactRepository は連絡先の永続化インターフェース。
type ContactRepository interface {
	// ListByUserID はユーザーの全連絡先を作成順で返す。
	ListByUserID(ctx context.Context, userID string) ([]model.ContactRecord, error)

	// Mutate はユーザー単位でロックしたトランザクション内で全種別の連絡先を読み込み、
	// fnを適用して整合性を検証した上で差分を書き込む。
	// 永続化を拒否すべき違反が残る場合はInconsistentErrorを返しコミットしない。
	// ユーザーが存在しない場合はErrUserNotFoundを返す。
	Mutate(ctx context.Context, userID string, fn ContactMutation) ([]model.ContactRecord, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// queryer は*sql.DBと*sql.Txの共通部分。
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
