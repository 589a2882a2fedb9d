package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/userbook/internal/model"
)

const userColumns = `u.id, u.name, u.status, u.roles, u.password_hash, u.failed_login_attempts, u.locked_until, u.created_at, u.updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var (
		status      string
		lockedUntil sql.NullTime
	)
	err := row.Scan(
		&user.ID, &user.Name, &status, pq.Array(&user.Roles), &user.PasswordHash,
		&user.FailedLoginAttempts, &lockedUntil, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Status = model.UserStatus(status)
	if lockedUntil.Valid {
		t := lockedUntil.Time
		user.LockedUntil = &t
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users u WHERE u.id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`
		 FROM users u
		 JOIN contacts c ON c.user_id = u.id
		 WHERE c.kind = 'email' AND lower(c.value) = lower($1)`,
		email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateWithIdentity はユーザー、identity、最初のメールアドレスを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, email *model.ContactRecord) error {
	return r.create(ctx, user, identity, email)
}

// Create はユーザーと最初のメールアドレスを同一トランザクションで作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User, email *model.ContactRecord) error {
	return r.create(ctx, user, nil, email)
}

func (r *PostgresUserRepo) create(ctx context.Context, user *model.User, identity *model.Identity, email *model.ContactRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, name, status, roles, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Name, string(user.Status), pq.Array(user.Roles), user.PasswordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// identityを作成
	if identity != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert identity: %w", mapPQError(err))
		}
	}

	if email != nil {
		if err := insertContact(ctx, tx, *email); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Update はユーザー情報を更新する。
func (r *PostgresUserRepo) Update(ctx context.Context, user *model.User) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET name = $2, status = $3, roles = $4, password_hash = $5,
		     failed_login_attempts = $6, locked_until = $7, updated_at = $8
		 WHERE id = $1`,
		user.ID, user.Name, string(user.Status), pq.Array(user.Roles), user.PasswordHash,
		user.FailedLoginAttempts, user.LockedUntil, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRow(result, user.ID)
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するidentities、sessions、contactsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return requireRow(result, id)
}

// RecordLoginFailure はログイン失敗回数を原子的に加算し、上限到達でロックする。
func (r *PostgresUserRepo) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users u
		 SET failed_login_attempts = u.failed_login_attempts + 1,
		     status = CASE WHEN u.failed_login_attempts + 1 >= $2 AND u.status <> 'disabled' THEN 'locked' ELSE u.status END,
		     locked_until = CASE WHEN u.failed_login_attempts + 1 >= $2 AND u.status <> 'disabled' THEN $3 ELSE u.locked_until END,
		     updated_at = now()
		 WHERE u.id = $1
		 RETURNING `+userColumns,
		id, maxAttempts, lockUntil,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return user, nil
}

// ResetLoginFailures はログイン失敗回数を0にし、ロック状態を解除する。
// 管理者による無効化（disabled）は解除しない。
func (r *PostgresUserRepo) ResetLoginFailures(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET failed_login_attempts = 0,
		     status = CASE WHEN status = 'locked' THEN 'active' ELSE status END,
		     locked_until = NULL,
		     updated_at = now()
		 WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	return requireRow(result, id)
}

// ListIDs はafterより大きいユーザーIDを昇順でlimit件返す。
func (r *PostgresUserRepo) ListIDs(ctx context.Context, after string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id::text FROM users WHERE id::text > $1 ORDER BY id::text LIMIT $2`,
		after, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list user IDs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user ID: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user IDs: %w", err)
	}
	return ids, nil
}

func requireRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
