package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/model"
)

const contactColumns = `id, user_id, kind, value, category, is_default, is_verified, verified_at, created_at, updated_at`

// PostgresContactRepo はPostgreSQLを使用した連絡先リポジトリ。
type PostgresContactRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresContactRepo はPostgresContactRepoを生成する。
func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db, now: time.Now}
}

// ListByUserID はユーザーの全連絡先を作成順で返す。
func (r *PostgresContactRepo) ListByUserID(ctx context.Context, userID string) ([]model.ContactRecord, error) {
	return listContacts(ctx, r.db, userID)
}

// Mutate はユーザー行をFOR UPDATEでロックしたトランザクション内で連絡先を変更する。
// 同一ユーザーへの並行した変更は種別に関わらず直列化される。
func (r *PostgresContactRepo) Mutate(ctx context.Context, userID string, fn ContactMutation) ([]model.ContactRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	before, err := listContacts(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	after, err := fn(before)
	if err != nil {
		return nil, err
	}
	if vs := contact.Validate(userID, after).Blocking(); len(vs) > 0 {
		return nil, &InconsistentError{Violations: vs}
	}

	plan := planContactWrites(before, after, r.now())
	if plan.empty() {
		return plan.result, nil
	}

	for _, id := range plan.deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
			return nil, fmt.Errorf("failed to delete contact: %w", err)
		}
	}
	for _, group := range [][]model.ContactRecord{plan.demotes, plan.promotes} {
		for _, c := range group {
			if err := updateContact(ctx, tx, c); err != nil {
				return nil, err
			}
		}
	}
	for _, c := range plan.inserts {
		if err := insertContact(ctx, tx, c); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return plan.result, nil
}

func listContacts(ctx context.Context, q queryer, userID string) ([]model.ContactRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+contactColumns+`
		 FROM contacts
		 WHERE user_id = $1
		 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	records := make([]model.ContactRecord, 0)
	for rows.Next() {
		var (
			c          model.ContactRecord
			kind       string
			category   string
			verifiedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.UserID, &kind, &c.Value, &category,
			&c.IsDefault, &c.IsVerified, &verifiedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		c.Kind = model.ContactKind(kind)
		c.Category = model.ContactCategory(category)
		if verifiedAt.Valid {
			t := verifiedAt.Time
			c.VerifiedAt = &t
		}
		records = append(records, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return records, nil
}

func insertContact(ctx context.Context, q queryer, c model.ContactRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO contacts (`+contactColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.UserID, string(c.Kind), c.Value, string(c.Category),
		c.IsDefault, c.IsVerified, c.VerifiedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", mapPQError(err))
	}
	return nil
}

func updateContact(ctx context.Context, q queryer, c model.ContactRecord) error {
	_, err := q.ExecContext(ctx,
		`UPDATE contacts
		 SET category = $3, is_default = $4, is_verified = $5, verified_at = $6, updated_at = $7
		 WHERE id = $1 AND user_id = $2`,
		c.ID, c.UserID, string(c.Category), c.IsDefault, c.IsVerified, c.VerifiedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", mapPQError(err))
	}
	return nil
}

// compile-time interface check
var _ ContactRepository = (*PostgresContactRepo)(nil)
