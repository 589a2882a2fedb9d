package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/model"
)

var userUpdateColumns = []string{
	"name", "status", "roles", "password_hash", "failed_login_attempts", "locked_until", "updated_at",
}

// GormUserRepo はgorm（組み込みSQLite）を使用したユーザーリポジトリ。
// ユーザーは論理削除し、関連データは物理削除する。
type GormUserRepo struct {
	db *gorm.DB
}

// NewGormUserRepo はGormUserRepoを生成する。
func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) first(tx *gorm.DB, query any, args ...any) (*model.User, error) {
	var row userRow
	err := tx.Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *GormUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := r.first(r.db.WithContext(ctx), "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *GormUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	tx := r.db.WithContext(ctx)
	sub := tx.Model(&contactRow{}).
		Select("user_id").
		Where("email_key = ?", strings.ToLower(strings.TrimSpace(email)))
	user, err := r.first(tx, "id IN (?)", sub)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// CreateWithIdentity はユーザー、identity、最初のメールアドレスを同一トランザクションで作成する。
func (r *GormUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity, email *model.ContactRecord) error {
	return r.create(ctx, user, identity, email)
}

// Create はユーザーと最初のメールアドレスを同一トランザクションで作成する。
func (r *GormUserRepo) Create(ctx context.Context, user *model.User, email *model.ContactRecord) error {
	return r.create(ctx, user, nil, email)
}

func (r *GormUserRepo) create(ctx context.Context, user *model.User, identity *model.Identity, email *model.ContactRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := userRowFrom(user)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}

		if identity != nil {
			idRow := identityRow{
				BaseModel:      BaseModel{ID: identity.ID, CreatedAt: identity.CreatedAt, UpdatedAt: identity.CreatedAt},
				UserID:         identity.UserID,
				Provider:       identity.Provider,
				ProviderUserID: identity.ProviderUserID,
			}
			if err := tx.Create(&idRow).Error; err != nil {
				return fmt.Errorf("failed to insert identity: %w", mapGormError(err, ErrConflict))
			}
		}

		if email != nil {
			c := contactRowFrom(*email)
			if err := tx.Create(&c).Error; err != nil {
				return fmt.Errorf("failed to insert contact: %w", mapGormError(err, ErrEmailTaken))
			}
		}
		return nil
	})
}

// Update はユーザー情報を更新する。
func (r *GormUserRepo) Update(ctx context.Context, user *model.User) error {
	row := userRowFrom(user)
	result := r.db.WithContext(ctx).
		Model(&userRow{BaseModel: BaseModel{ID: user.ID}}).
		Select(userUpdateColumns).
		Updates(&row)
	if result.Error != nil {
		return fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, user.ID)
	}
	return nil
}

// DeleteByID はユーザーを論理削除し、identities、sessions、contactsを物理削除する。
// 連絡先を物理削除するため、削除後は同じメールアドレスで再登録できる。
func (r *GormUserRepo) DeleteByID(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&contactRow{}, &sessionRow{}, &identityRow{}} {
			if err := tx.Unscoped().Where("user_id = ?", id).Delete(m).Error; err != nil {
				return fmt.Errorf("failed to delete user data: %w", err)
			}
		}
		result := tx.Where("id = ?", id).Delete(&userRow{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete user: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
		return nil
	})
}

// RecordLoginFailure はログイン失敗回数を加算し、上限到達でロックする。
func (r *GormUserRepo) RecordLoginFailure(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (*model.User, error) {
	var user *model.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := r.first(tx, "id = ?", id)
		if err != nil {
			return err
		}
		if found == nil {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}

		found.FailedLoginAttempts++
		if found.FailedLoginAttempts >= maxAttempts && found.Status != model.UserStatusDisabled {
			found.Status = model.UserStatusLocked
			until := lockUntil
			found.LockedUntil = &until
		}
		found.UpdatedAt = time.Now()

		row := userRowFrom(found)
		if err := tx.Model(&userRow{BaseModel: BaseModel{ID: id}}).Select(userUpdateColumns).Updates(&row).Error; err != nil {
			return err
		}
		user = found
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return user, nil
}

// ResetLoginFailures はログイン失敗回数を0にし、ロック状態を解除する。
func (r *GormUserRepo) ResetLoginFailures(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := r.first(tx, "id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to reset login failures: %w", err)
		}
		if found == nil {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}

		found.FailedLoginAttempts = 0
		found.LockedUntil = nil
		if found.Status == model.UserStatusLocked {
			found.Status = model.UserStatusActive
		}
		found.UpdatedAt = time.Now()

		row := userRowFrom(found)
		if err := tx.Model(&userRow{BaseModel: BaseModel{ID: id}}).Select(userUpdateColumns).Updates(&row).Error; err != nil {
			return fmt.Errorf("failed to reset login failures: %w", err)
		}
		return nil
	})
}

// ListIDs はafterより大きいユーザーIDを昇順でlimit件返す。
func (r *GormUserRepo) ListIDs(ctx context.Context, after string, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&userRow{}).
		Where("id > ?", after).
		Order("id").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list user IDs: %w", err)
	}
	return ids, nil
}

// GormIdentityRepo はgormを使用したidentityリポジトリ。
type GormIdentityRepo struct {
	db *gorm.DB
}

// NewGormIdentityRepo はGormIdentityRepoを生成する。
func NewGormIdentityRepo(db *gorm.DB) *GormIdentityRepo {
	return &GormIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
func (r *GormIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var row identityRow
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_user_id = ?", provider, providerUserID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	return &model.Identity{
		ID:             row.ID,
		UserID:         row.UserID,
		Provider:       row.Provider,
		ProviderUserID: row.ProviderUserID,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// GormSessionRepo はgormを使用したリフレッシュセッションリポジトリ。
// SQLiteは時刻を文字列で比較するため、有効期限はUTCに揃えて保存・比較する。
type GormSessionRepo struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormSessionRepo はGormSessionRepoを生成する。
func NewGormSessionRepo(db *gorm.DB) *GormSessionRepo {
	return &GormSessionRepo{db: db, now: time.Now}
}

// Create はセッションを作成する。
func (r *GormSessionRepo) Create(ctx context.Context, session *model.Session) error {
	row := sessionRow{
		BaseModel:        BaseModel{ID: session.ID, CreatedAt: session.CreatedAt, UpdatedAt: session.CreatedAt},
		UserID:           session.UserID,
		RefreshTokenHash: session.RefreshTokenHash,
		ExpiresAt:        session.ExpiresAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", mapGormError(err, ErrConflict))
	}
	session.ID = row.ID
	return nil
}

// FindByTokenHash はリフレッシュトークンのハッシュでセッションを取得する。期限切れの場合はnilを返す。
func (r *GormSessionRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.Session, error) {
	return r.findOne(ctx, "refresh_token_hash = ? AND expires_at > ?", tokenHash, r.now().UTC())
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *GormSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return r.findOne(ctx, "id = ? AND expires_at > ?", id, r.now().UTC())
}

func (r *GormSessionRepo) findOne(ctx context.Context, query string, args ...any) (*model.Session, error) {
	var row sessionRow
	err := r.db.WithContext(ctx).Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return row.toModel(), nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *GormSessionRepo) DeleteByID(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&sessionRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *GormSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("user_id = ?", userID).Delete(&sessionRow{}).Error; err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired はbefore時点で期限切れのセッションを削除する。
func (r *GormSessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().Where("expires_at <= ?", before.UTC()).Delete(&sessionRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GormContactRepo はgormを使用した連絡先リポジトリ。
// 接続を1本に制限したSQLiteでは、トランザクション自体がユーザー単位のロックとして働く。
type GormContactRepo struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormContactRepo はGormContactRepoを生成する。
func NewGormContactRepo(db *gorm.DB) *GormContactRepo {
	return &GormContactRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ListByUserID はユーザーの全連絡先を作成順で返す。
func (r *GormContactRepo) ListByUserID(ctx context.Context, userID string) ([]model.ContactRecord, error) {
	return gormListContacts(r.db.WithContext(ctx), userID)
}

// Mutate はトランザクション内で連絡先を読み込み、fnを適用して検証後に差分を書き込む。
func (r *GormContactRepo) Mutate(ctx context.Context, userID string, fn ContactMutation) ([]model.ContactRecord, error) {
	var result []model.ContactRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner userRow
		err := tx.Select("id").Where("id = ?", userID).First(&owner).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}

		before, err := gormListContacts(tx, userID)
		if err != nil {
			return err
		}
		after, err := fn(before)
		if err != nil {
			return err
		}
		if vs := contact.Validate(userID, after).Blocking(); len(vs) > 0 {
			return &InconsistentError{Violations: vs}
		}

		plan := planContactWrites(before, after, r.now())
		result = plan.result

		for _, id := range plan.deletes {
			if err := tx.Unscoped().Where("id = ? AND user_id = ?", id, userID).Delete(&contactRow{}).Error; err != nil {
				return fmt.Errorf("failed to delete contact: %w", err)
			}
		}
		for _, group := range [][]model.ContactRecord{plan.demotes, plan.promotes} {
			for _, c := range group {
				row := contactRowFrom(c)
				err := tx.Model(&contactRow{BaseModel: BaseModel{ID: c.ID}}).
					Select("category", "is_default", "is_verified", "verified_at", "updated_at").
					Updates(&row).Error
				if err != nil {
					return fmt.Errorf("failed to update contact: %w", err)
				}
			}
		}
		for _, c := range plan.inserts {
			row := contactRowFrom(c)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert contact: %w", mapGormError(err, ErrEmailTaken))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func gormListContacts(tx *gorm.DB, userID string) ([]model.ContactRecord, error) {
	var rows []contactRow
	if err := tx.Where("user_id = ?", userID).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	records := make([]model.ContactRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toModel())
	}
	// SQLiteは時刻を末尾の0を省いた文字列で保存するため、文字列順が時刻順と一致しない
	slices.SortStableFunc(records, func(a, b model.ContactRecord) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return records, nil
}

// compile-time interface check
var (
	_ UserRepository     = (*GormUserRepo)(nil)
	_ IdentityRepository = (*GormIdentityRepo)(nil)
	_ SessionRepository  = (*GormSessionRepo)(nil)
	_ ContactRepository  = (*GormContactRepo)(nil)
)
