package repository

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hitoshi/userbook/internal/model"
)

// BaseModel は全てのORMモデルが埋め込む共通フィールド。
// IDは作成時に未設定ならUUIDを採番する。DeletedAtによる論理削除に対応する。
type BaseModel struct {
	ID        string         `gorm:"type:varchar(36);primaryKey"`
	CreatedAt time.Time      `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// BeforeCreate はIDが空の場合にUUIDを採番する。
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

type userRow struct {
	BaseModel
	Name                string     `gorm:"size:255;not null;default:''"`
	Status              string     `gorm:"size:16;not null;default:active"`
	Roles               []string   `gorm:"serializer:json"`
	PasswordHash        string     `gorm:"size:255;not null;default:''"`
	FailedLoginAttempts int        `gorm:"not null;default:0"`
	LockedUntil         *time.Time
}

func (userRow) TableName() string { return "users" }

type identityRow struct {
	BaseModel
	UserID         string `gorm:"type:varchar(36);not null;index"`
	Provider       string `gorm:"size:32;not null;uniqueIndex:idx_identities_provider_user"`
	ProviderUserID string `gorm:"size:255;not null;uniqueIndex:idx_identities_provider_user"`
}

func (identityRow) TableName() string { return "identities" }

type sessionRow struct {
	BaseModel
	UserID           string    `gorm:"type:varchar(36);not null;index"`
	RefreshTokenHash string    `gorm:"size:64;not null;uniqueIndex"`
	ExpiresAt        time.Time `gorm:"not null;index"`
}

func (sessionRow) TableName() string { return "sessions" }

// contactRow は連絡先の行。
// SQLiteでは部分インデックスと式インデックスをAutoMigrateで作れないため、
// 重複判定用のValueKeyとメール専用のEmailKey（メール以外はNULL）を別カラムに持つ。
type contactRow struct {
	BaseModel
	UserID     string  `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_contacts_user_kind_value"`
	Kind       string  `gorm:"size:16;not null;uniqueIndex:idx_contacts_user_kind_value"`
	Value      string  `gorm:"not null"`
	ValueKey   string  `gorm:"not null;uniqueIndex:idx_contacts_user_kind_value"`
	EmailKey   *string `gorm:"uniqueIndex"`
	Category   string  `gorm:"size:16;not null;default:other"`
	IsDefault  bool    `gorm:"not null;default:false"`
	IsVerified bool    `gorm:"not null;default:false"`
	VerifiedAt *time.Time
}

func (contactRow) TableName() string { return "contacts" }

// gormModels はAutoMigrateの対象。
func gormModels() []any {
	return []any{&userRow{}, &identityRow{}, &sessionRow{}, &contactRow{}}
}

// AutoMigrateGorm は組み込みSQLite用のテーブルを作成・更新する。
func AutoMigrateGorm(db *gorm.DB) error {
	return db.AutoMigrate(gormModels()...)
}

func userRowFrom(u *model.User) userRow {
	return userRow{
		BaseModel:           BaseModel{ID: u.ID, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt},
		Name:                u.Name,
		Status:              string(u.Status),
		Roles:               u.Roles,
		PasswordHash:        u.PasswordHash,
		FailedLoginAttempts: u.FailedLoginAttempts,
		LockedUntil:         u.LockedUntil,
	}
}

func (r userRow) toModel() *model.User {
	return &model.User{
		ID:                  r.ID,
		Name:                r.Name,
		Status:              model.UserStatus(r.Status),
		Roles:               r.Roles,
		PasswordHash:        r.PasswordHash,
		FailedLoginAttempts: r.FailedLoginAttempts,
		LockedUntil:         r.LockedUntil,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

func (r sessionRow) toModel() *model.Session {
	return &model.Session{
		ID:               r.ID,
		UserID:           r.UserID,
		RefreshTokenHash: r.RefreshTokenHash,
		ExpiresAt:        r.ExpiresAt,
		CreatedAt:        r.CreatedAt,
	}
}

func contactRowFrom(c model.ContactRecord) contactRow {
	row := contactRow{
		BaseModel:  BaseModel{ID: c.ID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt},
		UserID:     c.UserID,
		Kind:       string(c.Kind),
		Value:      c.Value,
		ValueKey:   strings.ToLower(c.Value),
		Category:   string(c.Category),
		IsDefault:  c.IsDefault,
		IsVerified: c.IsVerified,
		VerifiedAt: c.VerifiedAt,
	}
	if c.Kind == model.ContactKindEmail {
		key := row.ValueKey
		row.EmailKey = &key
	}
	return row
}

func (r contactRow) toModel() model.ContactRecord {
	return model.ContactRecord{
		ID:         r.ID,
		UserID:     r.UserID,
		Kind:       model.ContactKind(r.Kind),
		Value:      r.Value,
		Category:   model.ContactCategory(r.Category),
		IsDefault:  r.IsDefault,
		IsVerified: r.IsVerified,
		VerifiedAt: r.VerifiedAt,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
