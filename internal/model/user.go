// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"
)

// User はサービス利用ユーザーを表す。
// 連絡先（メール・電話・住所）は ContactRecord として別に保持し、
// contact.Aggregate でまとめて整合性を管理する。
type User struct {
	ID                  string
	Name                string
	Status              UserStatus
	Roles               []string
	PasswordHash        string // OAuthのみのアカウントは空
	FailedLoginAttempts int
	LockedUntil         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UserStatus はユーザーの状態を表す。
type UserStatus string

const (
	// UserStatusActive は利用可能な状態。
	UserStatusActive UserStatus = "active"
	// UserStatusDisabled は管理者により無効化された状態。
	UserStatusDisabled UserStatus = "disabled"
	// UserStatusLocked はログイン失敗の繰り返しによりロックされた状態。
	UserStatusLocked UserStatus = "locked"
)

// 定義済みロール
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// HasRole はユーザーが指定ロールを持つかを返す。
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// IsLocked は指定時刻においてアカウントがロック中かを返す。
// LockedUntilを過ぎたロックは解除済みとして扱う。
func (u *User) IsLocked(now time.Time) bool {
	if u.Status != UserStatusLocked {
		return false
	}
	if u.LockedUntil == nil {
		return true
	}
	return now.Before(*u.LockedUntil)
}

// Identity は外部IdPとの紐付け情報を表す。
// 将来的に複数のIdP（Google, GitHub等）に対応可能な構造。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はリフレッシュトークンに紐づくログインセッションを表す。
// トークン本体は保存せず、SHA-256ハッシュのみを保持する。
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}
