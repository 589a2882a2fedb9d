// Package auth はOAuth認証フロー、パスワードログイン、トークン発行を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/metrics"
	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/repository"
	"github.com/hitoshi/userbook/internal/security"
	"github.com/hitoshi/userbook/internal/valueobject"
)

var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが誤っている場合のエラー。
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked はアカウントがロックまたは無効化されている場合のエラー。
	ErrAccountLocked = errors.New("auth: account locked")
)

// ログイン方式（メトリクスのラベル）
const (
	methodPassword = "password"
	methodOAuth    = "oauth"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	EmailVerified  bool
	Name           string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
// 将来的に複数IdP（Google, GitHub等）に対応するための抽象化。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	RefreshTokenTTL  time.Duration
	LoginMaxAttempts int
	LoginLockout     time.Duration
}

// TokenPair はログイン成功時に発行するアクセストークンとリフレッシュトークン。
type TokenPair struct {
	UserID           string
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	tokens      *TokenIssuer
	hasher      PasswordHasher
	sanitizer   security.TextSanitizer
	metrics     metrics.MetricsCollector
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	tokens *TokenIssuer,
	hasher PasswordHasher,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		tokens:      tokens,
		hasher:      hasher,
		sanitizer:   sanitizer,
		metrics:     mc,
		config:      config,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、トークンを発行する。
// 未登録ユーザーの場合はusers、identities、最初のメールアドレスを同時に作成する。
// 作成したメールアドレスはデフォルトかつprimaryで、IdPが確認済みとした場合は確認済みにする。
func (s *Service) HandleCallback(ctx context.Context, code string) (*TokenPair, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordLoginAttempt(methodOAuth, metrics.ResultFailure)
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. identitiesテーブルで既存ユーザーを検索
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, userInfo.Provider, userInfo.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	var user *model.User
	if identity != nil {
		// 3a. 既存ユーザー
		user, err = s.userRepo.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, repository.ErrUserNotFound
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.String("provider", userInfo.Provider),
		)
	} else {
		// 3b. 新規ユーザー
		user, err = s.createOAuthUser(ctx, userInfo)
		if err != nil {
			s.metrics.RecordLoginAttempt(methodOAuth, metrics.ResultFailure)
			return nil, err
		}
	}

	// IdPで本人確認済みのため、パスワード失敗によるロックでは拒否しない
	if user.Status == model.UserStatusDisabled {
		s.metrics.RecordLoginAttempt(methodOAuth, metrics.ResultLocked)
		return nil, ErrAccountLocked
	}

	// 4. トークンを発行
	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLoginAttempt(methodOAuth, metrics.ResultSuccess)
	return pair, nil
}

func (s *Service) createOAuthUser(ctx context.Context, info *OAuthUserInfo) (*model.User, error) {
	now := s.now()
	user := &model.User{
		ID:        uuid.New().String(),
		Name:      s.sanitizer.Sanitize(info.Name),
		Status:    model.UserStatusActive,
		Roles:     []string{model.RoleUser},
		CreatedAt: now,
		UpdatedAt: now,
	}

	email, err := firstEmail(user.ID, info.Email, now)
	if err != nil {
		return nil, err
	}
	if info.EmailVerified {
		email.IsVerified = true
		email.VerifiedAt = &now
	}

	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, user, newIdentity, email); err != nil {
		return nil, fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("provider", info.Provider),
		slog.Bool("email_verified", info.EmailVerified),
	)
	return user, nil
}

// Register はメールアドレスとパスワードでユーザーを登録し、トークンを発行する。
// 登録したメールアドレスは未確認のデフォルト（primary）になる。
func (s *Service) Register(ctx context.Context, emailAddr, password, name string) (*TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         s.sanitizer.Sanitize(name),
		Status:       model.UserStatusActive,
		Roles:        []string{model.RoleUser},
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	email, err := firstEmail(user.ID, emailAddr, now)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.Create(ctx, user, email); err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return s.issueTokens(ctx, user)
}

// Login はメールアドレスとパスワードで認証し、トークンを発行する。
// 失敗がLoginMaxAttemptsに達するとLoginLockoutの間ロックする。
func (s *Service) Login(ctx context.Context, emailAddr, password string) (*TokenPair, error) {
	addr, err := valueobject.ParseEmailAddress(emailAddr)
	if err != nil {
		s.metrics.RecordLoginAttempt(methodPassword, metrics.ResultFailure)
		return nil, ErrInvalidCredentials
	}

	user, err := s.userRepo.FindByEmail(ctx, addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordLoginAttempt(methodPassword, metrics.ResultFailure)
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if user.Status == model.UserStatusDisabled || user.IsLocked(now) {
		s.metrics.RecordLoginAttempt(methodPassword, metrics.ResultLocked)
		return nil, ErrAccountLocked
	}
	if user.Status == model.UserStatusLocked {
		// ロック期限切れ。カウンタを戻してから照合する
		if err := s.userRepo.ResetLoginFailures(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("failed to reset expired lock: %w", err)
		}
		user.Status = model.UserStatusActive
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
	}

	if user.PasswordHash == "" || s.hasher.Compare(user.PasswordHash, password) != nil {
		return nil, s.recordFailure(ctx, user.ID, now)
	}

	if user.FailedLoginAttempts > 0 {
		if err := s.userRepo.ResetLoginFailures(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("failed to reset login failures: %w", err)
		}
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordLoginAttempt(methodPassword, metrics.ResultSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID), slog.String("method", methodPassword))
	return pair, nil
}

func (s *Service) recordFailure(ctx context.Context, userID string, now time.Time) error {
	updated, err := s.userRepo.RecordLoginFailure(ctx, userID, s.config.LoginMaxAttempts, now.Add(s.config.LoginLockout))
	if err != nil {
		return fmt.Errorf("failed to record login failure: %w", err)
	}
	if updated.Status == model.UserStatusLocked {
		s.metrics.RecordLoginAttempt(methodPassword, metrics.ResultLocked)
		slog.Warn("account locked after repeated login failures",
			slog.String("user_id", userID),
			slog.Int("attempts", updated.FailedLoginAttempts),
		)
		return ErrAccountLocked
	}
	s.metrics.RecordLoginAttempt(methodPassword, metrics.ResultFailure)
	return ErrInvalidCredentials
}

// Refresh はリフレッシュトークンをローテーションし、新しいトークンを発行する。
// 使用済みのセッションは削除され、同じトークンは二度と使えない。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		s.metrics.RecordTokenRefresh(metrics.ResultFailure)
		return nil, ErrInvalidToken
	}

	session, err := s.sessionRepo.FindByTokenHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		s.metrics.RecordTokenRefresh(metrics.ResultFailure)
		return nil, ErrInvalidToken
	}

	if err := s.sessionRepo.DeleteByID(ctx, session.ID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// 並行したリフレッシュが先にローテーションした
			s.metrics.RecordTokenRefresh(metrics.ResultFailure)
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.metrics.RecordTokenRefresh(metrics.ResultFailure)
		return nil, ErrInvalidToken
	}
	if user.Status == model.UserStatusDisabled {
		s.metrics.RecordTokenRefresh(metrics.ResultLocked)
		return nil, ErrAccountLocked
	}

	pair, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordTokenRefresh(metrics.ResultSuccess)
	return pair, nil
}

// Logout はセッションを破棄する。sessionIDが空の場合はリフレッシュトークンからセッションを特定する。
// 既に破棄済みのセッションはエラーにしない。
func (s *Service) Logout(ctx context.Context, sessionID, refreshToken string) error {
	if sessionID == "" && refreshToken != "" {
		session, err := s.sessionRepo.FindByTokenHash(ctx, HashRefreshToken(refreshToken))
		if err != nil {
			return fmt.Errorf("failed to find session: %w", err)
		}
		if session != nil {
			sessionID = session.ID
		}
	}
	if sessionID == "" {
		return nil
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// Authenticate はアクセストークンを検証してクレームを返す。
func (s *Service) Authenticate(accessToken string) (*AccessClaims, error) {
	return s.tokens.ValidateAccess(accessToken)
}

// GetCurrentUser はユーザーIDから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

// issueTokens はリフレッシュセッションを作成し、アクセストークンと合わせて返す。
func (s *Service) issueTokens(ctx context.Context, user *model.User) (*TokenPair, error) {
	refreshToken, hash, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &model.Session{
		ID:               uuid.New().String(),
		UserID:           user.ID,
		RefreshTokenHash: hash,
		ExpiresAt:        now.Add(s.config.RefreshTokenTTL),
		CreatedAt:        now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	accessToken, accessExp, err := s.tokens.IssueAccess(user.ID, session.ID, user.Roles)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		UserID:           user.ID,
		SessionID:        session.ID,
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: session.ExpiresAt,
	}, nil
}

// firstEmail は新規ユーザーの最初のメールアドレスを組み立てる。
// 集約のルールにより、デフォルトかつprimaryになる。
func firstEmail(userID, raw string, now time.Time) (*model.ContactRecord, error) {
	records, err := contact.Add(nil, model.ContactRecord{
		UserID:   userID,
		Kind:     model.ContactKindEmail,
		Value:    strings.TrimSpace(raw),
		Category: model.CategoryPrimary,
	}, true)
	if err != nil {
		return nil, err
	}
	email := records[0]
	email.ID = uuid.New().String()
	email.CreatedAt = now
	email.UpdatedAt = now
	return &email, nil
}

// compile-time interface check
var _ PasswordHasher = (*Hasher)(nil)
