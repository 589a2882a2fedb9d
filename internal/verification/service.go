package verification

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/hitoshi/userbook/internal/metrics"
	"github.com/hitoshi/userbook/internal/model"
)

// 確認コードの桁数
const codeDigits = 6

var (
	// ErrCodeExpired はコードが未発行または期限切れの場合のエラー。
	ErrCodeExpired = errors.New("verification: code expired or not issued")
	// ErrCodeMismatch はコードが一致しない場合のエラー。
	ErrCodeMismatch = errors.New("verification: code mismatch")
	// ErrTooManyAttempts は照合の試行回数が上限に達した場合のエラー。
	ErrTooManyAttempts = errors.New("verification: too many attempts")
)

// ServiceConfig は確認コードの有効期間と試行回数上限。
type ServiceConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

// Service は確認コードの発行と照合を行う。
type Service struct {
	store    CodeStore
	notifier Notifier
	config   ServiceConfig
	metrics  metrics.MetricsCollector
	generate func() (string, error)
}

// NewService はServiceを生成する。
func NewService(store CodeStore, notifier Notifier, config ServiceConfig, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		config:   config,
		metrics:  mc,
		generate: generateCode,
	}
}

// Issue は連絡先に新しい確認コードを発行して通知する。
// 発行済みのコードは無効になる。
func (s *Service) Issue(ctx context.Context, rec model.ContactRecord) error {
	code, err := s.generate()
	if err != nil {
		return fmt.Errorf("failed to generate verification code: %w", err)
	}

	if err := s.store.Save(ctx, rec.ID, code, s.config.TTL); err != nil {
		return err
	}

	if err := s.notifier.Notify(ctx, rec, code); err != nil {
		_ = s.store.Delete(ctx, rec.ID)
		return fmt.Errorf("failed to deliver verification code: %w", err)
	}

	s.metrics.RecordVerificationCode("issued")
	slog.Info("verification code issued",
		slog.String("user_id", rec.UserID),
		slog.String("contact_id", rec.ID),
		slog.Duration("ttl", s.config.TTL),
	)
	return nil
}

// Confirm はコードを照合する。一致した場合はエントリを削除してnilを返す。
// 試行回数はIncrementAttemptsの戻り値で判定し、上限を超えた照合は行わない。
// 不一致が上限回数に達したエントリは削除され、再発行が必要になる。
func (s *Service) Confirm(ctx context.Context, contactID, code string) error {
	entry, err := s.store.Load(ctx, contactID)
	if err != nil {
		return err
	}
	if entry == nil {
		s.metrics.RecordVerificationCode(metrics.ResultExpired)
		return ErrCodeExpired
	}

	attempts, err := s.store.IncrementAttempts(ctx, contactID)
	if err != nil {
		return err
	}
	if attempts == 0 {
		// LoadからIncrementAttemptsまでの間に期限切れか削除
		s.metrics.RecordVerificationCode(metrics.ResultExpired)
		return ErrCodeExpired
	}
	if attempts > s.config.MaxAttempts {
		_ = s.store.Delete(ctx, contactID)
		s.metrics.RecordVerificationCode(metrics.ResultLocked)
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(entry.Code), []byte(code)) != 1 {
		if attempts >= s.config.MaxAttempts {
			_ = s.store.Delete(ctx, contactID)
		}
		s.metrics.RecordVerificationCode(metrics.ResultFailure)
		slog.Warn("verification code mismatch",
			slog.String("contact_id", contactID),
			slog.Int("attempts", attempts),
		)
		return ErrCodeMismatch
	}

	if err := s.store.Delete(ctx, contactID); err != nil {
		return err
	}
	s.metrics.RecordVerificationCode(metrics.ResultSuccess)
	return nil
}

// generateCode は暗号論的乱数で0埋めの6桁コードを生成する。
func generateCode() (string, error) {
	limit := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
