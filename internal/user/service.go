// Package user はユーザー管理と連絡先集約のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/userbook/internal/auth"
	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/metrics"
	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/repository"
	"github.com/hitoshi/userbook/internal/security"
	"github.com/hitoshi/userbook/internal/valueobject"
	"github.com/hitoshi/userbook/internal/verification"
)

// 連絡先操作名（メトリクスのラベル）
const (
	opAdd        = "add"
	opRemove     = "remove"
	opSetDefault = "set_default"
	opVerify     = "verify"
	opRepair     = "repair"
)

// maxNameLength は表示名の最大文字数。
const maxNameLength = 100

// Verifier は確認コードの発行と照合のインターフェース。
type Verifier interface {
	Issue(ctx context.Context, rec model.ContactRecord) error
	Confirm(ctx context.Context, contactID, code string) error
}

// AddContactInput は連絡先追加の入力。
// 住所の場合はAddressを使い、Valueは無視する。
type AddContactInput struct {
	Kind        model.ContactKind
	Value       string
	Address     *valueobject.AddressFields
	Category    model.ContactCategory
	MakeDefault bool
}

// Service はユーザー管理のサービス層。
// 連絡先の変更はすべてContactRepository.Mutateを経由し、ユーザー単位で直列化される。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	contactRepo repository.ContactRepository
	verifier    Verifier
	hasher      auth.PasswordHasher
	sanitizer   security.TextSanitizer
	metrics     metrics.MetricsCollector
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	contactRepo repository.ContactRepository,
	verifier Verifier,
	hasher auth.PasswordHasher,
	sanitizer security.TextSanitizer,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		contactRepo: contactRepo,
		verifier:    verifier,
		hasher:      hasher,
		sanitizer:   sanitizer,
		metrics:     mc,
		now:         time.Now,
	}
}

// GetAggregate はユーザーと全連絡先の集約を返す。
func (s *Service) GetAggregate(ctx context.Context, userID string) (*contact.Aggregate, error) {
	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	records, err := s.contactRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contact.NewAggregate(*user, records), nil
}

// AddContact は連絡先を追加し、追加後のレコードを返す。
func (s *Service) AddContact(ctx context.Context, userID string, in AddContactInput) (*model.ContactRecord, error) {
	value, err := s.contactValue(in)
	if err != nil {
		s.metrics.RecordContactOperation(opAdd, string(in.Kind), metrics.ResultFailure)
		return nil, toAPIError(err)
	}

	rec := model.ContactRecord{
		UserID:   userID,
		Kind:     in.Kind,
		Value:    value,
		Category: in.Category,
	}
	records, err := s.mutate(ctx, userID, opAdd, in.Kind, func(records []model.ContactRecord) ([]model.ContactRecord, error) {
		return contact.Add(records, rec, in.MakeDefault)
	})
	if err != nil {
		return nil, err
	}

	added, ok := contact.Find(records, in.Kind, value)
	if !ok {
		return nil, fmt.Errorf("added contact is missing from the result")
	}
	slog.Info("contact added",
		slog.String("user_id", userID),
		slog.String("contact_id", added.ID),
		slog.String("kind", string(added.Kind)),
		slog.Bool("is_default", added.IsDefault),
	)
	return &added, nil
}

// contactValue は入力から値オブジェクトに渡す文字列を組み立てる。
// 住所の自由記述欄はサニタイズしてから検証する。
func (s *Service) contactValue(in AddContactInput) (string, error) {
	if !in.Kind.Valid() {
		return "", fmt.Errorf("%w: %q", contact.ErrInvalidKind, in.Kind)
	}
	if in.Kind != model.ContactKindAddress {
		return in.Value, nil
	}
	if in.Address == nil {
		return "", fmt.Errorf("%w: address fields are required", valueobject.ErrInvalidAddress)
	}

	f := *in.Address
	f.Line1 = s.sanitizer.Sanitize(f.Line1)
	f.Line2 = s.sanitizer.Sanitize(f.Line2)
	f.City = s.sanitizer.Sanitize(f.City)
	f.Region = s.sanitizer.Sanitize(f.Region)
	f.PostalCode = s.sanitizer.Sanitize(f.PostalCode)
	addr, err := valueobject.NewPostalAddress(f)
	if err != nil {
		return "", err
	}
	return addr.Canonical(), nil
}

// RemoveContact は連絡先を削除する。デフォルトを削除した場合は同種別から新しいデフォルトが選ばれる。
func (s *Service) RemoveContact(ctx context.Context, userID, contactID string) error {
	var kind model.ContactKind
	_, err := s.mutate(ctx, userID, opRemove, "", func(records []model.ContactRecord) ([]model.ContactRecord, error) {
		target, err := findByID(records, contactID)
		if err != nil {
			return nil, err
		}
		kind = target.Kind
		return contact.Remove(records, target.Kind, target.Value)
	})
	if err != nil {
		return err
	}

	slog.Info("contact removed",
		slog.String("user_id", userID),
		slog.String("contact_id", contactID),
		slog.String("kind", string(kind)),
	)
	return nil
}

// SetDefaultContact は連絡先をその種別のデフォルトにし、変更後のレコードを返す。
func (s *Service) SetDefaultContact(ctx context.Context, userID, contactID string) (*model.ContactRecord, error) {
	records, err := s.mutate(ctx, userID, opSetDefault, "", func(records []model.ContactRecord) ([]model.ContactRecord, error) {
		target, err := findByID(records, contactID)
		if err != nil {
			return nil, err
		}
		return contact.SetDefault(records, target.Kind, target.Value)
	})
	if err != nil {
		return nil, err
	}

	updated, err := findByID(records, contactID)
	if err != nil {
		return nil, toAPIError(err)
	}
	return &updated, nil
}

// RequestVerification は連絡先に確認コードを発行する。確認済みの連絡先には発行しない。
func (s *Service) RequestVerification(ctx context.Context, userID, contactID string) error {
	rec, err := s.ownedContact(ctx, userID, contactID)
	if err != nil {
		return err
	}
	if rec.IsVerified {
		return model.NewVerificationFailedError("この連絡先は確認済みです")
	}
	return s.verifier.Issue(ctx, rec)
}

// ConfirmVerification はコードを照合し、一致した場合に連絡先を確認済みにする。
func (s *Service) ConfirmVerification(ctx context.Context, userID, contactID, code string) (*model.ContactRecord, error) {
	if _, err := s.ownedContact(ctx, userID, contactID); err != nil {
		return nil, err
	}

	if err := s.verifier.Confirm(ctx, contactID, strings.TrimSpace(code)); err != nil {
		s.metrics.RecordContactOperation(opVerify, "", metrics.ResultFailure)
		return nil, toAPIError(err)
	}

	at := s.now()
	records, err := s.mutate(ctx, userID, opVerify, "", func(records []model.ContactRecord) ([]model.ContactRecord, error) {
		target, err := findByID(records, contactID)
		if err != nil {
			return nil, err
		}
		return contact.MarkVerified(records, target.Kind, target.Value, at)
	})
	if err != nil {
		return nil, err
	}

	verified, err := findByID(records, contactID)
	if err != nil {
		return nil, toAPIError(err)
	}
	slog.Info("contact verified",
		slog.String("user_id", userID),
		slog.String("contact_id", contactID),
	)
	return &verified, nil
}

// Validate はユーザーの集約を検査し、違反一覧を返す。違反がなければ空。
func (s *Service) Validate(ctx context.Context, userID string) (contact.Violations, error) {
	agg, err := s.GetAggregate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return agg.Validate(), nil
}

// Repair は修復可能な違反を直して永続化し、修復した違反を返す。
// 修復後も残る違反（メールアドレスなし等）がある場合はCONTACT_INCONSISTENTになる。
func (s *Service) Repair(ctx context.Context, userID string) (contact.Violations, error) {
	var fixed contact.Violations
	_, err := s.mutate(ctx, userID, opRepair, "", func(records []model.ContactRecord) ([]model.ContactRecord, error) {
		var out []model.ContactRecord
		out, fixed = contact.Repair(userID, records)
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	for _, v := range fixed {
		s.metrics.RecordViolation(string(v.Kind))
	}
	slog.Info("contacts repaired",
		slog.String("user_id", userID),
		slog.Int("fixed", len(fixed)),
	)
	return fixed, nil
}

// Unlock はログイン失敗によるロックを解除する。
func (s *Service) Unlock(ctx context.Context, userID string) error {
	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}
	if err := s.userRepo.ResetLoginFailures(ctx, userID); err != nil {
		return toAPIError(err)
	}
	slog.Info("user unlocked", slog.String("user_id", userID))
	return nil
}

// UpdateName は表示名を更新する。名前はサニタイズしてから保存する。
func (s *Service) UpdateName(ctx context.Context, userID, name string) (*model.User, error) {
	clean := s.sanitizer.Sanitize(name)
	if clean == "" {
		return nil, model.NewInvalidRequestError("名前を入力してください")
	}
	if len([]rune(clean)) > maxNameLength {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("名前は%d文字以内で入力してください", maxNameLength))
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Name = clean
	user.UpdatedAt = s.now()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// SetPassword はパスワードを設定または変更する。OAuthのみのアカウントにも設定できる。
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return model.NewInvalidRequestError(err.Error())
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.findUser(ctx, userID)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = s.now()
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	slog.Info("password updated", slog.String("user_id", userID))
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: identities, contacts）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	if _, err := s.findUser(ctx, userID); err != nil {
		return err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}

	// 2. ユーザーを削除（identities, contactsはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)
	return nil
}

// mutate はMutateを実行し、結果をメトリクスに記録してエラーをAPIErrorに変換する。
// kindが空の場合は変更対象の種別が事前に分からない操作として記録する。
func (s *Service) mutate(ctx context.Context, userID, op string, kind model.ContactKind, fn repository.ContactMutation) ([]model.ContactRecord, error) {
	records, err := s.contactRepo.Mutate(ctx, userID, fn)
	if err != nil {
		s.metrics.RecordContactOperation(op, string(kind), metrics.ResultFailure)

		var inconsistent *repository.InconsistentError
		if errors.As(err, &inconsistent) {
			for _, v := range inconsistent.Violations {
				s.metrics.RecordViolation(string(v.Kind))
			}
			slog.Warn("contact mutation refused",
				slog.String("user_id", userID),
				slog.String("operation", op),
				slog.String("violations", inconsistent.Violations.Err().Error()),
			)
		}
		return nil, toAPIError(err)
	}

	s.metrics.RecordContactOperation(op, string(kind), metrics.ResultSuccess)
	return records, nil
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ownedContact はユーザーが所有する連絡先をIDで取得する。
func (s *Service) ownedContact(ctx context.Context, userID, contactID string) (model.ContactRecord, error) {
	agg, err := s.GetAggregate(ctx, userID)
	if err != nil {
		return model.ContactRecord{}, err
	}
	rec, ok := agg.FindByID(contactID)
	if !ok {
		return model.ContactRecord{}, model.NewContactNotFoundError(contactID)
	}
	return rec, nil
}

func findByID(records []model.ContactRecord, id string) (model.ContactRecord, error) {
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return model.ContactRecord{}, fmt.Errorf("%w: %s", contact.ErrContactNotFound, id)
}

// toAPIError はドメインとリポジトリのエラーをAPIErrorに変換する。
// 対応しないエラーはそのまま返し、ハンドラーで内部エラーとして扱われる。
func toAPIError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var inconsistent *repository.InconsistentError
	switch {
	case errors.As(err, &inconsistent):
		return model.NewContactInconsistentError(inconsistent.Violations.Err().Error())
	case errors.Is(err, contact.ErrDuplicateContact):
		return &model.APIError{
			Code:     model.ErrCodeContactDuplicate,
			Message:  "この連絡先は既に登録されています。",
			Category: "contact",
			Action:   "登録済みの連絡先一覧を確認してください。",
		}
	case errors.Is(err, contact.ErrContactNotFound):
		return model.NewContactNotFoundError(strings.TrimPrefix(err.Error(), contact.ErrContactNotFound.Error()+": "))
	case errors.Is(err, contact.ErrLastEmail):
		return model.NewContactLastEmailError()
	case errors.Is(err, contact.ErrInvalidKind),
		errors.Is(err, contact.ErrInvalidCategory),
		errors.Is(err, valueobject.ErrInvalidValue):
		return model.NewInvalidContactError(err.Error())
	case errors.Is(err, repository.ErrEmailTaken):
		return model.NewEmailTakenError()
	case errors.Is(err, repository.ErrConflict):
		return &model.APIError{
			Code:     model.ErrCodeContactDuplicate,
			Message:  "この連絡先は既に登録されています。",
			Category: "contact",
			Action:   "登録済みの連絡先一覧を確認してください。",
		}
	case errors.Is(err, repository.ErrUserNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, verification.ErrCodeExpired):
		return model.NewVerificationFailedError("確認コードの有効期限が切れているか、発行されていません")
	case errors.Is(err, verification.ErrTooManyAttempts):
		return model.NewVerificationFailedError("試行回数の上限に達しました")
	case errors.Is(err, verification.ErrCodeMismatch):
		return model.NewVerificationFailedError("確認コードが一致しません")
	default:
		return err
	}
}
