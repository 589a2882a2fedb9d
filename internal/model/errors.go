// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, contact, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeContactDuplicate    = "CONTACT_DUPLICATE"
	ErrCodeContactNotFound     = "CONTACT_NOT_FOUND"
	ErrCodeContactLastEmail    = "CONTACT_LAST_EMAIL"
	ErrCodeInvalidContact      = "INVALID_CONTACT"
	ErrCodeContactInconsistent = "CONTACT_INCONSISTENT"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeAccountLocked       = "ACCOUNT_LOCKED"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeVerificationFailed  = "VERIFICATION_FAILED"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewContactDuplicateError は同一値の連絡先が既に登録されている場合のエラーを生成する。
func NewContactDuplicateError(kind ContactKind, value string) *APIError {
	return &APIError{
		Code:     ErrCodeContactDuplicate,
		Message:  fmt.Sprintf("この%sは既に登録されています: %s", kindLabel(kind), value),
		Category: "contact",
		Action:   "登録済みの連絡先一覧を確認してください。",
	}
}

// NewContactNotFoundError は連絡先が見つからない場合のエラーを生成する。
func NewContactNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeContactNotFound,
		Message:  fmt.Sprintf("指定された連絡先が見つかりません: %s", id),
		Category: "contact",
		Action:   "連絡先IDを確認してください。",
	}
}

// NewContactLastEmailError は唯一のメールアドレスを削除しようとした場合のエラーを生成する。
func NewContactLastEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeContactLastEmail,
		Message:  "アカウントには少なくとも1件のメールアドレスが必要です。",
		Category: "contact",
		Action:   "別のメールアドレスを追加してから削除してください。",
	}
}

// NewInvalidContactError は連絡先の値が不正な場合のエラーを生成する。
func NewInvalidContactError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidContact,
		Message:  fmt.Sprintf("連絡先の形式が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewContactInconsistentError は保存前の整合性検証に失敗した場合のエラーを生成する。
func NewContactInconsistentError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeContactInconsistent,
		Message:  fmt.Sprintf("連絡先の整合性が保てないため変更を保存できません: %s", detail),
		Category: "contact",
		Action:   "連絡先一覧を再読み込みしてから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAccountLockedError はアカウントがロックまたは無効化されている場合のエラーを生成する。
func NewAccountLockedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountLocked,
		Message:  "アカウントがロックされています。",
		Category: "auth",
		Action:   "しばらく待ってから再度ログインするか、管理者に連絡してください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワードが誤っている場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewEmailTakenError は別のユーザーが同じメールアドレスを使用している場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に使用されています。",
		Category: "auth",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewVerificationFailedError は確認コードの検証に失敗した場合のエラーを生成する。
func NewVerificationFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeVerificationFailed,
		Message:  fmt.Sprintf("確認に失敗しました: %s", reason),
		Category: "contact",
		Action:   "確認コードを再発行してください。",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証の場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限が不足している場合のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "管理者に連絡してください。",
	}
}

// NewRateLimitedError はレート制限を超えた場合のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

func kindLabel(kind ContactKind) string {
	switch kind {
	case ContactKindEmail:
		return "メールアドレス"
	case ContactKindPhone:
		return "電話番号"
	case ContactKindAddress:
		return "住所"
	default:
		return "連絡先"
	}
}
