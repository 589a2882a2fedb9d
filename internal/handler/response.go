// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/userbook/internal/auth"
	"github.com/hitoshi/userbook/internal/middleware"
	"github.com/hitoshi/userbook/internal/model"
	"github.com/hitoshi/userbook/internal/repository"
	"github.com/hitoshi/userbook/internal/valueobject"
)

// maxRequestBodySize はJSONリクエストボディの上限（1MB）。
const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをdstにデコードする。
// 失敗した場合はINVALID_REQUESTを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return false
	}
	return true
}

// requireUserID はコンテキストから認証済みユーザーIDを取得する。
// 未認証の場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	if apiErr.Code == model.ErrCodeInternal {
		slog.Error("internal server error", slog.String("error", err.Error()))
	}
	middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
}

// toAPIError はエラーをAPIErrorに変換する。
// 認証サービスとリポジトリの番兵エラーもここで対応づける。
func toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return model.NewInvalidCredentialsError()
	case errors.Is(err, auth.ErrAccountLocked):
		return model.NewAccountLockedError()
	case errors.Is(err, auth.ErrInvalidToken):
		return model.NewUnauthorizedError()
	case errors.Is(err, auth.ErrWeakPassword):
		return model.NewInvalidRequestError("パスワードは8〜72バイトで指定してください")
	case errors.Is(err, repository.ErrEmailTaken):
		return model.NewEmailTakenError()
	case errors.Is(err, repository.ErrUserNotFound):
		return model.NewUserNotFoundError()
	case errors.Is(err, valueobject.ErrInvalidValue):
		return model.NewInvalidContactError(err.Error())
	default:
		return model.NewInternalError()
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeContactDuplicate, model.ErrCodeContactLastEmail,
		model.ErrCodeContactInconsistent, model.ErrCodeEmailTaken:
		return http.StatusConflict
	case model.ErrCodeContactNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidContact, model.ErrCodeInvalidRequest, model.ErrCodeVerificationFailed:
		return http.StatusBadRequest
	case model.ErrCodeAccountLocked:
		return http.StatusLocked
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
