package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// wroteHeaderRecorder はハンドラーがレスポンスを書き始めたかを記録する。
type wroteHeaderRecorder struct {
	http.ResponseWriter
	wrote bool
}

func (rw *wroteHeaderRecorder) WriteHeader(code int) {
	rw.wrote = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *wroteHeaderRecorder) Write(b []byte) (int, error) {
	rw.wrote = true
	return rw.ResponseWriter.Write(b)
}

// NewRecoveryMiddleware はハンドラーのpanicを回収して500の統一エラーを返すミドルウェアを生成する。
// 既にレスポンスを書き始めていた場合は本文を追記しない。
// http.ErrAbortHandler はnet/httpに接続を切らせるため再度panicさせる。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &wroteHeaderRecorder{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				slog.Error("panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Bool("response_started", rw.wrote),
					slog.String("stack", string(debug.Stack())),
				)
				if !rw.wrote {
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}
