// Package cleanup は期限切れリフレッシュセッションの定期削除ジョブを提供する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SessionCleaner は期限切れセッションの削除を抽象化するインターフェース。
// repository.SessionRepository が満たす。
type SessionCleaner interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れセッションの削除ジョブ。何度実行しても結果は変わらない。
type CleanupJob struct {
	sessions SessionCleaner
	logger   *slog.Logger
	now      func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(sessions SessionCleaner, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// Name はジョブ名を返す。
func (j *CleanupJob) Name() string {
	return "session_cleanup"
}

// RunOnce は現在時刻で期限切れのセッションを削除する。
func (j *CleanupJob) RunOnce(ctx context.Context) error {
	_, err := j.Run(ctx)
	return err
}

// Run は現在時刻で期限切れのセッションを削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()

	deleted, err := j.sessions.DeleteExpired(ctx, start)
	if err != nil {
		j.logger.Error("セッションクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return deleted, nil
}
