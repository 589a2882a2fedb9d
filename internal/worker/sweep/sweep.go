// Package sweep は全ユーザーの連絡先整合性を定期的に検査するジョブを提供する。
// 違反はログとメトリクスに記録するだけで、修復は管理者の操作に任せる。
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/userbook/internal/contact"
	"github.com/hitoshi/userbook/internal/metrics"
	"github.com/hitoshi/userbook/internal/model"
)

const (
	defaultPageSize       = 100
	defaultMaxConcurrency = 4
)

// UserLister はユーザーIDのページング取得を抽象化する。
// repository.UserRepository が満たす。
type UserLister interface {
	ListIDs(ctx context.Context, after string, limit int) ([]string, error)
}

// Validator はユーザー単位の整合性検査を抽象化する。
// user.Service が満たす。
type Validator interface {
	Validate(ctx context.Context, userID string) (contact.Violations, error)
}

// Result は1回のスイープの集計。
type Result struct {
	Checked    int
	Violating  int
	Violations int
	Failed     int
}

// SweepJob は整合性スイープジョブ。
type SweepJob struct {
	users          UserLister
	validator      Validator
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	pageSize       int
	maxConcurrency int
}

// NewSweepJob は新しいSweepJobを生成する。metricsがnilの場合は記録しない。
func NewSweepJob(users UserLister, validator Validator, mc metrics.MetricsCollector, logger *slog.Logger) *SweepJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &SweepJob{
		users:          users,
		validator:      validator,
		metrics:        mc,
		logger:         logger,
		pageSize:       defaultPageSize,
		maxConcurrency: defaultMaxConcurrency,
	}
}

// Name はジョブ名を返す。
func (j *SweepJob) Name() string {
	return "consistency_sweep"
}

// RunOnce はスイープを1回実行する。
func (j *SweepJob) RunOnce(ctx context.Context) error {
	_, err := j.Run(ctx)
	return err
}

// Run は全ユーザーをID順にページングしながら検査し、集計を返す。
// 個々のユーザーの検査失敗はFailedに数えて継続する。
func (j *SweepJob) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	var res Result
	after := ""

	for {
		ids, err := j.users.ListIDs(ctx, after, j.pageSize)
		if err != nil {
			return res, fmt.Errorf("failed to list users: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		j.checkPage(ctx, ids, &res)

		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(ids) < j.pageSize {
			break
		}
		after = ids[len(ids)-1]
	}

	j.logger.Info("整合性スイープが完了しました",
		slog.Int("checked_count", res.Checked),
		slog.Int("violating_users", res.Violating),
		slog.Int("violation_count", res.Violations),
		slog.Int("failed_count", res.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return res, nil
}

// checkPage は1ページ分のユーザーをsemaphoreで並列数を制限して検査する。
func (j *SweepJob) checkPage(ctx context.Context, ids []string, res *Result) {
	sem := make(chan struct{}, j.maxConcurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, id := range ids {
		wg.Add(1)
		sem <- struct{}{}

		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			violations, err := j.validator.Validate(ctx, userID)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// 検査中に退会したユーザーは対象外
				if isUserNotFound(err) {
					return
				}
				res.Failed++
				j.logger.Error("整合性検査に失敗しました",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
				return
			}

			res.Checked++
			if len(violations) == 0 {
				return
			}
			res.Violating++
			res.Violations += len(violations)
			for _, v := range violations {
				j.metrics.RecordViolation(string(v.Kind))
				j.logger.Warn("連絡先の整合性違反を検出しました",
					slog.String("user_id", userID),
					slog.String("violation", string(v.Kind)),
					slog.String("contact_kind", string(v.ContactKind)),
					slog.Bool("blocking", v.Kind.Blocking()),
				)
			}
		}(id)
	}

	wg.Wait()
}

func isUserNotFound(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeUserNotFound
}
