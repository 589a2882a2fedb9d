// Package worker はバックグラウンドジョブの定期実行を提供する。
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job は定期実行されるジョブ。
type Job interface {
	// Name はログに出すジョブ名を返す。
	Name() string
	// RunOnce はジョブを1回実行する。
	RunOnce(ctx context.Context) error
}

// entry はジョブと実行間隔の組。
type entry struct {
	job      Job
	interval time.Duration
}

// Scheduler は登録されたジョブをそれぞれの間隔で実行する。
type Scheduler struct {
	logger  *slog.Logger
	entries []entry
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add はジョブを登録する。intervalが0以下のジョブは登録しない。
func (s *Scheduler) Add(job Job, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn("実行間隔が0以下のためジョブを無効化しました",
			slog.String("job", job.Name()),
		)
		return
	}
	s.entries = append(s.entries, entry{job: job, interval: interval})
}

// Len は登録済みジョブ数を返す。
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Start は全ジョブを起動し、コンテキストがキャンセルされて全ジョブが停止するまでブロックする。
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()
}

// retryBase は失敗直後の再試行までの待ち時間。
const retryBase = 30 * time.Second

// loop はジョブを繰り返し実行する。起動直後に1回実行する。
// 失敗が続く間は指数バックオフで再試行し、成功したらintervalに戻す。
func (s *Scheduler) loop(ctx context.Context, e entry) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	s.logger.Info("ジョブを開始しました",
		slog.String("job", e.job.Name()),
		slog.Duration("interval", e.interval),
	)

	failures := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ジョブを停止しました", slog.String("job", e.job.Name()))
			return
		case <-timer.C:
			if s.runOnce(ctx, e.job) {
				failures = 0
			} else {
				failures++
			}
			delay := nextDelay(e.interval, failures)
			if failures > 0 && ctx.Err() == nil {
				s.logger.Warn("ジョブを再試行します",
					slog.String("job", e.job.Name()),
					slog.Int("consecutive_failures", failures),
					slog.Duration("retry_in", delay),
				)
			}
			timer.Reset(delay)
		}
	}
}

// nextDelay は次回実行までの待ち時間を返す。
// 連続失敗時はretryBaseから2倍ずつ延ばし、intervalを上限とする。
func nextDelay(interval time.Duration, failures int) time.Duration {
	if failures == 0 {
		return interval
	}
	delay := retryBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= interval {
			return interval
		}
	}
	return min(delay, interval)
}

// runOnce はジョブを1回実行し、成功したかを返す。
func (s *Scheduler) runOnce(ctx context.Context, job Job) bool {
	if err := job.RunOnce(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Error("ジョブの実行に失敗しました",
				slog.String("job", job.Name()),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	return true
}
