package devserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultGrace はSIGINT送信後に強制終了するまでの猶予。
const DefaultGrace = 5 * time.Second

// Runner はサーバーバイナリのビルドと子プロセスの起動・停止を管理する。
type Runner struct {
	// BuildCmd はビルドコマンド。空の場合はビルドしない。
	BuildCmd []string
	// Binary は起動する実行ファイル。
	Binary string
	Args   []string
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
	Grace  time.Duration
	Logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
}

// Build はBuildCmdを実行する。
func (r *Runner) Build(ctx context.Context) error {
	if len(r.BuildCmd) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, r.BuildCmd[0], r.BuildCmd[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build failed: %w", err)
	}
	return nil
}

// Start は子プロセスを起動する。既に起動している場合は何もしない。
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil {
		return nil
	}

	cmd := exec.Command(r.Binary, r.Args...)
	cmd.Dir = r.Dir
	cmd.Env = r.Env
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", r.Binary, err)
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		if err != nil && r.Logger != nil {
			r.Logger.Debug("子プロセスが終了しました", slog.String("error", err.Error()))
		}
		close(exited)
	}()

	r.cmd = cmd
	r.exited = exited
	return nil
}

// Running は子プロセスが起動中かを返す。
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil {
		return false
	}
	select {
	case <-r.exited:
		return false
	default:
		return true
	}
}

// Stop は子プロセスにSIGINTを送り、Grace以内に終了しなければ強制終了する。
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd == nil {
		return nil
	}
	cmd, exited := r.cmd, r.exited
	r.cmd, r.exited = nil, nil

	grace := r.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// Interruptを送れない環境では即座に強制終了する
		grace = 0
	}

	select {
	case <-exited:
		return nil
	case <-time.After(grace):
	}

	if r.Logger != nil {
		r.Logger.Warn("猶予時間内に終了しないため強制終了します", slog.Duration("grace", grace))
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	<-exited
	return nil
}

// Restart は再ビルドして子プロセスを入れ替える。
// ビルドに失敗した場合は既存のプロセスを動かしたままエラーを返す。
func (r *Runner) Restart(ctx context.Context) error {
	if err := r.Build(ctx); err != nil {
		return err
	}
	if err := r.Stop(); err != nil {
		return err
	}
	return r.Start()
}
