package devserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Options は開発サーバーの起動オプション。
type Options struct {
	Port        int
	WatchDirs   []string
	ProjectRoot string
	Out         io.Writer
	Logger      *slog.Logger
}

// binaryPath はビルド成果物のパス。
var binaryPath = filepath.Join(buildDir, "userbook")

// Run は開発サーバーを起動し、ctxがキャンセルされるまで変更監視と再起動を続ける。
func Run(ctx context.Context, opts Options) error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	root := opts.ProjectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		root = wd
	}

	Banner{
		Port:        opts.Port,
		LocalIP:     LocalIP(),
		ProjectRoot: root,
		WatchDirs:   opts.WatchDirs,
	}.Print(opts.Out)

	runner := &Runner{
		BuildCmd: []string{"go", "build", "-o", binaryPath, "./cmd/userbook"},
		Binary:   filepath.Join(root, binaryPath),
		Args:     []string{"serve"},
		Env:      ChildEnv(os.Environ(), opts.Port),
		Dir:      root,
		Stdout:   opts.Out,
		Stderr:   opts.Out,
		Grace:    DefaultGrace,
		Logger:   opts.Logger,
	}

	dirs := make([]string, 0, len(opts.WatchDirs))
	for _, d := range opts.WatchDirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(root, d)
		}
		dirs = append(dirs, d)
	}
	watcher, err := NewWatcher(dirs, opts.Logger)
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := runner.Build(ctx); err != nil {
		return err
	}
	if err := runner.Start(); err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		watcher.Run(watchCtx)
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			fmt.Fprintln(opts.Out, "\n開発サーバーを停止しています...")
			if err := runner.Stop(); err != nil {
				return err
			}
			fmt.Fprintln(opts.Out, "停止しました。お疲れさまでした。")
			return nil

		case path := <-watcher.Changes():
			opts.Logger.Info("変更を検知したため再起動します", slog.String("path", path))
			if err := runner.Restart(ctx); err != nil {
				opts.Logger.Error("再起動に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// ChildEnv は子プロセス用の環境変数を組み立てる。
// 0.0.0.0で待ち受け、DATABASE_URLが無ければSQLiteを使う。
func ChildEnv(base []string, port int) []string {
	env := append([]string{}, base...)
	env = append(env,
		"SERVER_HOST=0.0.0.0",
		"SERVER_PORT="+strconv.Itoa(port),
		"LOG_FORMAT=text",
	)
	if !hasNonEmpty(base, "DATABASE_URL") {
		env = append(env, "STORE_DRIVER=sqlite")
	}
	return env
}

func hasNonEmpty(env []string, key string) bool {
	prefix := key + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) && len(kv) > len(prefix) {
			return true
		}
	}
	return false
}
