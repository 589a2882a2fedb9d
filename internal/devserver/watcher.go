package devserver

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce は連続した保存をまとめる待ち時間。
const DefaultDebounce = 300 * time.Millisecond

// buildDir はビルド成果物の出力先。監視対象から除外する。
const buildDir = ".dev"

// watchedExts は再起動の契機になる拡張子。
var watchedExts = map[string]bool{
	".go":  true,
	".sql": true,
	".env": true,
}

// Watcher はディレクトリを再帰的に監視し、デバウンスした変更を通知する。
type Watcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	changes  chan string
}

// NewWatcher はdirs配下を再帰的に監視するWatcherを生成する。
// 隠しディレクトリと.devは監視しない。
func NewWatcher(dirs []string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fsw:      fsw,
		logger:   logger,
		debounce: DefaultDebounce,
		changes:  make(chan string, 1),
	}

	for _, dir := range dirs {
		if err := w.addRecursive(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Changes はデバウンス後の変更ファイルパスを受け取るチャネルを返す。
// 受信側が追いつかない場合は最新の1件にまとめる。
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Close は監視を終了する。
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run はコンテキストがキャンセルされるまでイベントを処理する。
func (w *Watcher) Run(ctx context.Context) {
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var pending string
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				w.watchIfDir(event.Name)
			}
			if !isRelevant(event) {
				continue
			}
			pending = event.Name
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("ファイル監視でエラーが発生しました", slog.String("error", err.Error()))

		case <-timer.C:
			w.notify(pending)
		}
	}
}

func (w *Watcher) notify(path string) {
	select {
	case w.changes <- path:
	default:
		// 未受信の通知があればそれを最新に置き換える
		select {
		case <-w.changes:
		default:
		}
		w.changes <- path
	}
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// watchIfDir は新しく作られたディレクトリを監視対象に加える。
func (w *Watcher) watchIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() || skipDir(info.Name()) {
		return
	}
	if err := w.addRecursive(path); err != nil {
		w.logger.Warn("ディレクトリの監視に失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

func skipDir(name string) bool {
	return name == buildDir || (strings.HasPrefix(name, ".") && name != "." && name != "..")
}

func isRelevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return watchedExts[filepath.Ext(event.Name)]
}
