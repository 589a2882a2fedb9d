package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/userbook/internal/config"
	"github.com/hitoshi/userbook/internal/devserver"
	"github.com/hitoshi/userbook/internal/logger"
)

// runners は各サブコマンドの実処理。テストで差し替える。
type runners struct {
	serve       func(ctx context.Context, cfg *config.Config) error
	worker      func(ctx context.Context, cfg *config.Config) error
	migrate     func(ctx context.Context, cfg *config.Config) error
	healthcheck func(ctx context.Context, port string) error
	dev         func(ctx context.Context, opts devserver.Options) error
}

var defaultRunners = runners{
	serve:       runServe,
	worker:      runWorker,
	migrate:     runMigrate,
	healthcheck: runHealthcheck,
	dev:         devserver.Run,
}

// NewRootCommand はuserbookのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動く。
func NewRootCommand(w io.Writer) *cobra.Command {
	return newRootCommand(w, defaultRunners)
}

func newRootCommand(w io.Writer, r runners) *cobra.Command {
	// withConfig は設定を読み込んでからfnを呼ぶRunEを返す。
	withConfig := func(name string, fn func(ctx context.Context, cfg *config.Config) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			slog.Info("starting application",
				slog.String("command", name),
				slog.String("store_driver", cfg.StoreDriver),
				slog.String("addr", cfg.ListenAddr()),
				slog.String("base_url", cfg.BaseURL),
			)
			return fn(cmd.Context(), cfg)
		}
	}

	root := &cobra.Command{
		Use:           "userbook",
		Short:         "userbook - ユーザーと連絡先を管理するAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          withConfig("serve", r.serve),
	}
	root.SetOut(w)
	root.SetErr(w)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "APIサーバーを起動する",
		RunE:  withConfig("serve", r.serve),
	}

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "セッション削除と整合性スイープを定期実行する",
		RunE:  withConfig("worker", r.worker),
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "データベースのスキーマを最新にする",
		RunE:  withConfig("migrate", r.migrate),
	}

	// healthcheck は設定全体を読み込まず、ポートのみを参照する
	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "起動中のサーバーの/healthを確認する（Docker用）",
		RunE: func(cmd *cobra.Command, _ []string) error {
			port, _ := cmd.Flags().GetString("port")
			return r.healthcheck(cmd.Context(), port)
		},
	}
	healthcheckCmd.Flags().String("port", envOr("SERVER_PORT", "8080"), "確認するポート")

	devCmd := &cobra.Command{
		Use:   "dev",
		Short: "LAN公開の開発サーバーを変更監視つきで起動する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.SetupDefault(w, logger.Options{Level: os.Getenv("LOG_LEVEL"), Format: "text"})
			port, _ := cmd.Flags().GetInt("port")
			watch, _ := cmd.Flags().GetStringSlice("watch")
			return r.dev(cmd.Context(), devserver.Options{
				Port:      port,
				WatchDirs: watch,
				Out:       w,
				Logger:    slog.Default(),
			})
		},
	}
	devCmd.Flags().Int("port", 8000, "待ち受けポート")
	devCmd.Flags().StringSlice("watch", []string{"internal", "cmd"}, "監視するディレクトリ")

	root.AddCommand(serveCmd, workerCmd, migrateCmd, healthcheckCmd, devCmd)
	return root
}

// Run はアプリケーションのメインエントリーポイント。argsにはos.Args[1:]を渡す。
// SIGINTまたはSIGTERMを受信するとコマンドのコンテキストをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
