// Package app はuserbookの各起動モードの依存関係を組み立てて実行する。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/userbook/internal/auth"
	"github.com/hitoshi/userbook/internal/config"
	"github.com/hitoshi/userbook/internal/database"
	"github.com/hitoshi/userbook/internal/handler"
	"github.com/hitoshi/userbook/internal/logger"
	"github.com/hitoshi/userbook/internal/metrics"
	"github.com/hitoshi/userbook/internal/middleware"
	"github.com/hitoshi/userbook/internal/repository"
	"github.com/hitoshi/userbook/internal/security"
	"github.com/hitoshi/userbook/internal/user"
	"github.com/hitoshi/userbook/internal/verification"
	"github.com/hitoshi/userbook/internal/worker"
	"github.com/hitoshi/userbook/internal/worker/cleanup"
	"github.com/hitoshi/userbook/internal/worker/sweep"
)

// outboundTimeout はIdPへのHTTPリクエストのタイムアウト。
const outboundTimeout = 10 * time.Second

// Init は設定を読み込み、設定に従った構造化ログをグローバルロガーとして設定する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前のエラーもJSONで出す
	logger.SetupDefault(w, logger.Options{})

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

// store はドライバごとのリポジトリ実装をまとめたもの。
type store struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	sessions   repository.SessionRepository
	contacts   repository.ContactRepository
	db         *sql.DB
}

func (s *store) Close() error {
	return s.db.Close()
}

// openStore はSTORE_DRIVERに応じてPostgreSQLまたは組み込みSQLiteを開く。
// SQLiteの場合はテーブルを自動作成する。
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		gdb, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		if err := repository.AutoMigrateGorm(gdb.WithContext(ctx)); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
		}
		slog.Info("embedded sqlite store opened", slog.String("path", cfg.SQLitePath))
		return &store{
			users:      repository.NewGormUserRepo(gdb),
			identities: repository.NewGormIdentityRepo(gdb),
			sessions:   repository.NewGormSessionRepo(gdb),
			contacts:   repository.NewGormContactRepo(gdb),
			db:         sqlDB,
		}, nil

	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return &store{
			users:      repository.NewPostgresUserRepo(db),
			identities: repository.NewPostgresIdentityRepo(db),
			sessions:   repository.NewPostgresSessionRepo(db),
			contacts:   repository.NewPostgresContactRepo(db),
			db:         db,
		}, nil
	}
}

// openCodeStore はREDIS_URLが設定されていればRedis、なければメモリの確認コードストアを返す。
func openCodeStore(ctx context.Context, cfg *config.Config) (verification.CodeStore, func() error, error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL is not set; verification codes are kept in memory")
		return verification.NewMemoryStore(), func() error { return nil }, nil
	}
	rdb, err := verification.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return verification.NewRedisStore(rdb), rdb.Close, nil
}

// services はserveとworkerで共有するサービス群。
type services struct {
	store    *store
	registry *prometheus.Registry
	metrics  *metrics.Collector
	auth     *auth.Service
	user     *user.Service
	closers  []func() error
}

// Close は開いたリソースを逆順に閉じる。
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newServices はストア、確認コード、認証、ユーザーの各サービスを組み立てる。
func newServices(ctx context.Context, cfg *config.Config, log *slog.Logger) (*services, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svc := &services{store: st, closers: []func() error{st.Close}}

	codes, closeCodes, err := openCodeStore(ctx, cfg)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.closers = append(svc.closers, closeCodes)

	svc.registry = prometheus.NewRegistry()
	svc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc.metrics = metrics.NewCollector(svc.registry)

	guard := security.NewOutboundGuard()
	oauthConfig := auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		HTTPClient:   guard.NewSafeClient(outboundTimeout),
	}
	for _, endpoint := range oauthConfig.Endpoints() {
		if err := guard.ValidateEndpoint(endpoint); err != nil {
			svc.Close()
			return nil, fmt.Errorf("invalid oauth endpoint: %w", err)
		}
	}

	hasher := auth.NewHasher(cfg.BcryptCost)
	sanitizer := security.NewTextSanitizer()

	svc.auth = auth.NewService(
		auth.NewGoogleOAuthProvider(oauthConfig),
		st.users, st.identities, st.sessions,
		auth.NewTokenIssuer(cfg.SessionSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenTTL),
		hasher, sanitizer, svc.metrics,
		auth.ServiceConfig{
			RefreshTokenTTL:  cfg.RefreshTokenTTL,
			LoginMaxAttempts: cfg.LoginMaxAttempts,
			LoginLockout:     cfg.LoginLockout,
		},
	)

	verifier := verification.NewService(
		codes,
		verification.NewLogNotifier(log),
		verification.ServiceConfig{TTL: cfg.VerificationTTL, MaxAttempts: cfg.VerificationMaxAttempts},
		svc.metrics,
	)
	svc.user = user.NewService(st.users, st.sessions, st.contacts, verifier, hasher, sanitizer, svc.metrics)

	return svc, nil
}

// newRouterDeps はHTTPルーターの依存関係を組み立てる。
func newRouterDeps(cfg *config.Config, svc *services, log *slog.Logger, rl *middleware.RateLimiter) *handler.RouterDeps {
	return &handler.RouterDeps{
		Logger:            log,
		Metrics:           svc.metrics,
		MetricsGatherer:   svc.registry,
		HealthChecker:     svc.store.db,
		Authenticator:     svc.auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rl,

		AuthService: svc.auth,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		ContactService: svc.user,
		UserService:    svc.user,
		AdminService:   svc.user,
	}
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	svc, err := newServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth))
	defer rl.Stop()

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler.NewRouter(newRouterDeps(cfg, svc, log, rl)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの削除と整合性スイープをctxがキャンセルされるまで定期実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	svc, err := newServices(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	scheduler := newWorkerScheduler(cfg, svc, log)

	log.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("sweep_interval", cfg.SweepInterval),
	)
	scheduler.Start(ctx)

	log.Info("worker stopped gracefully")
	return nil
}

func newWorkerScheduler(cfg *config.Config, svc *services, log *slog.Logger) *worker.Scheduler {
	scheduler := worker.NewScheduler(log)
	scheduler.Add(cleanup.NewCleanupJob(svc.store.sessions, log), cfg.CleanupInterval)
	scheduler.Add(sweep.NewSweepJob(svc.store.users, svc.user, svc.metrics, log), cfg.SweepInterval)
	return scheduler
}

// runMigrate はデータベースマイグレーションを実行する。
// PostgreSQLは埋め込みSQLを適用し、SQLiteはテーブルを自動作成する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreDriverSQLite {
		st, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("sqlite schema is up to date", slog.String("path", cfg.SQLitePath))
		return st.Close()
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	state, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(state.Version)),
	)
	return nil
}

// runHealthcheck は/healthにHTTPリクエストを送り、200以外をエラーとして返す。
// distroless環境でのDockerヘルスチェック用。
func runHealthcheck(ctx context.Context, port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
