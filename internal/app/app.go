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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/civicportal/internal/api"
	"github.com/hitoshi/civicportal/internal/audit"
	"github.com/hitoshi/civicportal/internal/config"
	"github.com/hitoshi/civicportal/internal/database"
	"github.com/hitoshi/civicportal/internal/guard"
	"github.com/hitoshi/civicportal/internal/handler"
	"github.com/hitoshi/civicportal/internal/logger"
	"github.com/hitoshi/civicportal/internal/metrics"
	"github.com/hitoshi/civicportal/internal/middleware"
	"github.com/hitoshi/civicportal/internal/portal"
	"github.com/hitoshi/civicportal/internal/repository"
	"github.com/hitoshi/civicportal/internal/security"
	"github.com/hitoshi/civicportal/internal/storage"
	"github.com/hitoshi/civicportal/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルを適用する
	level.Set(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("storage_backend", cfg.StorageBackend),
		slog.String("audit_sink", cfg.AuditSink),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// components はserveモードで組み立てた依存関係。closeは生成と逆順に解放する。
type components struct {
	handler  http.Handler
	registry *portal.Registry
	closers  []func()
}

func (c *components) addCloser(fn func()) {
	c.closers = append(c.closers, fn)
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// buildComponents はストレージ、監査、メトリクス、外部APIクライアント、端末レジストリ、
// ルーターをワイヤリングする。エラー時はそれまでに確保した資源を解放する。
func buildComponents(ctx context.Context, cfg *config.Config) (c *components, err error) {
	c = &components{}
	defer func() {
		if err != nil {
			c.close()
			c = nil
		}
	}()

	healthChecks := make(map[string]handler.HealthCheck)

	// 1. DB接続（Postgresを使う場合のみ）
	var db *sql.DB
	if cfg.StorageBackend == config.StoragePostgres || cfg.AuditSink == config.AuditSinkPostgres {
		db, err = openDatabase(ctx, cfg)
		if err != nil {
			return c, err
		}
		c.addCloser(func() { db.Close() })
		healthChecks["postgres"] = db.PingContext
	}

	// 2. 端末ストレージ
	var kv storage.KV
	switch cfg.StorageBackend {
	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		c.addCloser(func() { client.Close() })
		repo := repository.NewRedisKVRepo(client, cfg.RedisKeyTTL)
		if err = repo.Ping(ctx); err != nil {
			return c, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		healthChecks["redis"] = repo.Ping
		kv = repo
	case config.StoragePostgres:
		kv = repository.NewPostgresKVRepo(db)
	default:
		kv = repository.NewMemoryKVRepo()
	}

	// 3. 監査イベントの出力先
	var sink audit.Sink = audit.NewLogSink(slog.Default())
	if cfg.AuditSink == config.AuditSinkPostgres {
		sink = repository.NewPostgresAuditRepo(db)
	}
	dispatcher := audit.NewDispatcher(audit.DispatcherConfig{
		BufferSize: cfg.AuditBufferSize,
		DropIfFull: true,
	}, sink)
	c.addCloser(func() {
		dispatcher.Close()
		if n := dispatcher.Dropped(); n > 0 {
			slog.Warn("audit events dropped", slog.Uint64("count", n))
		}
	})

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 5. 外部APIクライアントと端末レジストリ
	client := api.NewClient(cfg.APIBaseURL, &http.Client{Timeout: cfg.APITimeout}, slog.Default(), collector)
	registry := portal.NewRegistry(kv, portal.Deps{
		UserBackend:  api.NewUserBackend(client),
		AdminBackend: api.NewAdminBackend(client),
		Timeout:      cfg.APITimeout,
		Logger:       slog.Default(),
		Metrics:      collector,
		Sanitizer:    security.NewLabelSanitizer(security.DefaultMaxLabelLength),
	}, portal.RegistryConfig{
		IdleTTL:       cfg.RuntimeIdleTTL,
		SweepInterval: cfg.RuntimeSweepInterval,
		InitTimeout:   cfg.RuntimeInitTimeout,
	})
	c.registry = registry
	c.addCloser(registry.Stop)

	// 6. ルーターの構築
	// configのレート制限はreq/min単位。NewRateLimiterConfigでreq/secに変換する
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	c.addCloser(rateLimiter.Stop)

	c.handler = handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Device: middleware.DeviceConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.DeviceMaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Runtimes:       registry,
		Guard:          guard.New(collector, dispatcher),
		HealthChecks:   healthChecks,
		MetricsHandler: metrics.Handler(reg),
	})

	return c, nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: database.DefaultPoolConfig().ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// runServe はBFFサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	c, err := buildComponents(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer c.close()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	listenErr := make(chan error, 1)
	go func() {
		slog.Info("portal server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-listenErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down portal server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("portal server stopped gracefully",
		slog.Int("active_runtimes", c.registry.Len()),
	)
	return nil
}

// runWorker はワーカーモードで起動する。
// 監査イベントの保持期間を超えた行を日次で削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.AuditSink != config.AuditSinkPostgres {
		return fmt.Errorf("worker requires AUDIT_SINK=%s, got %q", config.AuditSinkPostgres, cfg.AuditSink)
	}

	db, err := openDatabase(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cleanupJob := cleanup.NewCleanupJob(repository.NewPostgresAuditRepo(db), slog.Default())
	cleanupJob.RetentionDays = cfg.AuditRetentionDays

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("audit_retention_days", cfg.AuditRetentionDays),
	)

	// クリーンアップジョブを日次で実行（ブロッキング）
	cleanupJob.Start(ctx, 24*time.Hour)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はログ出力用にデータベースURLのパスワードとクエリを伏せる。
// URL形式でない接続文字列はパスワードを含み得るため全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	u.RawQuery = ""
	return u.Redacted()
}
