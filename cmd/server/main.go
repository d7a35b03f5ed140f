package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/cymasphere/cymasphere-website-sub009/internal/api"
	"github.com/cymasphere/cymasphere-website-sub009/internal/auth"
	"github.com/cymasphere/cymasphere-website-sub009/internal/config"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/distlock"
	"github.com/cymasphere/cymasphere-website-sub009/internal/pkg/logger"
	"github.com/cymasphere/cymasphere-website-sub009/internal/repository/postgres"
	"github.com/cymasphere/cymasphere-website-sub009/internal/segmentation"
	"github.com/cymasphere/cymasphere-website-sub009/internal/service/audience"
	"github.com/cymasphere/cymasphere-website-sub009/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %w", port, addr, err)
	}
	return ln.Close()
}

// extractHost returns the host portion of a postgres URL for logging
// without exposing credentials.
func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func fatal(msg string, kv ...interface{}) {
	logger.Error(msg, kv...)
	_ = logger.Sync()
	os.Exit(1)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required (set DATABASE_URL)")
	}

	dsn := cfg.URL
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.Contains(dsn, "connect_timeout") {
		dsn += sep + "connect_timeout=5"
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openRedis returns nil when Redis is not configured or unreachable; locks
// then fall back to PostgreSQL advisory locks.
func openRedis(ctx context.Context, url string) *redis.Client {
	if url == "" {
		logger.Info("redis not configured, using PG advisory locks")
		return nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, falling back to PG advisory locks", "addr", opts.Addr, "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected", "addr", opts.Addr)
	return client
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("failed to load config", "path", *configPath, "error", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warn("unknown log level, using info", "level", cfg.Logging.Level)
		level = logger.INFO
	}
	logger.SetLevel(level)
	logger.SetRedactPII(cfg.Logging.ShouldRedactPII())
	defer logger.Sync()

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		fatal("pre-flight check failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		fatal("database unavailable", "error", err)
	}
	defer db.Close()
	logger.Info("database connected", "host", extractHost(cfg.Database.URL))

	redisClient := openRedis(ctx, cfg.Redis.URL)
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.Auth.SessionSecret == "" {
		fatal("session secret is required (set SESSION_SECRET)")
	}

	evaluator := segmentation.NewEvaluator(db, segmentation.WithChunkSize(cfg.Reach.EvaluatorChunkSize))
	audiences := audience.NewService(
		postgres.NewAudienceRepo(db),
		postgres.NewSubscriberRepo(db),
		evaluator,
		audience.WithConfig(audience.Config{
			BatchConcurrency: cfg.Reach.BatchConcurrency,
			RefreshLockTTL:   cfg.Reach.RefreshLockTTL(),
		}),
		audience.WithLocks(distlock.NewFactory(redisClient, db)),
	)

	refresher := worker.NewCountRefreshWorker(audiences, cfg.Reach.RefreshInterval(), cfg.Reach.RefreshLockTTL())
	refresher.Start()

	authManager := auth.NewAuthManager(cfg.Auth, postgres.NewAdminRepo(db))
	server := api.NewServer(
		cfg.Server,
		api.NewHandlers(audiences),
		api.NewHealthChecker(db, redisClient),
		authManager.RequireAdmin,
	)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		logger.Info("starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			fatal("server error", "error", err)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()
	refresher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
