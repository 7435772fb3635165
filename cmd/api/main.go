package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"hmsauth.org/internal/audit"
	"hmsauth.org/internal/auth"
	"hmsauth.org/internal/config"
	"hmsauth.org/internal/httpapi"
	"hmsauth.org/internal/obs"
	"hmsauth.org/internal/store/pg"
	"hmsauth.org/internal/store/redisstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const readinessInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("HMS_CONFIG"), "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "hmsauth: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger = logger.With("version", version)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()
	ready := httpapi.ReadyProbe{}

	// accounts
	var (
		accounts auth.AccountStore
		pgStore  *pg.Store
	)
	if cfg.Postgres.DSN != "" {
		pgStore, err = pg.Open(cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		closers = append(closers, pgStore)
		accounts = pgStore
		ready["postgres"] = pgStore
	} else {
		logger.Warn("no postgres DSN configured, accounts are kept in memory")
		accounts = auth.NewMemoryStore()
	}

	// refresh tokens
	var tokens auth.RefreshTokenStore
	switch cfg.Auth.RefreshBackend {
	case config.BackendPostgres:
		tokens = pgStore.Tokens()
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, rdb)
		redisTokens := redisstore.NewTokenStore(rdb, cfg.Redis.Prefix)
		tokens = redisTokens
		ready["redis"] = redisTokens
	default:
		tokens = auth.NewMemoryTokenStore()
	}

	// events
	sinks := audit.Multi{audit.NewLogSink(logger), obs.MetricsSink{}}
	if cfg.AMQP.URL != "" {
		conn, err := audit.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Queue, logger)
		if err != nil {
			return err
		}
		closers = append(closers, conn)
		sinks = append(sinks, conn.Sink)
	}

	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret:    []byte(cfg.Auth.Secret),
		Issuer:    cfg.Auth.Issuer,
		AccessTTL: cfg.Auth.AccessTTL,
	})
	if err != nil {
		return err
	}
	ledger := auth.NewLedger(tokens, cfg.Auth.RefreshTTL, auth.WithLedgerTimeout(cfg.Auth.StoreTimeout))
	svc, err := auth.NewService(accounts, ledger, issuer, hasher,
		auth.WithEventSink(sinks),
		auth.WithStoreTimeout(cfg.Auth.StoreTimeout),
	)
	if err != nil {
		return err
	}

	if cfg.Bootstrap.Email != "" {
		view, created, err := svc.EnsureSuperAdmin(ctx, auth.BootstrapAccount{
			Email:     cfg.Bootstrap.Email,
			Password:  cfg.Bootstrap.Password,
			FirstName: cfg.Bootstrap.FirstName,
			LastName:  cfg.Bootstrap.LastName,
		})
		if err != nil {
			return fmt.Errorf("bootstrap super admin: %w", err)
		}
		logger.Info("super admin ensured", "account_id", view.ID, "created", created)
	}

	sweeper := auth.NewSweeper(ledger, cfg.Auth.SweepInterval, logger, sinks)
	go sweeper.Run(ctx)

	// gRPC health
	health := httpapi.NewGRPCServer(ready, logger)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go health.Run(ctx, readinessInterval)
	go func() {
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server stopped", "error", err)
			stop()
		}
	}()

	// HTTP API
	api := httpapi.New(svc, ready, httpapi.Options{
		Version:       version,
		Logger:        logger,
		MaxBodyBytes:  cfg.HTTP.MaxBodyBytes,
		RateBurst:     cfg.RateLimit.Burst,
		RatePerSecond: cfg.RateLimit.PerSecond,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()
	logger.Info("hmsauth started",
		"http_addr", cfg.HTTP.Addr,
		"grpc_addr", cfg.GRPC.Addr,
		"refresh_backend", cfg.Auth.RefreshBackend,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	logger.Info("stopped")
	return nil
}
