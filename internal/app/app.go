package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"go-identity-service/internal/config"
	"go-identity-service/internal/database"
	"go-identity-service/internal/handler"
	"go-identity-service/internal/logger"
	"go-identity-service/internal/metrics"
	"go-identity-service/internal/middleware"
	"go-identity-service/internal/notify"
	"go-identity-service/internal/repository"
	"go-identity-service/internal/router"
	"go-identity-service/internal/security"
	"go-identity-service/internal/service"
	"go-identity-service/internal/storage"
)

const resetJanitorInterval = 10 * time.Minute

type resetStore interface {
	service.ResetStore
	DeleteExpired(ctx context.Context) (int64, error)
}

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	server     *http.Server
	db         *database.DB
	dispatcher *notify.Dispatcher
	resets     resetStore

	cleanupFuncs []func()
	closeOnce    sync.Once
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return logger.New(os.Stdout, level, cfg.LogFormat), nil
}

// New connects every backing service and assembles the HTTP stack. On error
// anything already opened is released.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	log.Info("connecting to PostgreSQL")
	db, err := database.New(ctx, database.Options{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db
	a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

	if cfg.AutoMigrate {
		if err := db.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
	}
	log.Info("database ready")

	hasher, err := security.NewPasswordHasher(cfg.HashAlgorithm, cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}
	issuer, err := security.NewTokenIssuer(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	resets, err := a.newResetStore(ctx)
	if err != nil {
		return nil, err
	}
	a.resets = resets

	images, err := newImageStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	a.dispatcher = notify.NewDispatcher(newMailer(cfg, log), cfg.MailWorkers, cfg.MailTimeout, log, m)
	notifier := notify.NewNotifier(a.dispatcher, cfg.FrontendURL)

	userRepo := repository.NewUserRepository(db.Pool)

	authService := service.NewAuthService(service.AuthDeps{
		Users:     userRepo,
		Resets:    resets,
		Hasher:    hasher,
		Tokens:    issuer,
		Generator: security.NewTokenGenerator(),
		Notifier:  notifier,
		Recorder:  m,
		Logger:    log,
	}, service.AuthOptions{
		TokenTTL:           cfg.JWTTTL,
		ResetTTL:           cfg.ResetTokenTTL,
		SuperAdminEmail:    cfg.SuperAdminEmail,
		RevealUnknownEmail: cfg.RevealUnknownEmail,
	})
	userService := service.NewUserService(userRepo, images, m, log, service.UserOptions{
		ProfileImageMaxBytes: cfg.ProfileImageMaxBytes,
		ProfileImageMaxDim:   cfg.ProfileImageMaxDim,
	})

	appRouter := router.New(cfg, log, m, middleware.NewAuthMiddleware(authService), router.Handlers{
		Auth:    handler.NewAuthHandler(authService, cfg.CookieSecure),
		User:    handler.NewUserHandler(userService, cfg.ProfileImageMaxBytes),
		Health:  handler.NewHealthHandler(db),
		Metrics: m.Handler(),
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		ReadTimeout:       cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) newResetStore(ctx context.Context) (resetStore, error) {
	if a.cfg.ResetStore != "redis" {
		return repository.NewResetRepository(a.db.Pool), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.RedisAddr, err)
	}

	a.logger.Info("password resets stored in redis", "addr", a.cfg.RedisAddr)
	return repository.NewRedisResetStore(client), nil
}

func newImageStore(ctx context.Context, cfg *config.Config) (service.ImageStore, error) {
	if cfg.ImageStore == "s3" {
		store, err := storage.NewS3ImageStore(ctx, storage.S3Config{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 image store: %w", err)
		}
		return store, nil
	}

	store, err := storage.NewLocalImageStore(cfg.ImageRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image store: %w", err)
	}
	return store, nil
}

func newMailer(cfg *config.Config, log *slog.Logger) notify.Mailer {
	if cfg.MailDriver == "smtp" {
		return notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}
	log.Warn("MAIL_DRIVER is log: emails are written to the log, not delivered")
	return notify.NewLogMailer(log)
}

func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests and
// queued emails within the shutdown timeout.
func (a *App) Run(ctx context.Context) error {
	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go a.runResetJanitor(janitorCtx, resetJanitorInterval)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			a.Close()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.Close()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}

func (a *App) runResetJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.resets.DeleteExpired(ctx)
			if err != nil {
				logger.LogError(a.logger, "expired reset cleanup failed", err)
				continue
			}
			if removed > 0 {
				a.logger.Info("expired password resets removed", "count", removed)
			}
		}
	}
}

// Close stops the email workers after they drain, then releases
// connections. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.dispatcher != nil {
			a.dispatcher.Close()
		}
		for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
			a.cleanupFuncs[i]()
		}
	})
}
