// Command authd runs the session and token authority service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/audit"
	"github.com/rvph10/old-saas-sub000/internal/auth"
	"github.com/rvph10/old-saas-sub000/internal/config"
	"github.com/rvph10/old-saas-sub000/internal/csrf"
	"github.com/rvph10/old-saas-sub000/internal/device"
	"github.com/rvph10/old-saas-sub000/internal/directory"
	"github.com/rvph10/old-saas-sub000/internal/httpapi"
	"github.com/rvph10/old-saas-sub000/internal/kv"
	"github.com/rvph10/old-saas-sub000/internal/lockout"
	"github.com/rvph10/old-saas-sub000/internal/notify"
	"github.com/rvph10/old-saas-sub000/internal/password"
	"github.com/rvph10/old-saas-sub000/internal/rate"
	"github.com/rvph10/old-saas-sub000/internal/session"
	"github.com/rvph10/old-saas-sub000/internal/telemetry"
	"github.com/rvph10/old-saas-sub000/internal/token"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var log *zap.Logger
	if cfg.Production() {
		log, err = zap.NewProduction()
	} else {
		log, err = zap.NewDevelopment()
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = client.Close() }()

	store := kv.New(client)
	if _, err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider()
	defer func() { _ = meterProvider.Shutdown(context.Background()) }()
	otel.SetMeterProvider(meterProvider)
	tel := telemetry.NewOTel(otel.Meter("authd"))

	hasher, err := password.NewHasher(password.Params{})
	if err != nil {
		return fmt.Errorf("build hasher: %w", err)
	}

	signer, err := token.NewSigner(token.SignerConfig{
		Method:     token.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey: []byte(cfg.Token.SigningKey),
		PublicKey:  []byte(cfg.Token.PublicKey),
		Issuer:     cfg.Token.Issuer,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		PendingTTL: cfg.Token.PendingTTL,
	})
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: true,
	}, audit.NewJSONWriterSink(os.Stdout))
	defer dispatcher.Close()

	tokens := token.NewAuthority(store, signer, log.Named("token"))
	limiter := rate.New(store)

	svc, err := auth.NewService(auth.Deps{
		Users:  directory.NewMemory(),
		Hasher: hasher,
		Sessions: session.NewManager(store, session.Config{
			TTL:              cfg.Session.TTL,
			RefreshThreshold: cfg.Session.RefreshThreshold,
			MaxSessions:      cfg.Session.MaxPerUser,
		}, log.Named("session")),
		Tokens:  tokens,
		Csrf:    csrf.NewAuthority(store, 0),
		Devices: device.NewRegistry(store, 0),
		Lockout: lockout.NewPolicy(store, lockout.Config{
			Threshold: cfg.Lockout.Threshold,
			LockFor:   cfg.Lockout.LockFor,
		}, log.Named("lockout")),
		Limiter:   limiter,
		Store:     store,
		Notifier:  notify.NewLogNotifier(log.Named("notify")),
		Audit:     dispatcher,
		Telemetry: tel,
		Logger:    log.Named("auth"),
	})
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	go sweepExpiredTokens(ctx, tokens, tel, log.Named("sweep"))

	api := httpapi.NewServer(svc, store, limiter, httpapi.Config{
		CookieDomain: cfg.Cookie.Domain,
		CookieSecure: cfg.Cookie.Secure,
		Production:   cfg.Production(),
	}, log.Named("http"))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// sweepExpiredTokens removes refresh records past their retention grace
// once a day until the context is canceled.
func sweepExpiredTokens(ctx context.Context, tokens *token.Authority, tel telemetry.Telemetry, log *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, tokens, tel, log)
		}
	}
}

func sweepOnce(ctx context.Context, tokens *token.Authority, tel telemetry.Telemetry, log *zap.Logger) {
	removed, err := tokens.CleanupExpired(ctx)
	if err != nil {
		log.Warn("token sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		tel.Add(telemetry.MetricTokenSweepRemoved, int64(removed))
		log.Info("token sweep", zap.Int("removed", removed))
	}
}
