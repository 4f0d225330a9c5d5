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

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/freddennis10/astra-app-sub001/internal/auth"
	"github.com/freddennis10/astra-app-sub001/internal/config"
	"github.com/freddennis10/astra-app-sub001/internal/credential"
	"github.com/freddennis10/astra-app-sub001/internal/notify"
	"github.com/freddennis10/astra-app-sub001/internal/router"
	"github.com/freddennis10/astra-app-sub001/internal/token"
	"github.com/freddennis10/astra-app-sub001/internal/tokenstore"
	"github.com/freddennis10/astra-app-sub001/internal/user"
	userrepo "github.com/freddennis10/astra-app-sub001/internal/user/repo"
	"github.com/freddennis10/astra-app-sub001/pkg/database"
	"github.com/freddennis10/astra-app-sub001/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting auth service", "env", cfg.Environment, "addr", cfg.HTTPAddr)

	if err := utilities.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		sugar.Warnw("sentry disabled", "err", err)
	}
	defer utilities.FlushSentry()

	if err := run(cfg, sugar); err != nil {
		sugar.Errorw("service stopped with error", "err", err)
		lg.Sync()
		os.Exit(1)
	}
	sugar.Info("goodbye")
}

func run(cfg *config.Config, sugar *zap.SugaredLogger) (err error) {
	// init db
	dbCfg := database.ConfigFromEnv()
	dbCfg.DSN = cfg.DatabaseURL
	db, err := database.ConnectX(dbCfg)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	if err := database.Migrate(db.DB); err != nil {
		return err
	}

	checks := map[string]router.Pinger{}
	var store tokenstore.Store
	switch cfg.TokenStore {
	case "memory":
		mem := tokenstore.NewMemoryStore(nil)
		sweepCtx, stopSweep := context.WithCancel(context.Background())
		defer stopSweep()
		go mem.Run(sweepCtx, time.Minute)
		store = mem
		sugar.Warn("TOKEN_STORE=memory; tokens are lost on restart and not shared between replicas")
	default:
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.RedisAddr},
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { err = multierr.Append(err, rdb.Close()) }()
		rs := tokenstore.NewRedisStore(rdb, cfg.DependencyTimeout)

		pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DependencyTimeout)
		if err := rs.Ping(pingCtx); err != nil {
			// the service starts anyway and answers 503 until redis is back
			sugar.Warnw("redis not reachable at startup", "addr", cfg.RedisAddr, "err", err)
		}
		cancel()
		store = rs
		checks["redis"] = rs
	}

	var notifier notify.Notifier = notify.NewLogNotifier(sugar)
	if cfg.NATSURL != "" {
		nc, cerr := notify.Connect(cfg.NATSURL, "astra-auth")
		if cerr != nil {
			return fmt.Errorf("nats connect: %w", cerr)
		}
		defer func() { err = multierr.Append(err, nc.Drain()) }()
		notifier = notify.NewNATSNotifier(nc, cfg.MailSubject)
	} else {
		sugar.Info("NATS_URL not set; outbound mail is logged only")
	}

	hasher, err := credential.New(cfg.PasswordHashAlgo, cfg.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := token.NewIssuer(token.Config{
		AccessSecret:  []byte(cfg.AccessSecret),
		RefreshSecret: []byte(cfg.RefreshSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
		Issuer:        "astra-auth",
		Leeway:        cfg.TokenClockSkew,
	}, nil)
	if err != nil {
		return err
	}

	users := userrepo.NewUserRepo(db)
	checks["database"] = users
	svc, err := auth.NewService(auth.Deps{
		Users:    users,
		Store:    store,
		Hasher:   hasher,
		Tokens:   tokens,
		Notifier: notifier,
		IDs:      utilities.NewIDGenerator(utilities.NodeFromEnv()),
		Logger:   sugar,
	}, auth.Options{
		VerificationTTL:   cfg.VerificationTTL,
		PasswordResetTTL:  cfg.PasswordResetTTL,
		BlacklistCeiling:  cfg.BlacklistCeiling,
		DependencyTimeout: cfg.DependencyTimeout,
		BaseURL:           cfg.BaseURL,
		Password:          cfg.Password,
	})
	if err != nil {
		return err
	}
	defer svc.Wait()

	handler := router.RegisterRoutes(sugar, router.Deps{
		Auth:       auth.NewHandler(svc, sugar),
		Middleware: auth.NewMiddleware(svc, sugar),
		Limiter:    auth.NewRateLimiter(store, cfg.RateLimitMax, cfg.RateLimitWindow, nil, sugar),
		Users:      user.NewHandler(user.NewService(users, cfg.DependencyTimeout), sugar),
		Checks:     checks,
	})

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	sugar.Infow("http server listening", "addr", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		sugar.Info("shutting down")
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
