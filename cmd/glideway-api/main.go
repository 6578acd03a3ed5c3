// README: Entry point; loads config, wires stores, notifiers and services, and serves HTTP until signalled.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"glideway/internal/config"
	httptransport "glideway/internal/http"
	"glideway/internal/infra"
	"glideway/internal/logging"
	"glideway/internal/maps"
	"glideway/internal/modules/notify"
	"glideway/internal/modules/poolride"
	"glideway/internal/modules/pricing"
	"glideway/internal/realtime"
	"glideway/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("glideway-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var fbApp *firebase.App
	if cfg.Auth.Provider == "firebase" || cfg.Notify.FCM {
		app, err := infra.NewFirebaseApp(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentialsFile)
		if err != nil {
			return err
		}
		fbApp = app
	}

	var verifier infra.TokenVerifier
	if cfg.Auth.Provider == "firebase" {
		v, err := infra.NewFirebaseVerifier(ctx, fbApp)
		if err != nil {
			return err
		}
		verifier = v
	} else {
		verifier = infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	}

	checks := map[string]httptransport.HealthCheck{}
	deps := poolride.Deps{Config: cfg.PoolRide, Logger: log}
	var (
		db          *pgxpool.Pool
		redisClient *redis.Client
	)

	switch cfg.DB.Driver {
	case "postgres":
		var err error
		db, err = infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.DB.RunMigrations {
			if err := migrations.Apply(ctx, db); err != nil {
				return err
			}
			log.Info("migrations applied")
		}
		checks["postgres"] = db.Ping

		redisClient, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }

		deps.Store = poolride.NewStore(db)
		deps.Index = poolride.NewRedisGeoIndex(redisClient)
	default:
		log.Warn("using in-memory storage; data is lost on restart")
		deps.Store = poolride.NewMemoryStore()
		deps.Index = poolride.NewMemoryGeoIndex()
	}

	notifiers := notify.NewMulti(log)
	if redisClient != nil {
		notifiers.Add("redis", notify.NewRedisPublisher(redisClient))
	}
	if cfg.Notify.FCM {
		fcm, err := notify.NewFCMNotifier(ctx, fbApp)
		if err != nil {
			return err
		}
		notifiers.Add("fcm", fcm)
	}
	if notifiers.Len() > 0 {
		deps.Notifier = notifiers
	}

	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		deps.Routes = routes
	}
	if db != nil {
		deps.Pricing = pricing.NewService(pricing.NewStore(db), cfg.PoolRide.Currency)
	} else {
		deps.Pricing = pricing.NewService(nil, cfg.PoolRide.Currency)
	}

	svc := poolride.NewService(deps)
	if n, err := svc.ReindexActive(ctx); err != nil {
		log.Warn("proximity reindex failed", "error", err)
	} else {
		log.Info("proximity index rebuilt", "offers", n)
	}

	var feed *realtime.Feed
	if redisClient != nil {
		feed = realtime.NewFeed(realtime.NewRedisSubscriber(redisClient), log, originChecker(cfg.HTTP.AllowedOrigins))
	}

	api := httptransport.NewServer(httptransport.ServerDeps{
		PoolRides:      svc,
		Verifier:       verifier,
		Feed:           feed,
		Logger:         log,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Checks:         checks,
	})
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.Routes()}

	errCh := make(chan error, 1)
	go func() {
		log.Info("glideway-api listening", "addr", cfg.HTTP.Addr, "db", cfg.DB.Driver, "auth", cfg.Auth.Provider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.HTTP.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// originChecker mirrors the CORS allow-list for websocket upgrades. A wildcard
// list returns nil so every origin is accepted.
func originChecker(origins []string) func(*http.Request) bool {
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			return nil
		}
		allowed[o] = true
	}
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
