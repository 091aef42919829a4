// Command server runs the job-board chat API: REST endpoints for
// conversations, messages and inbox views plus the live delivery gateway.
//
// @title                      Job-board Chat API
// @version                    1.0
// @description                Conversations between candidates and companies, with live delivery over websockets.
// @BasePath                   /api/v1
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-jobboard-chat/internal/auth"
	"github.com/tbourn/go-jobboard-chat/internal/cache"
	"github.com/tbourn/go-jobboard-chat/internal/config"
	"github.com/tbourn/go-jobboard-chat/internal/gateway"
	httpapi "github.com/tbourn/go-jobboard-chat/internal/http"
	"github.com/tbourn/go-jobboard-chat/internal/observability"
	"github.com/tbourn/go-jobboard-chat/internal/repo"
	"github.com/tbourn/go-jobboard-chat/internal/sysutil"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logger := sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("otel setup")
	}

	db, err := repo.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := observability.InstrumentDB(db); err != nil {
			logger.Warn().Err(err).Msg("gorm tracing disabled")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	deps := httpapi.Deps{
		DB:             db,
		Authn:          newAuthenticator(cfg.Auth),
		GatewayMetrics: gateway.NewMetrics(prometheus.DefaultRegisterer),
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		rdb, err = cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		node := sysutil.NodeID()
		deps.Cache = cache.NewRedis(rdb, cfg.Redis.CachePrefix)
		deps.Relay = gateway.NewRedisRelay(rdb, cfg.Redis.RelayChannel, node)
		logger.Info().Str("node", node).Str("channel", cfg.Redis.RelayChannel).Msg("redis relay enabled")
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	gw := httpapi.RegisterRoutes(r, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Str("db", cfg.Database.Driver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := gw.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by srv.Shutdown.
		gw.Shutdown()
		err := srv.Shutdown(shCtx)
		if rdb != nil {
			_ = rdb.Close()
		}
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		if otelErr := shutdownOTel(shCtx); otelErr != nil {
			logger.Warn().Err(otelErr).Msg("otel shutdown")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("bye")
}

// newAuthenticator verifies bearer tokens when a secret is configured and
// optionally accepts raw principal headers for local development.
func newAuthenticator(cfg config.AuthConfig) *auth.Authenticator {
	a := &auth.Authenticator{DevHeaders: cfg.DevHeaders}
	if cfg.JWTSecret != "" {
		a.Verifier = auth.NewVerifier(cfg.JWTSecret)
	}
	if a.Verifier == nil && !a.DevHeaders {
		log.Warn().Msg("no JWT secret and dev headers disabled: every request will be rejected")
	}
	return a
}
