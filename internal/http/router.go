// Package httpapi wires the HTTP transport (Gin) to the application
// services, the live delivery gateway, middleware and route handlers. It
// centralizes cross-cutting concerns: tracing, correlation IDs, logging
// with redaction, panic recovery, metrics, compression, CORS, security
// headers, authentication, idempotency and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-jobboard-chat/docs"
	"github.com/tbourn/go-jobboard-chat/internal/cache"
	"github.com/tbourn/go-jobboard-chat/internal/config"
	"github.com/tbourn/go-jobboard-chat/internal/gateway"
	"github.com/tbourn/go-jobboard-chat/internal/http/handlers"
	"github.com/tbourn/go-jobboard-chat/internal/http/middleware"
	"github.com/tbourn/go-jobboard-chat/internal/repo"
	"github.com/tbourn/go-jobboard-chat/internal/services"
)

// wsPath is the gateway endpoint. It lives outside the API base path, is
// never compressed and authenticates on its own.
const wsPath = "/ws"

// Deps are the collaborators RegisterRoutes does not build itself. Only DB
// and Authn are required.
type Deps struct {
	DB *gorm.DB
	// Authn resolves principals for the REST group and the websocket
	// handshake.
	Authn middleware.Authenticator

	// Cache memoizes conversation lists; nil disables caching.
	Cache cache.Cache
	// Relay fans broadcasts out to other nodes; nil keeps them local.
	Relay gateway.Relay
	// GatewayMetrics is optional.
	GatewayMetrics *gateway.Metrics
}

// RegisterRoutes attaches all middleware and endpoints to r and returns the
// gateway server so the caller can run its relay and close it on shutdown.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID, ContextLogger: correlation id and request-scoped logger
//  3. RedactingLogger: access log with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics (+ /metrics)
//  7. gzip (never on /ws), CORS and security headers
//
// Within the API group: Authenticate, then Idempotency validation (so the
// replay lookup is scoped to the principal), then the rate limiter (which
// lets replays through).
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) *gateway.Server {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())
	r.Use(middleware.ContextLogger())

	// 3) Structured access logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression, CORS, security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{wsPath, "/metrics"})))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services <- repo/db/cache, gateway <- services
	store := repo.Store{}
	hub := gateway.NewHub(deps.GatewayMetrics)

	convSvc := services.NewConversationService(deps.DB, store)
	if deps.Cache != nil {
		convSvc.Cache = deps.Cache
	}
	if cfg.Redis.CacheTTL > 0 {
		convSvc.CacheTTL = cfg.Redis.CacheTTL
	}

	msgSvc := services.NewMessageService(deps.DB, store, store)
	msgSvc.MaxContentRunes = cfg.MaxContentRunes
	if cfg.DefaultPageSize > 0 {
		msgSvc.DefaultPageSize = cfg.DefaultPageSize
	}
	if cfg.MaxPageSize > 0 {
		msgSvc.MaxPageSize = cfg.MaxPageSize
	}

	inboxSvc := &services.InboxService{DB: deps.DB, Profiles: store, Messages: store}

	gw := gateway.NewServer(gateway.Config{
		SendTimeout:    cfg.Gateway.SendTimeout,
		EventRate:      cfg.Gateway.EventRate,
		EventBurst:     cfg.Gateway.EventBurst,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	}, hub, convSvc, msgSvc, deps.Authn)
	if deps.Relay != nil {
		gw.Relay = deps.Relay
	}
	// Room changes go through the gateway so other nodes see them too.
	convSvc.Rooms = gw
	r.GET(wsPath, gw.Handle())

	h := handlers.New(convSvc, msgSvc, inboxSvc, handlers.Options{
		DB:              deps.DB,
		IdempotencyTTL:  cfg.IdempotencyTTL,
		Live:            gw,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP())

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(
		middleware.Authenticate(deps.Authn),
		middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			func(ctx context.Context, principalKey, conversationID, key string, now time.Time) (bool, error) {
				rec, err := repo.GetIdempotency(ctx, deps.DB, principalKey, conversationID, key, now)
				if err != nil || rec == nil {
					return false, nil
				}
				return true, nil
			},
		),
		rl.Handler(),
	)
	{
		// Conversations
		api.GET("/conversations", h.ListConversations)
		api.POST("/conversations", h.OpenConversation)
		api.GET("/conversations/:id", h.GetConversation)
		api.PATCH("/conversations/:id", h.UpdateConversation)
		api.DELETE("/conversations/:id", h.DeleteConversation)

		// Messages
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.PostMessage)
		api.GET("/conversations/:id/messages/recent", h.RecentMessages)
		api.GET("/conversations/:id/messages/all", h.AllMessages)

		// Inbox read models
		api.GET("/conversations-with-last-message", h.ConversationsWithLastMessage)
		api.GET("/conversations-with-messages", h.ConversationsWithMessages)
	}

	return gw
}

// corsMiddleware returns the CORS chain. Without an allowlist every origin
// is accepted (credentials stay off); with one, the request Origin is echoed
// when listed.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		"If-None-Match", middleware.HeaderIdempotencyKey,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
	methods := []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps the request body size at maxBytes using
// http.MaxBytesReader. Oversized bodies fail when handlers read them.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
