package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/VideoAccessLedger/internal/identity"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Options configures NewRouter.
type Options struct {
	CORSOrigins  []string
	RateLimitRPS int                             // 0 disables rate limiting
	Health       func(ctx context.Context) error // nil reports healthy
	AccessCache  AccessCache                     // nil queries the ledger directly
}

// NewRouter builds the gateway's gin engine: recovery, CORS, security
// headers, body limit, rate limiting, request logging, metrics and the
// /api/v1 routes. ctx bounds background goroutines.
func NewRouter(ctx context.Context, svc LedgerService, tokens *identity.PrincipalIssuer, opts Options, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	if origins := opts.CORSOrigins; len(origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !containsWildcard(origins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	})

	if opts.RateLimitRPS > 0 {
		router.Use(RateLimiter(ctx, opts.RateLimitRPS, opts.RateLimitRPS*2))
	}
	router.Use(PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			if err := opts.Health(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", MetricsHandler())

	listings := NewListingHandler(svc, tokens, logger)
	if opts.AccessCache != nil {
		listings.SetAccessCache(opts.AccessCache)
	}
	v1 := router.Group("/api/v1")
	listings.Register(v1)
	NewEventsHandler(svc, tokens, logger).Register(v1)

	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
