package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feedmeta/harvester/internal/cache"
	"github.com/feedmeta/harvester/internal/db"
	"github.com/feedmeta/harvester/pkg/logging"
	"github.com/feedmeta/harvester/pkg/telemetry"
)

// Router sets up API routes
type Router struct {
	db      *db.DB
	repo    *db.Repository
	cache   *cache.Cache
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// NewRouter creates a new API router. redisCache and metrics may be nil.
func NewRouter(database *db.DB, redisCache *cache.Cache, metrics *telemetry.Metrics) *Router {
	return &Router{
		db:      database,
		repo:    db.NewRepository(database.DB),
		cache:   redisCache,
		metrics: metrics,
		logger:  logging.WithComponent("api-router"),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	// Health check endpoints
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.GET("/items", r.itemsHandler)
	engine.POST("/items", r.itemsHandler)
	engine.GET("/users/:name/score", r.scoreHandler)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := r.db.Health(ctx); err != nil {
		r.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "ERROR",
			"service": "harvester-api",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "OK",
		"service": "harvester-api",
	})
}

func (r *Router) fail(c *gin.Context, err *Error) {
	c.AbortWithStatusJSON(err.Code, err)
}
