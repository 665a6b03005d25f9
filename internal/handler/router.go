package handler

import (
	"net/http"

	"manifest/internal/middleware"
	"manifest/internal/observability"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BuildInfo is reported by /health and /version
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// RouterOptions holds the cross-cutting pieces of the router
type RouterOptions struct {
	AllowedOrigins string
	// Auth guards the API routes when set
	Auth    gin.HandlerFunc
	Logger  *zap.Logger
	Metrics *observability.Collector
	Build   BuildInfo
}

// NewRouter builds the gin engine with every route registered
func NewRouter(match *MatchHandler, intentions *IntentionHandler, opts RouterOptions) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic while serving request", zap.String("path", c.Request.URL.Path), zap.Any("panic", recovered))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
	}))
	router.Use(middleware.Logger(logger))
	if opts.Metrics != nil {
		router.Use(middleware.Metrics(opts.Metrics))
	}

	corsConfig := cors.DefaultConfig()
	if opts.AllowedOrigins == "" || opts.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{opts.AllowedOrigins}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization", "apikey", "x-client-info"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":     "healthy",
			"service":    "intention-matcher",
			"version":    opts.Build.Version,
			"build_time": opts.Build.BuildTime,
			"git_commit": opts.Build.GitCommit,
		})
	})
	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, opts.Build)
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))
	}

	guarded := []gin.HandlerFunc{}
	if opts.Auth != nil {
		guarded = append(guarded, opts.Auth)
	}

	api := router.Group("/api", guarded...)
	api.Any("/match", match.Match)

	apiV1 := router.Group("/api/v1", guarded...)
	{
		apiV1.Any("/match", match.Match)

		apiV1.POST("/intentions", intentions.Create)
		apiV1.GET("/intentions", intentions.Timeline)
		apiV1.GET("/intentions/:id", intentions.Get)
		apiV1.POST("/intentions/:id/comments", intentions.AddComment)
		apiV1.GET("/groups/:id", intentions.Group)

		apiV1.POST("/embeddings/backfill", intentions.Backfill)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
	})

	return router
}
