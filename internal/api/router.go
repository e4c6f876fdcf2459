package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ragrelay/ragrelay/internal/search"
	"github.com/ragrelay/ragrelay/pkg/config"
	"github.com/ragrelay/ragrelay/pkg/health"
	"github.com/ragrelay/ragrelay/pkg/metrics"
	"github.com/ragrelay/ragrelay/pkg/resilience"
)

// NewRouter creates and configures the API router
func NewRouter(cfg *config.Config, searchService *search.Service, registry *resilience.Registry, healthService *health.Service, m *metrics.Metrics) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(ErrorHandlingMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	if m != nil {
		router.Use(m.GinMiddleware())
		router.GET("/metrics", m.Handler())
	}

	router.GET("/health", healthService.Handler())
	router.GET("/health/live", healthService.LivenessHandler())
	router.GET("/health/ready", healthService.ReadinessHandler())

	router.GET("/api/v1", func(c *gin.Context) {
		SuccessResponse(c, map[string]interface{}{
			"name":    "RagRelay API",
			"version": "1.0.0",
			"status":  "ok",
		})
	})

	searchHandler := NewSearchHandler(searchService)
	servicesHandler := NewServicesHandler(registry)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/search", searchHandler.Search)

		services := v1.Group("/services")
		{
			services.GET("", servicesHandler.List)
			services.POST("/:name/reset", servicesHandler.Reset)
		}
	}

	return router
}
