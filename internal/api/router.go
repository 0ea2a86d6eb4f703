package api

import (
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/photofinder/internal/api/handlers"
	"github.com/your-org/photofinder/internal/api/ws"
	"github.com/your-org/photofinder/internal/auth"
)

// Store is the relational store behind the API; *storage.PostgresStore satisfies it.
type Store interface {
	handlers.EventStore
	handlers.PhotoStore
	handlers.RemovalStore
}

type RouterConfig struct {
	APIKey string
	Logger *slog.Logger

	Store     Store
	Images    handlers.ImageStore
	Photos    handlers.PhotoPipeline
	Search    handlers.Searcher
	Removals  handlers.RemovalPublisher
	Hub       *ws.Hub
	Readiness []handlers.HealthCheck

	// UploadPool runs batch upload files concurrently; nil ingests them in turn.
	UploadPool     *ants.Pool
	MaxUploadBytes int64
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "X-API-Key", requestIDHeader},
		ExposeHeaders:   []string{requestIDHeader},
	}))
	if cfg.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = cfg.MaxUploadBytes
	}

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Readiness...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Events
	eventH := handlers.NewEventHandler(cfg.Store)
	v1.POST("/events", eventH.Create)
	v1.GET("/events", eventH.List)
	v1.GET("/events/:id", eventH.Get)
	v1.PATCH("/events/:id/status", eventH.UpdateStatus)

	// Photos
	photoH := handlers.NewPhotoHandler(cfg.Photos, cfg.Store, cfg.Images, cfg.UploadPool, cfg.MaxUploadBytes)
	v1.POST("/events/:id/photos", photoH.Upload)
	v1.POST("/events/:id/photos/batch", photoH.BatchUpload)
	v1.GET("/events/:id/photos", photoH.List)
	v1.GET("/photos/:id", photoH.Get)
	v1.DELETE("/photos/:id", photoH.Delete)
	v1.GET("/photos/:id/image", photoH.Image)
	v1.GET("/photos/:id/url", photoH.URL)

	// Search
	searchH := handlers.NewSearchHandler(cfg.Search, cfg.MaxUploadBytes)
	v1.POST("/search/face", searchH.Search)

	// Removal requests
	removalH := handlers.NewRemovalHandler(cfg.Store, cfg.Removals)
	v1.POST("/removal-requests", removalH.Create)
	v1.GET("/removal-requests", removalH.List)
	v1.GET("/removal-requests/:id", removalH.Get)
	v1.POST("/removal-requests/:id/approve", removalH.Approve)
	v1.POST("/removal-requests/:id/reject", removalH.Reject)
	v1.DELETE("/removal-requests/:id", removalH.Delete)

	return r
}
