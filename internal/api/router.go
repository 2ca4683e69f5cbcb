package api

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/reserve/internal/api/handlers"
	"github.com/your-org/reserve/internal/api/ws"
	"github.com/your-org/reserve/internal/auth"
	"github.com/your-org/reserve/internal/blob"
	"github.com/your-org/reserve/internal/config"
	"github.com/your-org/reserve/internal/queue"
	"github.com/your-org/reserve/internal/storage"
	"github.com/your-org/reserve/internal/upload"
)

type RouterConfig struct {
	Server   config.ServerConfig
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore // nil when object storage is disabled
	Producer *queue.Producer
	Hub      *ws.Hub
	Pipeline *upload.Service
	Blobs    *blob.Store
	MaxBytes int64
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())
	r.Use(sessions.Sessions(cfg.Server.SessionName,
		auth.NewSessionStore([]byte(cfg.Server.SessionSecret), cfg.Server.SecureCookie)))

	// System endpoints (no auth)
	checks := []handlers.ReadyCheck{
		{Name: "postgres", Check: cfg.DB.Ping},
		{Name: "nats", Check: func(context.Context) error { return cfg.Producer.Ping() }},
	}
	var archive handlers.Archive
	if cfg.MinIO != nil {
		archive = cfg.MinIO
		checks = append(checks, handlers.ReadyCheck{Name: "minio", Check: cfg.MinIO.Ping})
	}
	systemH := handlers.NewSystemHandler(checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	userH := handlers.NewUserHandler(cfg.DB)
	sightingH := handlers.NewSightingHandler(cfg.Pipeline, cfg.DB, cfg.Blobs, archive, cfg.MaxBytes)
	commentH := handlers.NewCommentHandler(cfg.DB)
	likeH := handlers.NewLikeHandler(cfg.DB)
	contactH := handlers.NewContactHandler(cfg.DB)

	// Public
	r.POST("/users/register", userH.Register)
	r.POST("/users/login", userH.Login)
	r.POST("/users/logout", userH.Logout)
	r.POST("/contact", contactH.Submit)
	r.GET("/api/points", handlers.Points)
	r.GET("/sightings/:id/comments", commentH.List)
	r.GET("/sightings/:id/likes", likeH.Count)

	// Logged-in users
	authed := r.Group("/")
	authed.Use(auth.RequireUser())

	authed.GET("/ws", cfg.Hub.HandleWS)
	authed.GET("/users/me", userH.Me)

	authed.POST("/detect_species", sightingH.DetectSpecies)
	authed.POST("/users/finalize-sighting", sightingH.Finalize)
	authed.GET("/sightings", sightingH.List)
	authed.GET("/search", sightingH.Search)
	authed.DELETE("/sightings/:id", sightingH.Delete)
	authed.GET("/uploads/:filename", sightingH.ServeImage)

	authed.POST("/sightings/:id/comments", commentH.Add)
	authed.DELETE("/sightings/:id/comments/:commentId", commentH.Delete)
	authed.POST("/sightings/:id/like", likeH.Like)
	authed.POST("/sightings/:id/unlike", likeH.Unlike)

	return r
}
