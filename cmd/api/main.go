package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/reserve/internal/api"
	"github.com/your-org/reserve/internal/api/ws"
	"github.com/your-org/reserve/internal/blob"
	"github.com/your-org/reserve/internal/classifier"
	"github.com/your-org/reserve/internal/config"
	"github.com/your-org/reserve/internal/description"
	"github.com/your-org/reserve/internal/models"
	"github.com/your-org/reserve/internal/observability"
	"github.com/your-org/reserve/internal/queue"
	"github.com/your-org/reserve/internal/storage"
	"github.com/your-org/reserve/internal/upload"
	"github.com/your-org/reserve/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting reserve API service", "port", cfg.Server.Port, "classifier", cfg.Classifier.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// Object storage is optional; without it images are served from disk only.
	var minioStore *storage.MinIOStore
	if cfg.MinIO.Enabled() {
		minioStore, err = storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Error("ensure bucket", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("minio not configured, image archive disabled")
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Error("ensure streams", "error", err)
		os.Exit(1)
	}

	// WebSocket hub fed from the sightings stream
	hub := ws.NewHub()
	go hub.Run(ctx)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create feed consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeFeed(ctx, "api-feed", func(ctx context.Context, ev models.SightingEvent) error {
		return hub.BroadcastSighting(ctx, toWSEvent(ev))
	})
	if err != nil {
		slog.Error("start feed consumer", "error", err)
		os.Exit(1)
	}

	blobs, err := blob.NewStore(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		slog.Error("open upload dir", "error", err)
		os.Exit(1)
	}

	cls, closeClassifier, err := newClassifier(cfg.Classifier)
	if err != nil {
		slog.Error("init classifier", "backend", cfg.Classifier.Backend, "error", err)
		os.Exit(1)
	}
	defer closeClassifier()

	resolver := description.NewResolver(cfg.Description)
	pipeline := upload.NewService(blobs, cls, resolver, db, producer)

	router := api.NewRouter(api.RouterConfig{
		Server:   cfg.Server,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Hub:      hub,
		Pipeline: pipeline,
		Blobs:    blobs,
		MaxBytes: cfg.Uploads.MaxBytes,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // covers a full classifier run
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// newClassifier builds the configured backend. The returned func releases
// backend resources and is always safe to call.
func newClassifier(cfg config.ClassifierConfig) (classifier.Classifier, func(), error) {
	switch cfg.Backend {
	case "onnx":
		ort.SetSharedLibraryPath(getONNXLibPath())
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
		c, err := classifier.NewONNXClassifier(cfg)
		if err != nil {
			ort.DestroyEnvironment()
			return nil, nil, err
		}
		slog.Info("onnx classifier loaded", "model", cfg.ModelPath, "classes", cfg.NumClasses)
		return c, func() {
			c.Close()
			ort.DestroyEnvironment()
		}, nil
	default:
		slog.Info("process classifier configured", "command", cfg.Command, "timeout", cfg.Timeout)
		return classifier.NewProcessClassifier(cfg), func() {}, nil
	}
}

func toWSEvent(ev models.SightingEvent) *dto.WSEvent {
	return &dto.WSEvent{
		Type:        "sighting_created",
		SightingID:  ev.SightingID,
		UserID:      ev.UserID,
		Username:    ev.Username,
		SpeciesName: ev.SpeciesName,
		ImageURL:    "/uploads/" + ev.ImageFilename,
		Latitude:    ev.Latitude,
		Longitude:   ev.Longitude,
		CreatedAt:   ev.CreatedAt.Format(time.RFC3339),
	}
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
