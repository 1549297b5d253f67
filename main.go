package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PRESENCE/config"
	"PRESENCE/controllers/attempt"
	"PRESENCE/controllers/attendance"
	"PRESENCE/controllers/face"
	"PRESENCE/gallery"
	"PRESENCE/geofence"
	"PRESENCE/logger"
	"PRESENCE/models"
	"PRESENCE/presence"
	"PRESENCE/routes"
	"PRESENCE/scheduler"
	"PRESENCE/store"
	"PRESENCE/verification"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := logger.InitializeLogger(os.Getenv("ENV")); err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		})
		os.Exit(1)
	}
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	kv, faces, err := openStores(cfg)
	if err != nil {
		logger.Error("failed to open store", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		}, logger.LoggerOptions{
			Key:  "driver",
			Data: cfg.StoreDriver,
		})
		os.Exit(1)
	}

	specs := geofence.NewStoreSpecs(kv)
	if cfg.Geofence.SeedID != "" {
		err := specs.Put(context.Background(), geofence.Spec{
			ID:           cfg.Geofence.SeedID,
			CenterLat:    cfg.Geofence.SeedLat,
			CenterLng:    cfg.Geofence.SeedLng,
			RadiusMeters: cfg.Geofence.SeedRadiusMeters,
		})
		if err != nil {
			logger.Error("failed to seed geofence", logger.LoggerOptions{
				Key:  "error",
				Data: err,
			})
			os.Exit(1)
		}
	}

	lifecycle := presence.NewLifecycle(kv, presence.WithLocation(cfg.Location))
	registry := verification.NewRegistry()

	if err := routes.RegisterValidators(); err != nil {
		logger.Error("failed to register validators", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		})
		os.Exit(1)
	}
	router := routes.SetupRouter(cfg.JWTKey, routes.Handlers{
		Attendance: attendance.NewHandler(geofence.NewConfirmer(specs, lifecycle, cfg.Geofence.MarginMeters), lifecycle, cfg.Geofence.MaxFixAge),
		Face:       face.NewHandler(faces),
		Attempt: attempt.NewHandler(registry, verification.Deps{
			Gallery:  faces,
			Embedder: verification.PayloadEmbedder{Dim: cfg.EmbeddingDim},
			Marker:   lifecycle,
			Liveness: cfg.Liveness.Gate(),
			Matcher:  cfg.Matcher,
		}),
	})

	jobs, err := scheduler.New(cfg.Location, registry, presence.NewAuditor(kv), cfg.AttemptTTL, cfg.AuditAt, lifecycle.Today)
	if err != nil {
		logger.Error("failed to schedule jobs", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		})
		os.Exit(1)
	}
	jobs.Start()
	defer jobs.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server starting", logger.LoggerOptions{
			Key:  "port",
			Data: cfg.Port,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", logger.LoggerOptions{
				Key:  "error",
				Data: err,
			})
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", logger.LoggerOptions{
			Key:  "error",
			Data: err,
		})
	}
	logger.Info("server exited")
}

// openStores picks the keyed store backend and the gallery that goes with it.
func openStores(cfg *config.Config) (store.KeyedStore, gallery.Gallery, error) {
	switch cfg.StoreDriver {
	case "mysql":
		db, err := models.ConnectDatabase(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewGormStore(db), gallery.NewGormGallery(db, cfg.EmbeddingDim), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		kv := store.NewRedisStore(client)
		return kv, gallery.NewStoreGallery(kv, cfg.EmbeddingDim), nil
	default:
		logger.Warning("using in-memory store, data is lost on restart")
		kv := store.NewMemory()
		return kv, gallery.NewStoreGallery(kv, cfg.EmbeddingDim), nil
	}
}
