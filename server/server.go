package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"StepFM/cache"
	"StepFM/config"
	"StepFM/core/live"
	"StepFM/db"
	"StepFM/logger"
	"StepFM/model"
	"StepFM/repository"
	"StepFM/storage"

	"github.com/gorilla/mux"
)

// Start initializes dependencies and runs the HTTP server until interrupted.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogPath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("failed to connect to database", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrateModels(&model.Session{}); err != nil {
		logger.Fatal("failed to migrate database", logger.ErrorField(err))
	}

	// Redis and MinIO are optional collaborators: without Redis the live
	// engine loses its presence mirror and warm restarts, without MinIO the
	// sample endpoints 404. The sync engine itself keeps working.
	var mirror live.SessionMirror
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, running without presence mirror", logger.ErrorField(err))
	} else {
		defer db.CloseRedis()
		mirror = cache.NewLiveCache()
	}

	minioReady := true
	if err := storage.InitMinio(cfg); err != nil {
		minioReady = false
		logger.Warn("MinIO unavailable, sample assets disabled", logger.ErrorField(err))
	}

	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	defer cancelWatcher()
	if minioReady && cfg.SampleLibraryDir != "" {
		watcher := storage.NewSampleWatcher(cfg.SampleLibraryDir, cfg.MinioBucket)
		go func() {
			if err := watcher.Run(watcherCtx); err != nil {
				logger.Warn("sample watcher stopped", logger.ErrorField(err))
			}
		}()
	}

	sessionRepo := repository.NewGormSessionRepository(db.GormDB)
	liveManager := live.NewLiveManager(sessionRepo, mirror, live.ActorConfig{
		StepsPerTrack:  cfg.StepsPerTrack,
		StaleThreshold: cfg.StaleConnectionThreshold,
		PruneInterval:  cfg.PruneCheckInterval,
		EvictGrace:     cfg.SessionEvictGrace,
	})

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	RegisterSessionRoutes(router, NewSessionHandler(sessionRepo, liveManager))
	RegisterSampleRoutes(router, NewSampleHandler(cfg))
	RegisterDebugRoutes(router, NewDebugHandler(liveManager))
	router.HandleFunc("/api/health", healthHandler).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", logger.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("shutting down server")

	// stop actors first so each persists its state before the process exits
	liveManager.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("server stopped")
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
