package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/otcheredev/pacs-node/internal/cache"
	"github.com/otcheredev/pacs-node/internal/config"
	"github.com/otcheredev/pacs-node/internal/database"
	"github.com/otcheredev/pacs-node/internal/handlers"
	"github.com/otcheredev/pacs-node/internal/metrics"
	"github.com/otcheredev/pacs-node/internal/middleware"
	"github.com/otcheredev/pacs-node/internal/repository"
	"github.com/otcheredev/pacs-node/internal/services"
	"github.com/otcheredev/pacs-node/pkg/dimse"
	"github.com/otcheredev/pacs-node/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting PACS node")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := os.MkdirAll(cfg.DICOM.StorageDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DICOM.StorageDir).Msg("Failed to create storage directory")
	}

	// Initialize cache
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Type == "redis" {
			addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to connect to Redis")
			}
			log.Info().Msg("Redis cache initialized")
		} else {
			cacheImpl = cache.NewMemoryCache()
			log.Info().Msg("Memory cache initialized")
		}
	} else {
		cacheImpl = cache.NewMemoryCache() // Fallback
		log.Info().Msg("Cache disabled, using memory cache as fallback")
	}
	defer cacheImpl.Close()

	// Initialize repositories
	instanceRepo := repository.NewInstanceRepository()
	aeRepo := repository.NewKnownAERepository()
	assocRepo := repository.NewAssociationRepository()

	// Initialize metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Initialize services
	queryService := services.NewQueryService(instanceRepo, cacheImpl, cfg.DICOM.AETitle)
	storageService := services.NewStorageService(cfg.DICOM.StorageDir, instanceRepo, cacheImpl, m)
	aeService := services.NewAEService(aeRepo, cacheImpl, cfg.DICOM.AETitle, cfg.DICOM.Timeout)
	observer := services.NewNodeObserver(services.NewAuditService(assocRepo), m)

	// Start the DICOM listener
	dimseLog := logger.With("dimse")
	dimseServer, err := dimse.NewServer(dimse.ServerConfig{
		AETitle:         cfg.DICOM.AETitle,
		MaxAssociations: int64(cfg.DICOM.MaxAssociations),
		MaxPDULength:    uint32(cfg.DICOM.MaxPDULength),
		Timeout:         cfg.DICOM.Timeout,
		Query:           queryService,
		Store:           storageService,
		Resolver:        aeService,
		Observer:        observer,
		Logger:          &dimseLog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure DICOM server")
	}

	dimseCtx, stopDimse := context.WithCancel(context.Background())
	defer stopDimse()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.DICOM.Host, cfg.DICOM.Port)
		if err := dimseServer.ListenAndServe(dimseCtx, addr); err != nil && dimseCtx.Err() == nil {
			log.Fatal().Err(err).Msg("DICOM server failed")
		}
	}()

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cacheImpl)
	managementHandler := handlers.NewManagementHandler(aeService, instanceRepo, assocRepo)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Management API
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/peers", managementHandler.CreatePeer)
		r.Get("/peers", managementHandler.ListPeers)
		r.Get("/peers/{id}", managementHandler.GetPeer)
		r.Put("/peers/{id}", managementHandler.UpdatePeer)
		r.Delete("/peers/{id}", managementHandler.DeletePeer)
		r.Post("/peers/{id}/echo", managementHandler.EchoPeer)

		r.Get("/instances", managementHandler.ListInstances)
		r.Get("/instances/{sopInstanceUID}", managementHandler.GetInstance)
		r.Get("/instances/{sopInstanceUID}/file", managementHandler.DownloadInstance)

		r.Get("/associations", managementHandler.ListAssociations)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	stopDimse()
	dimseServer.Shutdown()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
