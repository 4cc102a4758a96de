package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/appshelf-backend/internal/catalog"
	"github.com/AnshRaj112/appshelf-backend/internal/config"
	"github.com/AnshRaj112/appshelf-backend/internal/database"
	"github.com/AnshRaj112/appshelf-backend/internal/docstore"
	"github.com/AnshRaj112/appshelf-backend/internal/editmode"
	"github.com/AnshRaj112/appshelf-backend/internal/handlers"
	"github.com/AnshRaj112/appshelf-backend/internal/identity"
	"github.com/AnshRaj112/appshelf-backend/internal/logger"
	"github.com/AnshRaj112/appshelf-backend/internal/middleware"
	"github.com/AnshRaj112/appshelf-backend/internal/routes"
	"github.com/AnshRaj112/appshelf-backend/internal/services"
	"github.com/AnshRaj112/appshelf-backend/internal/sharing"
)

const metricsNamespace = "appshelf"

func main() {
	// Load env
	envErr := godotenv.Load()

	// Load configuration
	cfg := config.Load()
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer func() { _ = log.Sync() }()

	if envErr != nil {
		log.Debug("No .env file found")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", logger.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Firebase (ID-token verification and/or Firestore)
	var fb *database.Firebase
	if cfg.UsesFirebase() {
		var err error
		fb, err = database.ConnectFirebase(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsPath, cfg.StoreBackend == config.StoreFirestore, log)
		if err != nil {
			log.Fatal("Failed to initialize Firebase", logger.Error(err))
		}
		defer fb.Close()
	}

	store, closeStore := openStore(ctx, cfg, fb, log)
	defer closeStore()

	// Redis-backed sessions, cache, edit state and event bus; in-memory without REDIS_URI
	var (
		rdb      *redis.Client
		sessions services.SessionStore
		cache    catalog.SnapshotCache
		states   editmode.StateStore
		bus      *services.EventBus
	)
	if cfg.RedisURI != "" {
		var err error
		rdb, err = database.ConnectRedis(cfg.RedisURI, log)
		if err != nil {
			log.Fatal("Failed to connect to Redis", logger.Error(err))
		}
		defer rdb.Close()
		sessions = services.NewRedisSessions(rdb, cfg.SessionTTL)
		cache = services.NewRedisSnapshotCache(rdb, cfg.SnapshotCacheTTL)
		states = editmode.NewRedisStateStore(rdb, cfg.SessionTTL)
		bus = services.NewEventBus(rdb, log)
	} else {
		log.Warn("REDIS_URI not set: sessions, cache and edit state are kept in memory")
		sessions = services.NewMemorySessions(cfg.SessionTTL)
		cache = services.NewMemorySnapshotCache(cfg.SnapshotCacheTTL)
		states = editmode.NewMemoryStateStore()
	}

	defaults, err := catalog.LoadDefaults(cfg.DefaultCatalogFile)
	if err != nil {
		log.Fatal("Failed to load default catalog", logger.Error(err))
	}
	log.Info("Default catalog loaded", logger.Int("tools", len(defaults)))

	metrics := middleware.NewMetrics(metricsNamespace)
	gate := editmode.NewGate(states, log)
	directory := identity.NewDirectory(store, log)

	registryOpts := catalog.RegistryOptions{
		Repo:     catalog.NewRepository(store),
		Auth:     gate,
		Cache:    cache,
		Defaults: defaults,
		Observer: metrics.ObserveCatalogEvent,
		Logger:   log,
		IdleTTL:  cfg.ControllerIdleTTL,
	}
	if bus != nil {
		registryOpts.Publisher = bus
	}
	registry := catalog.NewRegistry(registryOpts)
	defer registry.Close()
	metrics.WatchControllers(metricsNamespace, registry)

	h := &handlers.Handler{
		Catalogs:  registry,
		Gate:      gate,
		Directory: directory,
		Sessions:  sessions,
		Sharing: sharing.NewService(sharing.Options{
			Users:    directory,
			Catalogs: registry,
			Cache:    cache,
			BaseURL:  cfg.PublicBaseURL,
			Logger:   log,
		}),
		Uploader:       openUploader(ctx, cfg, log),
		Metrics:        metrics,
		AllowedOrigins: cfg.AllowedOrigins,
		SecureCookies:  cfg.IsProduction(),
		SessionTTL:     cfg.SessionTTL,
		Log:            log,
	}
	if cfg.LocalAuthEnabled {
		h.Local = identity.NewLocalAccounts(store, directory)
	}
	if cfg.FirebaseAuthEnabled && fb != nil {
		h.Verifier = identity.NewFirebaseVerifier(fb.Auth)
	}

	routerCfg := routes.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHost:    cfg.AllowedHost,
		Production:     cfg.IsProduction(),
		Principals:     directory,
		Metrics:        metrics,
		Logger:         log,
	}
	if rdb != nil {
		routerCfg.AuthLimit = middleware.RedisRateLimit(rdb, middleware.RedisRateLimitConfig{
			Scope:       "auth",
			Window:      2 * time.Minute,
			MaxRequests: 25,
			BlockFor:    time.Hour,
		}, log)
	}
	router := routes.NewRouter(routerCfg, h)

	go registry.Run(ctx)
	if bus != nil {
		go bus.Run(ctx, registry.HandleRemote)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info("AppShelf backend running",
			logger.String("port", cfg.Port),
			logger.String("env", cfg.Environment),
			logger.String("store", cfg.StoreBackend),
			logger.String("uploads", cfg.UploadBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", logger.Error(err))
	}
}

// openStore connects the configured document store backend.
func openStore(ctx context.Context, cfg *config.Config, fb *database.Firebase, log logger.Logger) (docstore.Store, func()) {
	switch cfg.StoreBackend {
	case config.StoreMongo:
		client, db, err := database.ConnectMongo(cfg.MongoURI, log)
		if err != nil {
			log.Fatal("Failed to connect to MongoDB", logger.Error(err))
		}
		return docstore.NewMongoStore(client, db), func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		}
	case config.StorePostgres:
		db, err := database.ConnectPostgres(cfg.PostgresURI, log)
		if err != nil {
			log.Fatal("Failed to connect to PostgreSQL", logger.Error(err))
		}
		store, err := docstore.NewPostgresStore(ctx, db)
		if err != nil {
			log.Fatal("Failed to prepare PostgreSQL schema", logger.Error(err))
		}
		return store, func() { _ = db.Close() }
	case config.StoreFirestore:
		return docstore.NewFirestoreStore(fb.Firestore), func() {}
	default:
		log.Warn("Using the in-memory document store; data is lost on restart")
		return docstore.NewMemoryStore(), func() {}
	}
}

// openUploader returns the configured icon uploader, or nil when uploads are off.
func openUploader(ctx context.Context, cfg *config.Config, log logger.Logger) services.Uploader {
	switch cfg.UploadBackend {
	case config.UploadCloudinary:
		cld, err := services.NewCloudinaryService(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		if err != nil {
			log.Warn("Failed to initialize Cloudinary; uploads disabled", logger.Error(err))
			return nil
		}
		log.Info("Cloudinary uploads enabled")
		return cld
	case config.UploadMinio:
		up, err := services.NewMinioUploader(services.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		}, log)
		if err != nil {
			log.Warn("Failed to initialize MinIO; uploads disabled", logger.Error(err))
			return nil
		}
		ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := up.EnsureBucket(ensureCtx); err != nil {
			log.Warn("Icon bucket check failed", logger.Error(err))
		}
		log.Info("MinIO uploads enabled")
		return up
	default:
		log.Info("Icon uploads disabled")
		return nil
	}
}
