package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"groupride/internal/app"
	"groupride/internal/config"
	"groupride/internal/handler"
	"groupride/internal/location"
	"groupride/internal/middleware"
	internalRedis "groupride/internal/redis"
	"groupride/internal/repository/postgres"
	"groupride/internal/service"
	"groupride/internal/stream"
)

// server bundles the HTTP server with the background components that need
// stopping on shutdown.
type server struct {
	http     *http.Server
	notifier *service.Notifier
	tracking *service.TrackingService
}

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	// Initialize database with New Relic instrumentation.
	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Connected to Redis")

	// Wire dependencies.
	srv := wireServer(db, redisClient, nrApp, cfg)

	// Start server in goroutine.
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	srv.tracking.Close()
	srv.notifier.Close()

	if err := srv.http.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Println("Server exited")
}

// wireServer wires all dependencies and returns the server.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config) *server {
	// Initialize Redis stores.
	treeStore := internalRedis.NewTreeStore(redisClient)
	locationStore := internalRedis.NewLocationStore(redisClient, cfg.Tracking.PositionTTL)
	cacheStore := internalRedis.NewCacheStore(redisClient, cfg.Tracking.RideCacheTTL)

	// Initialize repositories.
	userRepo := postgres.NewUserRepository(db)
	rideRepo := postgres.NewRideRepository(db)

	// Live notifications. The hub starts a ride's subscription with its
	// first listener and stops it with its last.
	var live *service.LiveUpdates
	hub := stream.NewHub(stream.Hooks{
		OnFirst: func(rideID string) error { return live.Start(rideID) },
		OnLast:  func(rideID string) { live.Stop(rideID) },
	})
	notificationService := service.NewNotificationService(hub)
	notifier := service.NewNotifier(treeStore)

	// Initialize services.
	userService := service.NewUserService(userRepo)
	rideService := service.NewRideService(rideRepo, cacheStore, treeStore, notificationService, cfg.Tracking.DefaultRadiusMeters)
	checkInService := service.NewCheckInService(rideService, treeStore)
	trackingService := service.NewTrackingService(
		locationStore,
		func(rideID, riderID string) location.Provider { return locationStore.Feed(rideID, riderID) },
		rideService,
		checkInService,
		location.WatchOptions{
			Accuracy:          location.AccuracyHigh,
			MinDistanceMeters: cfg.Tracking.WatchMinDistanceMeters,
		},
	)
	live = service.NewLiveUpdates(notifier, rideService, userService, notificationService)

	// Initialize handlers.
	router := app.NewRouter(app.RouterDeps{
		UserHandler:     handler.NewUserHandler(userService),
		RideHandler:     handler.NewRideHandler(rideService, userService),
		CheckInHandler:  handler.NewCheckInHandler(checkInService, trackingService),
		TrackingHandler: handler.NewTrackingHandler(trackingService),
		ProgressHandler: handler.NewProgressHandler(rideService, userService),
		EventsHandler:   handler.NewEventsHandler(hub, cfg.Server.AllowedOrigins),
		PositionLimiter: middleware.NewRateLimiter(
			cfg.Tracking.PositionRatePerSecond,
			cfg.Tracking.PositionBurst,
			middleware.RiderKey,
		),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
	})

	// Create HTTP server.
	return &server{
		http: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		notifier: notifier,
		tracking: trackingService,
	}
}
