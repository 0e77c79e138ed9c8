package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dockwave-backend/internal/config"
	"dockwave-backend/internal/database"
	"dockwave-backend/internal/geofence"
	"dockwave-backend/internal/handlers"
	"dockwave-backend/internal/ingest"
	"dockwave-backend/internal/jobs"
	"dockwave-backend/internal/memstore"
	"dockwave-backend/internal/observe"
	"dockwave-backend/internal/reconciler"
	"dockwave-backend/internal/returns"
	"dockwave-backend/internal/services"
	"dockwave-backend/internal/wavestore"
	"dockwave-backend/internal/websocket"
)

// userStore is what the server needs from a user directory backend
type userStore interface {
	handlers.UserDirectory
	database.UserSeeder
	wavestore.DriverDirectory
	services.TokenSource
}

type backend struct {
	waves    wavestore.Store
	statuses reconciler.StatusStore
	returns  returns.Registry
	users    userStore
	close    func()
}

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 DOCKWAVE BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: APP_JWT_SECRET environment variable is required")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal("APP_JWT_SECRET environment variable is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := openBackend(cfg)
	defer store.close()

	if cfg.SeedDevUsers {
		log.Println("🌱 Seeding directory with development users...")
		if err := database.SeedUsers(ctx, store.users, cfg.JWTSecret); err != nil {
			log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			log.Println("❌ FATAL ERROR: User seeding failed")
			log.Printf("   Error: %v", err)
			log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			log.Fatal(err)
		}
	}

	registry := store.returns
	if cfg.RedisAddr != "" {
		log.Printf("🔌 Connecting to Redis at %s...", cfg.RedisAddr)
		redisRegistry := returns.NewRedisRegistry(returns.NewRedisClient(cfg.RedisAddr))
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisRegistry.Ping(pingCtx)
		pingCancel()
		if err != nil {
			log.Printf("⚠️  Redis unreachable: %v (package registry stays in the primary store)", err)
		} else {
			registry = redisRegistry
			log.Println("✅ Package return registry backed by Redis")
		}
	}

	notifier := openNotifier(cfg, store.users)

	waves := wavestore.NewService(store.waves, store.users)
	rec := reconciler.New(store.statuses, nil, notifier, waves, reconciler.Options{
		PersistTimeout: cfg.PersistTimeout,
		IdleTimeout:    cfg.ActorIdleTimeout,
	})
	broker := observe.NewBroker(rec, waves, observe.Options{
		RefreshMinInterval: cfg.SnapshotRefreshInterval,
	})
	rec.SetPublisher(broker)
	waves.SetListener(broker)
	log.Println("✅ Reconciler and observation broker started")

	bases, err := config.LoadGeofences(cfg.GeofenceConfigFile)
	if err != nil {
		log.Printf("⚠️  Failed to load geofences from %s: %v (configure them via the API)", cfg.GeofenceConfigFile, err)
		bases = map[string]geofence.BaseFences{}
	} else {
		log.Printf("✅ Geofences loaded for %d bases", len(bases))
	}
	fences := geofence.NewStaticProvider(bases)
	evaluator := geofence.NewEvaluator(fences, cfg.Geofence)
	ingestor := ingest.NewIngestor(waves, evaluator, rec)

	if cfg.SQSLocationQueueURL != "" {
		client, err := ingest.NewSQSClient(ctx, cfg.AWSRegion)
		if err != nil {
			log.Printf("⚠️  Failed to create SQS client: %v (queue ingestion disabled)", err)
		} else {
			go ingest.NewSQSConsumer(client, cfg.SQSLocationQueueURL, ingestor).Start(ctx)
		}
	}

	wsHub := websocket.NewHub()
	go wsHub.Run()
	log.Println("✅ WebSocket hub started")

	deps := handlers.Deps{
		Waves:      waves,
		Reconciler: rec,
		Broker:     broker,
		Returns:    returns.NewService(registry),
		Ingestor:   ingestor,
		Evaluator:  evaluator,
		Fences:     fences,
		Users:      store.users,
		Hub:        wsHub,
		JWTSecret:  cfg.JWTSecret,
	}

	archival := jobs.NewShiftArchivalJob(waves, cfg.ArchiveSchedule,
		func(shiftID string) { evaluator.ForgetShift(shiftID) },
		ingestor.ForgetShift,
		broker.ForgetShift,
	)
	stats := jobs.NewStatsReportJob(func() map[string]interface{} {
		return handlers.CollectStats(deps)
	}, "@every 5m")
	jobManager := jobs.NewJobManager(archival, stats)
	if err := jobManager.StartAll(); err != nil {
		log.Fatalf("❌ FATAL ERROR: Background jobs failed to start: %v", err)
	}
	log.Println("✅ Background jobs started")

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("═══════════════════════════════════════════════════════════════════")
		log.Println("✅ ALL INITIALIZATION COMPLETE")
		log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
		log.Println("🔌 Ready to accept requests!")
		log.Println("═══════════════════════════════════════════════════════════════════")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			log.Println("❌ FATAL ERROR: Server failed to start")
			log.Printf("   Error: %v", err)
			log.Printf("   Port: %s", cfg.Port)
			log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("🛑 Received %s, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  HTTP server shutdown: %v", err)
	}
	cancel()
	jobManager.StopAll()
	wsHub.Stop()
	broker.Close()
	if err := rec.Stop(shutdownCtx); err != nil {
		log.Printf("⚠️  Reconciler shutdown: %v", err)
	}
	log.Println("👋 Server stopped")
}

// openBackend picks Postgres when DATABASE_URL is set and the in-memory stores otherwise
func openBackend(cfg *config.Config) backend {
	if !cfg.UsesDatabase() {
		log.Println("⚠️  DATABASE_URL not set, running on in-memory stores (state is lost on restart)")
		return backend{
			waves:    memstore.NewWaveStore(),
			statuses: memstore.NewStatusStore(),
			returns:  memstore.NewReturnRegistry(),
			users:    memstore.NewUserStore(),
			close:    func() {},
		}
	}

	log.Println("🔌 Connecting to database...")
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database connection failed")
		log.Printf("   Error: %v", err)
		log.Println("   This is usually caused by:")
		log.Println("   1. Wrong DATABASE_URL format")
		log.Println("   2. PostgreSQL service is down")
		log.Println("   3. Network connectivity issue")
		log.Println("   4. Invalid credentials")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	log.Println("✅ Database connection established")

	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database migrations failed")
		log.Printf("   Error: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	log.Println("✅ Database migrations completed")

	return backend{
		waves:    database.NewWaveStore(db),
		statuses: database.NewStatusStore(db),
		returns:  database.NewReturnRegistry(db),
		users:    database.NewUserStore(db),
		close:    func() { db.Close() },
	}
}

// openNotifier initializes Firebase Cloud Messaging. Base64 credentials take
// precedence over the file. Returns nil when push is unavailable.
func openNotifier(cfg *config.Config, tokens services.TokenSource) reconciler.Notifier {
	var (
		fcmService *services.FCMService
		err        error
	)
	if cfg.FirebaseCredentialsBase64 != "" {
		fcmService, err = services.NewFCMServiceFromBase64(cfg.FirebaseCredentialsBase64, tokens)
	} else {
		fcmService, err = services.NewFCMService(cfg.FirebaseCredentialsFile, tokens)
	}
	if err != nil {
		log.Printf("⚠️  Failed to initialize FCM: %v (push notifications disabled)", err)
		return nil
	}
	log.Println("✅ Firebase Cloud Messaging initialized")
	return fcmService
}
