package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"dockwave-backend/internal/geofence"

	"github.com/joho/godotenv"
)

// Config is everything the server reads from the environment
type Config struct {
	Port        string
	DatabaseURL string // Empty runs on the in-memory stores
	RedisAddr   string // Empty keeps the package registry in the primary store
	JWTSecret   string

	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string

	GeofenceConfigFile string
	Geofence           geofence.Tuning

	AWSRegion           string
	SQSLocationQueueURL string

	PersistTimeout          time.Duration
	ActorIdleTimeout        time.Duration
	SnapshotRefreshInterval time.Duration
	ArchiveSchedule         string
	SeedDevUsers            bool
}

// Load reads .env (when present) and the process environment
func Load() *Config {
	log.Println("📂 Loading environment variables...")
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	defaults := geofence.DefaultTuning()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		JWTSecret:   getEnv("APP_JWT_SECRET", ""),

		FirebaseCredentialsBase64: getEnv("FIREBASE_CREDENTIALS_BASE64", ""),
		FirebaseCredentialsFile:   getEnv("FIREBASE_CREDENTIALS_FILE", "./firebase-service-account.json"),

		GeofenceConfigFile: getEnv("GEOFENCE_CONFIG_FILE", "./geofences.yaml"),
		Geofence: geofence.Tuning{
			ConfirmSamples: envInt("GEOFENCE_CONFIRM_SAMPLES", defaults.ConfirmSamples),
			MinDwell:       envDuration("GEOFENCE_MIN_DWELL", defaults.MinDwell),
			MaxAccuracyM:   envFloat("GEOFENCE_MAX_ACCURACY_M", defaults.MaxAccuracyM),
			MaxSpeedMps:    envFloat("GEOFENCE_MAX_SPEED_MPS", defaults.MaxSpeedMps),
		},

		AWSRegion:           getEnv("AWS_REGION", "eu-west-1"),
		SQSLocationQueueURL: getEnv("SQS_LOCATION_QUEUE_URL", ""),

		PersistTimeout:          envDuration("PERSIST_TIMEOUT", 3*time.Second),
		ActorIdleTimeout:        envDuration("ACTOR_IDLE_TIMEOUT", 5*time.Minute),
		SnapshotRefreshInterval: envDuration("SNAPSHOT_REFRESH_INTERVAL", 500*time.Millisecond),
		ArchiveSchedule:         getEnv("ARCHIVE_SCHEDULE", "@every 1m"),
		SeedDevUsers:            envBool("SEED_DEV_USERS", true),
	}
}

// UsesDatabase reports whether a Postgres URL was configured
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("⚠️  Ignoring %s=%q: not an integer", key, v)
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
		log.Printf("⚠️  Ignoring %s=%q: not a number", key, v)
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("⚠️  Ignoring %s=%q: not a duration", key, v)
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("⚠️  Ignoring %s=%q: not a boolean", key, v)
	}
	return fallback
}
