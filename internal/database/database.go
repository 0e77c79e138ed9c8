package database

import (
	"errors"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Connect opens and verifies the Postgres pool
func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION ATTEMPT")
	log.Printf("   📍 Database URL length: %d characters", len(dbURL))
	log.Printf("   📍 URL prefix: %s...", dbURL[:min(30, len(dbURL))])
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	log.Println("🔄 Step 1: Attempting sqlx.Connect()...")
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ DATABASE CONNECTION FAILED AT sqlx.Connect()")
		log.Printf("   Error type: %T", err)
		log.Printf("   Error message: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Println("✅ Step 1 Complete: sqlx.Connect() succeeded")

	log.Println("🔄 Step 2: Testing connection with Ping()...")
	if err := db.Ping(); err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ DATABASE CONNECTION FAILED AT Ping()")
		log.Printf("   Error type: %T", err)
		log.Printf("   Error message: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("✅ Step 2 Complete: Ping() succeeded")

	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	return db, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Migrate creates the schema. Every statement is idempotent.
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Directory of drivers and dispatchers; credentials live with the token issuer
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('driver', 'dispatcher')),
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS fcm_tokens (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			token TEXT NOT NULL,
			device_type TEXT NOT NULL CHECK(device_type IN ('ios', 'android')),
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			UNIQUE(user_id, token)
		)`,

		`CREATE TABLE IF NOT EXISTS shifts (
			id TEXT PRIMARY KEY,
			base_id TEXT NOT NULL,
			day TEXT NOT NULL,
			turn TEXT NOT NULL CHECK(turn IN ('morning', 'afternoon', 'night')),
			status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open', 'archived')),
			ends_at BIGINT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shifts_status_ends_at ON shifts(status, ends_at)`,

		// Removing a wave renumbers the later ones in a single UPDATE, so the key is
		// checked at the end of the statement
		`CREATE TABLE IF NOT EXISTS waves (
			shift_id TEXT NOT NULL REFERENCES shifts(id) ON DELETE CASCADE,
			wave_index INT NOT NULL,
			next_position INT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			CONSTRAINT waves_pkey PRIMARY KEY (shift_id, wave_index) DEFERRABLE INITIALLY IMMEDIATE
		)`,

		`CREATE TABLE IF NOT EXISTS slots (
			id TEXT PRIMARY KEY,
			shift_id TEXT NOT NULL REFERENCES shifts(id) ON DELETE CASCADE,
			wave_index INT NOT NULL,
			position INT NOT NULL,
			driver_id TEXT,
			dock_label TEXT NOT NULL DEFAULT '',
			route_code TEXT NOT NULL DEFAULT '',
			window_start BIGINT,
			window_end BIGINT,
			cargo_qty INT,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_shift_wave ON slots(shift_id, wave_index, position)`,
		// A driver holds at most one slot per shift
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_slots_shift_driver ON slots(shift_id, driver_id) WHERE driver_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS driver_shift_status (
			driver_id TEXT NOT NULL,
			shift_id TEXT NOT NULL REFERENCES shifts(id) ON DELETE CASCADE,
			state TEXT NOT NULL,
			dock_label TEXT,
			route_code TEXT,
			confirmed_at BIGINT,
			completed_at BIGINT,
			last_event_at BIGINT NOT NULL,
			last_geofence_at BIGINT NOT NULL DEFAULT 0,
			last_seq BIGINT NOT NULL,
			version INT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (driver_id, shift_id)
		)`,
		`ALTER TABLE driver_shift_status ADD COLUMN IF NOT EXISTS last_geofence_at BIGINT NOT NULL DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS idx_driver_shift_status_shift ON driver_shift_status(shift_id)`,

		// Append-only audit log of applied transitions
		`CREATE TABLE IF NOT EXISTS driver_state_transitions (
			id BIGSERIAL PRIMARY KEY,
			driver_id TEXT NOT NULL,
			shift_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			source TEXT NOT NULL,
			seq BIGINT NOT NULL,
			event_at BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_key ON driver_state_transitions(shift_id, driver_id, id)`,

		// Global registry: a package id can be returned once
		`CREATE TABLE IF NOT EXISTS package_returns (
			package_id TEXT PRIMARY KEY CHECK(package_id ~ '^[0-9]{11}$'),
			driver_id TEXT NOT NULL,
			shift_id TEXT NOT NULL,
			registered_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_package_returns_shift ON package_returns(shift_id, registered_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}

// isUniqueViolation reports a Postgres unique_violation (23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
