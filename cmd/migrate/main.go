package main

import (
	"log"
	"os"

	"dockwave-backend/internal/database"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Connected to database successfully")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	var result struct {
		Shifts   int `db:"shifts"`
		Waves    int `db:"waves"`
		Slots    int `db:"slots"`
		Statuses int `db:"statuses"`
		Returns  int `db:"returns"`
	}
	err = db.Get(&result, `
		SELECT
			(SELECT COUNT(*) FROM shifts) AS shifts,
			(SELECT COUNT(*) FROM waves) AS waves,
			(SELECT COUNT(*) FROM slots) AS slots,
			(SELECT COUNT(*) FROM driver_shift_status) AS statuses,
			(SELECT COUNT(*) FROM package_returns) AS returns
	`)
	if err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	log.Println("Migration completed successfully!")
	log.Printf("  Shifts:   %d", result.Shifts)
	log.Printf("  Waves:    %d", result.Waves)
	log.Printf("  Slots:    %d", result.Slots)
	log.Printf("  Statuses: %d", result.Statuses)
	log.Printf("  Returns:  %d", result.Returns)
}
