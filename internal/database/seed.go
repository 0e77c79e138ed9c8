package database

import (
	"context"
	"log"
	"time"

	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/models"
)

// UserSeeder is the part of a user store seeding needs; both backends implement it
type UserSeeder interface {
	CountUsers(ctx context.Context) (int, error)
	CreateUser(ctx context.Context, u models.User) error
}

// DevUsers are created on an empty directory so a fresh install can be exercised
var DevUsers = []models.User{
	{ID: "drv-ana", Email: "ana.ruiz@dockwave.dev", Name: "Ana Ruiz", Role: models.RoleDriver},
	{ID: "drv-ben", Email: "ben.ortiz@dockwave.dev", Name: "Ben Ortiz", Role: models.RoleDriver},
	{ID: "disp-dana", Email: "dana@dockwave.dev", Name: "Dana Dispatch", Role: models.RoleDispatcher},
}

// SeedUsers inserts DevUsers when the directory is empty and logs a token for each,
// signed with jwtSecret
func SeedUsers(ctx context.Context, users UserSeeder, jwtSecret string) error {
	count, err := users.CountUsers(ctx)
	if err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding development users...")

	now := time.Now().UnixMilli()
	for _, u := range DevUsers {
		u.CreatedAt = now
		u.UpdatedAt = now
		if err := users.CreateUser(ctx, u); err != nil {
			return err
		}
		log.Printf("  ✓ Created user: %s (%s)", u.Email, u.Role)

		if jwtSecret == "" {
			continue
		}
		token, err := middleware.IssueToken(jwtSecret, middleware.UserClaims{UserID: u.ID, Email: u.Email, Role: u.Role}, 30*24*time.Hour)
		if err != nil {
			return err
		}
		log.Printf("  🔑 %s token: %s", u.ID, token)
	}

	log.Println("✓ Successfully seeded development users")
	return nil
}
