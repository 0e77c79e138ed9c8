package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/models"
	"dockwave-backend/pkg/utils"

	"github.com/google/uuid"
)

type CreateUserRequest struct {
	ID    string `json:"id"` // Optional; the identity provider's subject when known
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"` // "driver" or "dispatcher"
}

// CreateUser adds a driver or dispatcher to the directory
// POST /api/dispatcher/users
func CreateUser(users UserDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("📥 REQUEST: POST /api/dispatcher/users - Create new user")

		var req CreateUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("❌ Invalid request body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Name) == "" || req.Role == "" {
			log.Println("❌ Missing required fields")
			utils.RespondError(w, http.StatusBadRequest, "Email, name, and role are required")
			return
		}
		if req.Role != models.RoleDriver && req.Role != models.RoleDispatcher {
			log.Printf("❌ Invalid role: %s", req.Role)
			utils.RespondError(w, http.StatusBadRequest, "Role must be 'driver' or 'dispatcher'")
			return
		}

		now := time.Now().UnixMilli()
		user := models.User{
			ID:        req.ID,
			Email:     strings.TrimSpace(req.Email),
			Name:      strings.TrimSpace(req.Name),
			Role:      req.Role,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if user.ID == "" {
			user.ID = uuid.New().String()
		}

		if err := users.CreateUser(r.Context(), user); err != nil {
			utils.RespondErr(w, err)
			return
		}

		log.Printf("✅ USER CREATED SUCCESSFULLY")
		log.Printf("   📧 Email: %s", user.Email)
		log.Printf("   👤 Name: %s", user.Name)
		log.Printf("   🔑 Role: %s", user.Role)
		log.Printf("   🆔 ID: %s", user.ID)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		respondData(w, http.StatusCreated, user)
	}
}

// ListUsers returns the directory, optionally filtered by ?role=
// GET /api/dispatcher/users
func ListUsers(users UserDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := users.ListUsers(r.Context(), r.URL.Query().Get("role"))
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, list)
	}
}

// RegisterFCMToken stores the push token of the authenticated driver's device
// POST /api/driver/fcm-token
func RegisterFCMToken(users UserDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req struct {
			Token      string `json:"token"`
			DeviceType string `json:"device_type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			utils.RespondError(w, http.StatusBadRequest, "token is required")
			return
		}
		if req.DeviceType != "ios" && req.DeviceType != "android" {
			utils.RespondError(w, http.StatusBadRequest, "device_type must be 'ios' or 'android'")
			return
		}

		now := time.Now().UnixMilli()
		err := users.SaveToken(r.Context(), models.FCMToken{
			UserID:     userClaims.UserID,
			Token:      req.Token,
			DeviceType: req.DeviceType,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			utils.RespondErr(w, err)
			return
		}

		log.Printf("🔔 FCM token registered for %s (%s)", userClaims.UserID, req.DeviceType)
		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "FCM token registered",
		})
	}
}
