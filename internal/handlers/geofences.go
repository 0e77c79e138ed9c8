package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/geofence"
	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/websocket"
	"dockwave-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// ListGeofences returns the fences of every configured base
// GET /api/dispatcher/bases/geofences
func ListGeofences(fences *geofence.StaticProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string]geofence.BaseFences)
		for _, id := range fences.BaseIDs() {
			if f, ok := fences.Fences(id); ok {
				out[id] = f
			}
		}
		respondData(w, http.StatusOK, out)
	}
}

// GetGeofences returns the dock and parking circles of a base
// GET /api/dispatcher/bases/{baseID}/geofences
func GetGeofences(fences *geofence.StaticProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseID := chi.URLParam(r, "baseID")
		f, ok := fences.Fences(baseID)
		if !ok {
			utils.RespondErr(w, errs.NotFound("base:"+baseID))
			return
		}
		respondData(w, http.StatusOK, f)
	}
}

// PutGeofences replaces a base's circles. Evaluation uses them from the next sample on.
// PUT /api/dispatcher/bases/{baseID}/geofences
func PutGeofences(fences *geofence.StaticProvider, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		baseID := chi.URLParam(r, "baseID")

		var req geofence.BaseFences
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if !req.Dock.Valid() || !req.Parking.Valid() {
			utils.RespondErr(w, errs.Invalid("dock and parking need a center within range and a positive radius_m"))
			return
		}

		fences.Set(baseID, req)

		userClaims, _ := middleware.GetUserFromContext(r)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Printf("📍 GEOFENCES UPDATED for base %s by %s", baseID, userClaims.UserID)
		log.Printf("   Dock:    (%.6f, %.6f) r=%.0fm", req.Dock.CenterLat, req.Dock.CenterLon, req.Dock.RadiusM)
		log.Printf("   Parking: (%.6f, %.6f) r=%.0fm", req.Parking.CenterLat, req.Parking.CenterLon, req.Parking.RadiusM)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		if hub != nil {
			hub.BroadcastToRole(middleware.RoleDispatcher, map[string]interface{}{
				"type":    "geofences_updated",
				"base_id": baseID,
				"data":    req,
			})
		}

		respondData(w, http.StatusOK, req)
	}
}
