package handlers

import (
	"encoding/json"
	"net/http"

	"dockwave-backend/internal/ingest"
	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/models"
	"dockwave-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// PostLocation feeds one GPS sample of the authenticated driver into the geofence pipeline
// POST /api/driver/location
func PostLocation(ingestor *ingest.Ingestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var sample models.LocationSample
		if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		sample.DriverID = userClaims.UserID

		results, err := ingestor.Ingest(r.Context(), sample)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, map[string]interface{}{
			"events": results,
		})
	}
}

// GetDriverLocations returns the latest accepted sample of every driver in a shift
// GET /api/dispatcher/shifts/{shiftID}/locations
func GetDriverLocations(ingestor *ingest.Ingestor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondData(w, http.StatusOK, ingestor.Locations(chi.URLParam(r, "shiftID")))
	}
}
