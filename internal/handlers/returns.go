package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/returns"
	"dockwave-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// RegisterPackageReturns registers the packages a driver brought back. Each id is
// accepted at most once across all shifts.
// POST /api/driver/shifts/{shiftID}/package-returns
func RegisterPackageReturns(svc *returns.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		shiftID := chi.URLParam(r, "shiftID")

		var req struct {
			PackageIDs []string `json:"package_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		log.Printf("📥 REQUEST: POST package-returns - %d ids from %s in shift %s", len(req.PackageIDs), userClaims.UserID, shiftID)
		res, err := svc.RegisterBatch(r.Context(), userClaims.UserID, shiftID, req.PackageIDs)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}

		if res.Failed > 0 {
			w.Header().Set("Retry-After", "1")
		}
		log.Printf("📤 RESPONSE: 200 - %d accepted, %d rejected, %d failed", res.Accepted, res.Rejected, res.Failed)
		respondData(w, http.StatusOK, res)
	}
}

// ListPackageReturns lists the registrations made in a shift
// GET /api/dispatcher/shifts/{shiftID}/package-returns
func ListPackageReturns(svc *returns.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context(), chi.URLParam(r, "shiftID"))
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, list)
	}
}
