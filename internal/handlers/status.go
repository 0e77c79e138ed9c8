package handlers

import (
	"net/http"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/reconciler"
	"dockwave-backend/internal/wavestore"
	"dockwave-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// GetShiftSnapshot returns every persisted driver status of a shift
// GET /api/dispatcher/shifts/{shiftID}/statuses
func GetShiftSnapshot(rec *reconciler.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses, err := rec.Snapshot(r.Context(), chi.URLParam(r, "shiftID"))
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, statuses)
	}
}

// GetDriverStatus returns one driver's persisted status
// GET /api/dispatcher/shifts/{shiftID}/drivers/{driverID}/status
func GetDriverStatus(rec *reconciler.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := models.StatusKey{DriverID: chi.URLParam(r, "driverID"), ShiftID: chi.URLParam(r, "shiftID")}
		st, ok, err := rec.Status(r.Context(), key)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		if !ok {
			utils.RespondErr(w, errs.NotFound("driver_status:"+key.String()))
			return
		}
		respondData(w, http.StatusOK, st)
	}
}

// GetDriverHistory returns the transition audit log of one driver
// GET /api/dispatcher/shifts/{shiftID}/drivers/{driverID}/history
func GetDriverHistory(rec *reconciler.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := models.StatusKey{DriverID: chi.URLParam(r, "driverID"), ShiftID: chi.URLParam(r, "shiftID")}
		history, err := rec.History(r.Context(), key)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, history)
	}
}

// GetMyStatus returns the authenticated driver's status and assigned slot
// GET /api/driver/shifts/{shiftID}/status
func GetMyStatus(rec *reconciler.Reconciler, waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		shiftID := chi.URLParam(r, "shiftID")

		shift, err := waves.GetShift(r.Context(), shiftID)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}

		key := models.StatusKey{DriverID: userClaims.UserID, ShiftID: shiftID}
		st, found, err := rec.Status(r.Context(), key)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		if !found {
			st = models.NewDriverShiftStatus(userClaims.UserID, shiftID, models.NowMillis())
		}

		slot, err := waves.SlotForDriver(r.Context(), shiftID, userClaims.UserID)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}

		respondData(w, http.StatusOK, map[string]interface{}{
			"shift":  shift,
			"status": st,
			"slot":   slot,
		})
	}
}
