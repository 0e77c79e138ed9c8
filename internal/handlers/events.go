package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/middleware"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/reconciler"
	"dockwave-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

type callToDockRequest struct {
	DockLabel string `json:"dock_label"` // Empty uses the driver's slot
	RouteCode string `json:"route_code"`
}

// CallToDock sends a driver to a dock
// POST /api/dispatcher/shifts/{shiftID}/drivers/{driverID}/call-to-dock
func CallToDock(rec *reconciler.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req callToDockRequest
		if err := decodeOptional(r, &req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		submit(w, r, rec, models.Event{
			Kind:      models.EventCallToDock,
			DriverID:  chi.URLParam(r, "driverID"),
			ShiftID:   chi.URLParam(r, "shiftID"),
			DockLabel: req.DockLabel,
			RouteCode: req.RouteCode,
		})
	}
}

// CallToParking sends a driver back to the parking area
// POST /api/dispatcher/shifts/{shiftID}/drivers/{driverID}/call-to-parking
func CallToParking(rec *reconciler.Reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submit(w, r, rec, models.Event{
			Kind:     models.EventCallToParking,
			DriverID: chi.URLParam(r, "driverID"),
			ShiftID:  chi.URLParam(r, "shiftID"),
		})
	}
}

// DriverAction submits an action the authenticated driver takes on their own status
// POST /api/driver/shifts/{shiftID}/confirm|start-loading|complete
func DriverAction(rec *reconciler.Reconciler, kind models.EventKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userClaims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		submit(w, r, rec, models.Event{
			Kind:     kind,
			DriverID: userClaims.UserID,
			ShiftID:  chi.URLParam(r, "shiftID"),
		})
	}
}

// submit runs the event and answers with the typed result. Refusals keep the current
// status in the body so the client can refresh.
func submit(w http.ResponseWriter, r *http.Request, rec *reconciler.Reconciler, ev models.Event) {
	log.Printf("📥 EVENT: %s for driver %s in shift %s", ev.Kind, ev.DriverID, ev.ShiftID)

	res, err := rec.Submit(r.Context(), ev)
	if err != nil {
		utils.RespondErr(w, err)
		return
	}

	if res.Applied {
		log.Printf("📤 RESPONSE: 200 - %s applied, %s is now %s", ev.Kind, ev.DriverID, res.Status.State)
		respondData(w, http.StatusOK, res)
		return
	}

	status := http.StatusOK
	if res.Kind != "" {
		status = utils.StatusFor(res.Kind)
	}
	if res.Kind == errs.KindPersistenceTimeout {
		w.Header().Set("Retry-After", utils.RetryAfterSeconds)
	}
	log.Printf("📤 RESPONSE: %d - %s not applied (%s: %s)", status, ev.Kind, res.Kind, res.Reason)
	utils.RespondJSON(w, status, map[string]interface{}{
		"success": false,
		"kind":    res.Kind,
		"error":   res.Reason,
		"data":    res,
	})
}

// decodeOptional decodes a JSON body when one was sent
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == io.EOF {
		return nil
	}
	return err
}
