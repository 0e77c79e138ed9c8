package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"dockwave-backend/internal/models"
	"dockwave-backend/internal/wavestore"
	"dockwave-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
)

// CreateShift opens a new shift for a base
// POST /api/dispatcher/shifts
func CreateShift(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("📥 REQUEST: POST /api/dispatcher/shifts")

		var req wavestore.CreateShiftInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("❌ Invalid request body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		shift, err := waves.CreateShift(r.Context(), req)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}

		log.Printf("📤 RESPONSE: 201 - Shift %s created (base %s, %s %s)", shift.ID, shift.BaseID, shift.Day, shift.Turn)
		respondData(w, http.StatusCreated, shift)
	}
}

// ListShifts returns shifts, optionally filtered by ?status=open|archived
// GET /api/dispatcher/shifts
func ListShifts(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.ShiftStatus(r.URL.Query().Get("status"))
		shifts, err := waves.ListShifts(r.Context(), status)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, shifts)
	}
}

// GetShiftLayout returns a shift with its waves and slots
// GET /api/dispatcher/shifts/{shiftID}
func GetShiftLayout(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		layout, err := waves.Layout(r.Context(), chi.URLParam(r, "shiftID"))
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, layout)
	}
}

// ArchiveShift closes a shift ahead of its end time
// POST /api/dispatcher/shifts/{shiftID}/archive
func ArchiveShift(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shiftID := chi.URLParam(r, "shiftID")
		log.Printf("📥 REQUEST: POST /api/dispatcher/shifts/%s/archive", shiftID)

		if err := waves.ArchiveShift(r.Context(), shiftID); err != nil {
			utils.RespondErr(w, err)
			return
		}

		log.Printf("📤 RESPONSE: 200 - Shift %s archived", shiftID)
		respondData(w, http.StatusOK, map[string]string{"shift_id": shiftID, "status": string(models.ShiftStatusArchived)})
	}
}

// AppendWave adds one wave at the end of the shift
// POST /api/dispatcher/shifts/{shiftID}/waves
func AppendWave(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shiftID := chi.URLParam(r, "shiftID")
		index, err := waves.AppendWave(r.Context(), shiftID)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		log.Printf("🌊 Wave %d appended to shift %s", index, shiftID)
		respondData(w, http.StatusCreated, map[string]int{"wave_index": index})
	}
}

// EnsureWaveCount grows the shift to at least count waves. Existing waves are kept.
// PUT /api/dispatcher/shifts/{shiftID}/waves/count
func EnsureWaveCount(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Count int `json:"count"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		added, err := waves.EnsureWaveCount(r.Context(), chi.URLParam(r, "shiftID"), req.Count)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, map[string]int{"added": added})
	}
}

// RemoveWave deletes an empty wave
// DELETE /api/dispatcher/shifts/{shiftID}/waves/{waveIndex}
func RemoveWave(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, ok := pathInt(w, r, "waveIndex")
		if !ok {
			return
		}
		shiftID := chi.URLParam(r, "shiftID")
		if err := waves.RemoveWave(r.Context(), shiftID, index); err != nil {
			utils.RespondErr(w, err)
			return
		}
		log.Printf("🗑️  Wave %d removed from shift %s", index, shiftID)
		w.WriteHeader(http.StatusNoContent)
	}
}

type upsertSlotRequest struct {
	SlotIndex *int `json:"slot_index"` // Position to overwrite; omitted appends
	models.SlotFields
}

// UpsertSlot writes a slot at a position of a wave, or appends one
// POST /api/dispatcher/shifts/{shiftID}/waves/{waveIndex}/slots
func UpsertSlot(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		waveIndex, ok := pathInt(w, r, "waveIndex")
		if !ok {
			return
		}
		var req upsertSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		slot, err := waves.UpsertSlot(r.Context(), chi.URLParam(r, "shiftID"), waveIndex, req.SlotIndex, req.SlotFields)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, slot)
	}
}

// EditSlot patches individual slot fields
// PATCH /api/dispatcher/shifts/{shiftID}/slots/{slotID}
func EditSlot(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var patch models.SlotPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		slot, err := waves.EditSlot(r.Context(), chi.URLParam(r, "shiftID"), chi.URLParam(r, "slotID"), patch)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}
		respondData(w, http.StatusOK, slot)
	}
}

// ImportWaves applies a bulk import and reports the outcome of every row
// POST /api/dispatcher/shifts/{shiftID}/import
func ImportWaves(waves *wavestore.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shiftID := chi.URLParam(r, "shiftID")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Printf("📥 REQUEST: POST /api/dispatcher/shifts/%s/import", shiftID)

		var req struct {
			Rows []models.ImportRow `json:"rows"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Printf("❌ Invalid request body: %v", err)
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		results, err := waves.Import(r.Context(), shiftID, req.Rows)
		if err != nil {
			utils.RespondErr(w, err)
			return
		}

		imported := 0
		for _, res := range results {
			if res.Status == models.ImportRowOK {
				imported++
			}
		}
		log.Printf("📤 RESPONSE: 200 - %d/%d rows imported", imported, len(results))
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"data":     results,
			"imported": imported,
			"rejected": len(results) - imported,
		})
	}
}
