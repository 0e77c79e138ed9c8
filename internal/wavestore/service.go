package wavestore

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"

	"github.com/google/uuid"
)

// Service implements wave composition on top of a Store
type Service struct {
	store     Store
	directory DriverDirectory
	listener  Listener
	now       func() int64
}

// NewService creates a wave service. directory may be nil when bulk import is unused.
func NewService(store Store, directory DriverDirectory) *Service {
	return &Service{
		store:     store,
		directory: directory,
		listener:  noopListener{},
		now:       models.NowMillis,
	}
}

// SetListener registers the receiver of composition change notifications
func (s *Service) SetListener(l Listener) {
	if l == nil {
		l = noopListener{}
	}
	s.listener = l
}

// CreateShiftInput describes a new shift
type CreateShiftInput struct {
	BaseID string           `json:"base_id"`
	Day    string           `json:"day"`
	Turn   models.ShiftTurn `json:"turn"`
	EndsAt int64            `json:"ends_at"`
	Waves  int              `json:"waves"` // Initial wave count
}

// CreateShift opens a new shift with an optional initial wave count
func (s *Service) CreateShift(ctx context.Context, in CreateShiftInput) (models.Shift, error) {
	if strings.TrimSpace(in.BaseID) == "" {
		return models.Shift{}, errs.Invalid("base_id is required")
	}
	if _, err := time.Parse("2006-01-02", in.Day); err != nil {
		return models.Shift{}, errs.Invalid("day must be YYYY-MM-DD")
	}
	if !in.Turn.Valid() {
		return models.Shift{}, errs.Invalid("turn must be morning, afternoon or night")
	}
	if in.Waves < 0 {
		return models.Shift{}, errs.Invalid("waves must not be negative")
	}

	now := s.now()
	shift := models.Shift{
		ID:        uuid.New().String(),
		BaseID:    in.BaseID,
		Day:       in.Day,
		Turn:      in.Turn,
		Status:    models.ShiftStatusOpen,
		EndsAt:    in.EndsAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateShift(ctx, shift); err != nil {
		return models.Shift{}, fmt.Errorf("failed to create shift: %w", err)
	}
	log.Printf("✅ [WAVES] Shift %s created (base %s, %s %s)", shift.ID, shift.BaseID, shift.Day, shift.Turn)

	if in.Waves > 0 {
		if _, err := s.EnsureWaveCount(ctx, shift.ID, in.Waves); err != nil {
			return models.Shift{}, err
		}
	}
	return shift, nil
}

// GetShift returns one shift
func (s *Service) GetShift(ctx context.Context, shiftID string) (models.Shift, error) {
	return s.store.GetShift(ctx, shiftID)
}

// ListShifts returns shifts in a status ("" for all)
func (s *Service) ListShifts(ctx context.Context, status models.ShiftStatus) ([]models.Shift, error) {
	return s.store.ListShifts(ctx, status)
}

// Layout returns the committed composition of a shift
func (s *Service) Layout(ctx context.Context, shiftID string) (models.ShiftLayout, error) {
	return s.store.Layout(ctx, shiftID)
}

// mutate wraps WithShift with the archived-shift guard and the change notification
func (s *Service) mutate(ctx context.Context, shiftID string, fn func(tx Tx) error) error {
	changed := false
	err := s.store.WithShift(ctx, shiftID, func(tx Tx) error {
		shift := tx.Shift()
		if shift.IsArchived() {
			return errs.PreconditionFailed(fmt.Sprintf("shift %s is archived", shiftID))
		}
		if err := fn(tx); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		s.listener.WavesChanged(shiftID)
	}
	return nil
}

// AppendWave adds one wave at the end and returns its index
func (s *Service) AppendWave(ctx context.Context, shiftID string) (int, error) {
	var index int
	err := s.mutate(ctx, shiftID, func(tx Tx) error {
		var err error
		index, err = tx.AddWave(s.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	log.Printf("➕ [WAVES] Shift %s: appended wave %d", shiftID, index)
	return index, nil
}

// EnsureWaveCount grows the shift to at least n waves. It never removes or reorders
// waves, so calling it twice with the same n changes nothing the second time.
// It returns how many waves were added.
func (s *Service) EnsureWaveCount(ctx context.Context, shiftID string, n int) (int, error) {
	if n < 0 {
		return 0, errs.Invalid("wave count must not be negative")
	}
	added := 0
	err := s.store.WithShift(ctx, shiftID, func(tx Tx) error {
		waves, err := tx.Waves()
		if err != nil {
			return err
		}
		if len(waves) >= n {
			return nil
		}
		shift := tx.Shift()
		if shift.IsArchived() {
			return errs.PreconditionFailed(fmt.Sprintf("shift %s is archived", shiftID))
		}
		now := s.now()
		for i := len(waves); i < n; i++ {
			if _, err := tx.AddWave(now); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		log.Printf("➕ [WAVES] Shift %s: grew to %d waves (+%d)", shiftID, n, added)
		s.listener.WavesChanged(shiftID)
	}
	return added, nil
}

// RemoveWave deletes an empty wave; later waves move down one index
func (s *Service) RemoveWave(ctx context.Context, shiftID string, index int) error {
	err := s.mutate(ctx, shiftID, func(tx Tx) error {
		waves, err := tx.Waves()
		if err != nil {
			return err
		}
		wave, err := findWave(waves, index)
		if err != nil {
			return err
		}
		if len(wave.Slots) > 0 {
			return errs.Conflict(
				fmt.Sprintf("wave %d still has %d slot(s)", index, len(wave.Slots)),
				fmt.Sprintf("wave:%d", index),
			)
		}
		return tx.DeleteWave(index)
	})
	if err != nil {
		return err
	}
	log.Printf("➖ [WAVES] Shift %s: removed wave %d", shiftID, index)
	return nil
}

// UpsertSlot writes driver/dock/route into the slot at (waveIndex, slotIndex), where
// slotIndex is the slot's ordinal within the wave. A nil slotIndex, or one equal to the
// wave's slot count, appends a new slot.
func (s *Service) UpsertSlot(ctx context.Context, shiftID string, waveIndex int, slotIndex *int, fields models.SlotFields) (models.Slot, error) {
	var out models.Slot
	err := s.mutate(ctx, shiftID, func(tx Tx) error {
		var err error
		out, err = s.upsertSlot(tx, waveIndex, slotIndex, fields)
		return err
	})
	return out, err
}

func (s *Service) upsertSlot(tx Tx, waveIndex int, slotIndex *int, fields models.SlotFields) (models.Slot, error) {
	waves, err := tx.Waves()
	if err != nil {
		return models.Slot{}, err
	}
	wave, err := findWave(waves, waveIndex)
	if err != nil {
		return models.Slot{}, err
	}

	appendNew := slotIndex == nil || *slotIndex == len(wave.Slots)
	if !appendNew && (*slotIndex < 0 || *slotIndex > len(wave.Slots)) {
		return models.Slot{}, errs.NotFound(fmt.Sprintf("slot:%d/%d", waveIndex, *slotIndex))
	}

	var selfID string
	if !appendNew {
		selfID = wave.Slots[*slotIndex].ID
	}
	if err := checkDriverFree(waves, fields.DriverID, selfID); err != nil {
		return models.Slot{}, err
	}

	now := s.now()
	if appendNew {
		return tx.AddSlot(models.Slot{
			ID:        uuid.New().String(),
			ShiftID:   tx.Shift().ID,
			WaveIndex: waveIndex,
			DriverID:  cleanDriver(fields.DriverID),
			DockLabel: fields.DockLabel,
			RouteCode: fields.RouteCode,
			UpdatedAt: now,
		})
	}

	slot := wave.Slots[*slotIndex]
	slot.DriverID = cleanDriver(fields.DriverID)
	slot.DockLabel = fields.DockLabel
	slot.RouteCode = fields.RouteCode
	slot.UpdatedAt = now
	if err := tx.SaveSlot(slot); err != nil {
		return models.Slot{}, err
	}
	return slot, nil
}

// EditSlot applies a field patch to a slot addressed by id
func (s *Service) EditSlot(ctx context.Context, shiftID, slotID string, patch models.SlotPatch) (models.Slot, error) {
	var out models.Slot
	err := s.mutate(ctx, shiftID, func(tx Tx) error {
		waves, err := tx.Waves()
		if err != nil {
			return err
		}
		slot, ok := findSlot(waves, slotID)
		if !ok {
			return errs.NotFound("slot:" + slotID)
		}
		if !patch.ClearDriver && patch.DriverID != nil {
			if err := checkDriverFree(waves, patch.DriverID, slotID); err != nil {
				return err
			}
		}
		if patch.WindowStart != nil && patch.WindowEnd != nil && *patch.WindowEnd < *patch.WindowStart {
			return errs.Invalid("window_end must not precede window_start")
		}
		if patch.CargoQty != nil && *patch.CargoQty < 0 {
			return errs.Invalid("cargo_qty must not be negative")
		}

		patch.Apply(&slot)
		slot.DriverID = cleanDriver(slot.DriverID)
		slot.UpdatedAt = s.now()
		if err := tx.SaveSlot(slot); err != nil {
			return err
		}
		out = slot
		return nil
	})
	return out, err
}

// SlotForDriver returns the slot a driver is assigned to in a shift, or nil
func (s *Service) SlotForDriver(ctx context.Context, shiftID, driverID string) (*models.Slot, error) {
	layout, err := s.store.Layout(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	for _, w := range layout.Waves {
		for _, slot := range w.Slots {
			if slot.HasDriver() && *slot.DriverID == driverID {
				found := slot
				return &found, nil
			}
		}
	}
	return nil, nil
}

// Import applies bulk rows. Waves are grown to cover the highest wave index first;
// then every row is applied in its own unit of work so one bad row never affects
// the others. Unresolved drivers are reported, not dropped.
func (s *Service) Import(ctx context.Context, shiftID string, rows []models.ImportRow) ([]models.ImportRowResult, error) {
	if s.directory == nil {
		return nil, fmt.Errorf("import requires a driver directory")
	}
	shift, err := s.store.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if shift.IsArchived() {
		return nil, errs.PreconditionFailed(fmt.Sprintf("shift %s is archived", shiftID))
	}

	maxIndex := -1
	for _, row := range rows {
		if row.WaveIndex > maxIndex {
			maxIndex = row.WaveIndex
		}
	}
	if maxIndex >= 0 {
		if _, err := s.EnsureWaveCount(ctx, shiftID, maxIndex+1); err != nil {
			return nil, err
		}
	}

	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Printf("📥 [IMPORT] Shift %s: %d row(s)", shiftID, len(rows))

	results := make([]models.ImportRowResult, len(rows))
	counts := map[models.ImportRowStatus]int{}
	for i, row := range rows {
		results[i] = s.importRow(ctx, shiftID, i, row)
		counts[results[i].Status]++
	}

	log.Printf("   ✅ ok: %d  ❓ unresolved: %d  ❌ error: %d",
		counts[models.ImportRowOK], counts[models.ImportRowUnresolvedDriver], counts[models.ImportRowError])
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	return results, nil
}

func (s *Service) importRow(ctx context.Context, shiftID string, i int, row models.ImportRow) models.ImportRowResult {
	result := models.ImportRowResult{Row: i}
	if row.WaveIndex < 0 {
		result.Status = models.ImportRowError
		result.Error = errs.Invalid("wave_index must not be negative").Error()
		return result
	}

	ref := strings.TrimSpace(row.Driver)
	if ref == "" {
		result.Status = models.ImportRowUnresolvedDriver
		result.Error = "driver is empty"
		return result
	}
	driverID, ok, err := s.directory.ResolveDriver(ctx, ref)
	if err != nil {
		result.Status = models.ImportRowError
		result.Error = err.Error()
		return result
	}
	if !ok {
		result.Status = models.ImportRowUnresolvedDriver
		result.Error = fmt.Sprintf("no driver matches %q", ref)
		return result
	}
	result.DriverID = driverID

	var slot models.Slot
	err = s.mutate(ctx, shiftID, func(tx Tx) error {
		waves, err := tx.Waves()
		if err != nil {
			return err
		}
		wave, err := findWave(waves, row.WaveIndex)
		if err != nil {
			return err
		}
		// A driver already in the target wave keeps their slot; otherwise append
		var slotIndex *int
		for pos, existing := range wave.Slots {
			if existing.HasDriver() && *existing.DriverID == driverID {
				p := pos
				slotIndex = &p
				break
			}
		}
		slot, err = s.upsertSlot(tx, row.WaveIndex, slotIndex, models.SlotFields{
			DriverID:  &driverID,
			DockLabel: row.DockLabel,
			RouteCode: row.RouteCode,
		})
		return err
	})
	if err != nil {
		result.Status = models.ImportRowError
		result.Error = err.Error()
		return result
	}

	result.Status = models.ImportRowOK
	result.SlotID = slot.ID
	return result
}

// ArchiveShift closes a shift for edits
func (s *Service) ArchiveShift(ctx context.Context, shiftID string) error {
	if err := s.store.SetShiftStatus(ctx, shiftID, models.ShiftStatusArchived, s.now()); err != nil {
		return err
	}
	s.listener.WavesChanged(shiftID)
	return nil
}

// ArchiveDue archives every open shift whose end time has passed
func (s *Service) ArchiveDue(ctx context.Context, now time.Time) ([]models.Shift, error) {
	due, err := s.store.ListDueShifts(ctx, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list due shifts: %w", err)
	}
	archived := make([]models.Shift, 0, len(due))
	for _, shift := range due {
		if err := s.ArchiveShift(ctx, shift.ID); err != nil {
			log.Printf("❌ [WAVES] Failed to archive shift %s: %v", shift.ID, err)
			continue
		}
		shift.Status = models.ShiftStatusArchived
		archived = append(archived, shift)
	}
	return archived, nil
}

func findWave(waves []models.Wave, index int) (models.Wave, error) {
	if index < 0 || index >= len(waves) {
		return models.Wave{}, errs.NotFound(fmt.Sprintf("wave:%d", index))
	}
	return waves[index], nil
}

func findSlot(waves []models.Wave, slotID string) (models.Slot, bool) {
	for _, w := range waves {
		for _, slot := range w.Slots {
			if slot.ID == slotID {
				return slot, true
			}
		}
	}
	return models.Slot{}, false
}

// checkDriverFree enforces one slot per driver per shift; selfID is the slot being written
func checkDriverFree(waves []models.Wave, driverID *string, selfID string) error {
	if driverID == nil || *driverID == "" {
		return nil
	}
	for _, w := range waves {
		for _, slot := range w.Slots {
			if slot.ID != selfID && slot.HasDriver() && *slot.DriverID == *driverID {
				return errs.Conflict(
					fmt.Sprintf("driver %s is already assigned in wave %d", *driverID, w.Index),
					"slot:"+slot.ID,
				)
			}
		}
	}
	return nil
}

func cleanDriver(id *string) *string {
	if id == nil || *id == "" {
		return nil
	}
	v := *id
	return &v
}
