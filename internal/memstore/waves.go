// Package memstore holds in-process implementations of every store the server needs.
// It backs local development (no DATABASE_URL) and the unit tests.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/wavestore"
)

type shiftData struct {
	mu    sync.Mutex // serializes units of work on this shift
	shift models.Shift
	waves []models.Wave
}

// WaveStore is an in-memory wavestore.Store
type WaveStore struct {
	mu     sync.RWMutex
	shifts map[string]*shiftData
}

// NewWaveStore creates an empty store
func NewWaveStore() *WaveStore {
	return &WaveStore{shifts: make(map[string]*shiftData)}
}

func (s *WaveStore) get(shiftID string) (*shiftData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sd, ok := s.shifts[shiftID]
	if !ok {
		return nil, errs.NotFound("shift:" + shiftID)
	}
	return sd, nil
}

func (s *WaveStore) CreateShift(ctx context.Context, shift models.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shifts[shift.ID]; ok {
		return errs.Conflict("shift already exists", "shift:"+shift.ID)
	}
	s.shifts[shift.ID] = &shiftData{shift: shift}
	return nil
}

func (s *WaveStore) GetShift(ctx context.Context, shiftID string) (models.Shift, error) {
	sd, err := s.get(shiftID)
	if err != nil {
		return models.Shift{}, err
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return sd.shift, nil
}

func (s *WaveStore) ListShifts(ctx context.Context, status models.ShiftStatus) ([]models.Shift, error) {
	return s.filter(func(sh models.Shift) bool {
		return status == "" || sh.Status == status
	}), nil
}

func (s *WaveStore) ListDueShifts(ctx context.Context, nowMillis int64) ([]models.Shift, error) {
	return s.filter(func(sh models.Shift) bool {
		return sh.IsDue(time.UnixMilli(nowMillis))
	}), nil
}

func (s *WaveStore) filter(keep func(models.Shift) bool) []models.Shift {
	s.mu.RLock()
	all := make([]*shiftData, 0, len(s.shifts))
	for _, sd := range s.shifts {
		all = append(all, sd)
	}
	s.mu.RUnlock()

	out := []models.Shift{}
	for _, sd := range all {
		sd.mu.Lock()
		sh := sd.shift
		sd.mu.Unlock()
		if keep(sh) {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day > out[j].Day
		}
		return out[i].CreatedAt > out[j].CreatedAt
	})
	return out
}

func (s *WaveStore) SetShiftStatus(ctx context.Context, shiftID string, status models.ShiftStatus, nowMillis int64) error {
	sd, err := s.get(shiftID)
	if err != nil {
		return err
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	sd.shift.Status = status
	sd.shift.UpdatedAt = nowMillis
	return nil
}

func (s *WaveStore) Layout(ctx context.Context, shiftID string) (models.ShiftLayout, error) {
	sd, err := s.get(shiftID)
	if err != nil {
		return models.ShiftLayout{}, err
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()
	return models.ShiftLayout{Shift: sd.shift, Waves: copyWaves(sd.waves)}, nil
}

func (s *WaveStore) WithShift(ctx context.Context, shiftID string, fn func(tx wavestore.Tx) error) error {
	sd, err := s.get(shiftID)
	if err != nil {
		return err
	}
	sd.mu.Lock()
	defer sd.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	// Work on a copy; it replaces the committed waves only if fn succeeds
	tx := &waveTx{shift: sd.shift, waves: copyWaves(sd.waves)}
	if err := fn(tx); err != nil {
		return err
	}
	sd.waves = tx.waves
	return nil
}

type waveTx struct {
	shift models.Shift
	waves []models.Wave
}

func (t *waveTx) Shift() models.Shift {
	return t.shift
}

func (t *waveTx) Waves() ([]models.Wave, error) {
	return copyWaves(t.waves), nil
}

func (t *waveTx) AddWave(nowMillis int64) (int, error) {
	index := len(t.waves)
	t.waves = append(t.waves, models.Wave{
		ShiftID:   t.shift.ID,
		Index:     index,
		CreatedAt: nowMillis,
		Slots:     []models.Slot{},
	})
	return index, nil
}

func (t *waveTx) DeleteWave(index int) error {
	if index < 0 || index >= len(t.waves) {
		return errs.NotFound("wave:" + strconv.Itoa(index))
	}
	t.waves = append(t.waves[:index], t.waves[index+1:]...)
	for i := index; i < len(t.waves); i++ {
		t.waves[i].Index = i
		for j := range t.waves[i].Slots {
			t.waves[i].Slots[j].WaveIndex = i
		}
	}
	return nil
}

func (t *waveTx) AddSlot(slot models.Slot) (models.Slot, error) {
	if slot.WaveIndex < 0 || slot.WaveIndex >= len(t.waves) {
		return models.Slot{}, errs.NotFound("wave:" + strconv.Itoa(slot.WaveIndex))
	}
	w := &t.waves[slot.WaveIndex]
	slot.ShiftID = t.shift.ID
	slot.Position = w.NextPosition
	w.NextPosition++
	w.Slots = append(w.Slots, slot)
	return slot, nil
}

func (t *waveTx) SaveSlot(slot models.Slot) error {
	for i := range t.waves {
		for j := range t.waves[i].Slots {
			if t.waves[i].Slots[j].ID == slot.ID {
				slot.WaveIndex = t.waves[i].Index
				slot.Position = t.waves[i].Slots[j].Position
				t.waves[i].Slots[j] = slot
				return nil
			}
		}
	}
	return errs.NotFound("slot:" + slot.ID)
}

func copyWaves(in []models.Wave) []models.Wave {
	out := make([]models.Wave, len(in))
	for i, w := range in {
		out[i] = w
		out[i].Slots = make([]models.Slot, len(w.Slots))
		for j, slot := range w.Slots {
			out[i].Slots[j] = copySlot(slot)
		}
	}
	return out
}

func copySlot(s models.Slot) models.Slot {
	out := s
	if s.DriverID != nil {
		out.DriverID = models.StringPtr(*s.DriverID)
	}
	if s.WindowStart != nil {
		out.WindowStart = models.Int64Ptr(*s.WindowStart)
	}
	if s.WindowEnd != nil {
		out.WindowEnd = models.Int64Ptr(*s.WindowEnd)
	}
	if s.CargoQty != nil {
		q := *s.CargoQty
		out.CargoQty = &q
	}
	return out
}
