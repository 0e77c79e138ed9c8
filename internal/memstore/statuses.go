package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
)

// StatusStore keeps driver statuses and their transition log in memory
type StatusStore struct {
	mu          sync.RWMutex
	statuses    map[models.StatusKey]models.DriverShiftStatus
	transitions map[models.StatusKey][]models.TransitionRecord
	nextID      int64
}

// NewStatusStore creates an empty store
func NewStatusStore() *StatusStore {
	return &StatusStore{
		statuses:    make(map[models.StatusKey]models.DriverShiftStatus),
		transitions: make(map[models.StatusKey][]models.TransitionRecord),
	}
}

func (s *StatusStore) GetStatus(ctx context.Context, key models.StatusKey) (models.DriverShiftStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[key]
	if !ok {
		return models.DriverShiftStatus{}, false, nil
	}
	return st.Clone(), true, nil
}

func (s *StatusStore) ListStatuses(ctx context.Context, shiftID string) ([]models.DriverShiftStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.DriverShiftStatus{}
	for key, st := range s.statuses {
		if key.ShiftID == shiftID {
			out = append(out, st.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

// SaveStatus writes next when the stored version still equals expectedVersion
// (0 means the record must not exist yet) and appends steps to the log.
func (s *StatusStore) SaveStatus(ctx context.Context, next models.DriverShiftStatus, expectedVersion int, steps []models.TransitionRecord) (models.DriverShiftStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.DriverShiftStatus{}, err
	}

	key := next.Key()
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.statuses[key]
	storedVersion := 0
	if exists {
		storedVersion = current.Version
	}
	if storedVersion != expectedVersion {
		return models.DriverShiftStatus{}, errs.Conflict(
			fmt.Sprintf("status version is %d, expected %d", storedVersion, expectedVersion),
			"status:"+key.String(),
		)
	}

	next.Version = expectedVersion + 1
	s.statuses[key] = next.Clone()
	for _, step := range steps {
		s.nextID++
		step.ID = s.nextID
		s.transitions[key] = append(s.transitions[key], step)
	}
	return next, nil
}

func (s *StatusStore) History(ctx context.Context, key models.StatusKey) ([]models.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TransitionRecord, len(s.transitions[key]))
	copy(out, s.transitions[key])
	return out, nil
}
