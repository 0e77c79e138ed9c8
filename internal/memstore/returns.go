package memstore

import (
	"context"
	"sort"
	"sync"

	"dockwave-backend/internal/models"
)

// ReturnRegistry is an in-memory global package-return registry
type ReturnRegistry struct {
	mu    sync.Mutex
	byID  map[string]models.PackageReturn
	order []string
}

// NewReturnRegistry creates an empty registry
func NewReturnRegistry() *ReturnRegistry {
	return &ReturnRegistry{byID: make(map[string]models.PackageReturn)}
}

// Claim registers ret unless its package id is already taken
func (r *ReturnRegistry) Claim(ctx context.Context, ret models.PackageReturn) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byID[ret.PackageID]; taken {
		return false, nil
	}
	r.byID[ret.PackageID] = ret
	r.order = append(r.order, ret.PackageID)
	return true, nil
}

func (r *ReturnRegistry) ListByShift(ctx context.Context, shiftID string) ([]models.PackageReturn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.PackageReturn{}
	for _, id := range r.order {
		if ret := r.byID[id]; ret.ShiftID == shiftID {
			out = append(out, ret)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RegisteredAt < out[j].RegisteredAt })
	return out, nil
}
