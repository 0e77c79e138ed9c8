// Package wavestore owns shift wave composition: waves, slots and the slot to driver
// assignment. Business rules live in Service; Store implementations only provide
// locked, atomic units of work over one shift.
package wavestore

import (
	"context"

	"dockwave-backend/internal/models"
)

// Store persists shifts and their waves
type Store interface {
	CreateShift(ctx context.Context, shift models.Shift) error
	GetShift(ctx context.Context, shiftID string) (models.Shift, error)
	ListShifts(ctx context.Context, status models.ShiftStatus) ([]models.Shift, error)
	ListDueShifts(ctx context.Context, nowMillis int64) ([]models.Shift, error)
	SetShiftStatus(ctx context.Context, shiftID string, status models.ShiftStatus, nowMillis int64) error

	// Layout reads the committed composition of a shift
	Layout(ctx context.Context, shiftID string) (models.ShiftLayout, error)

	// WithShift runs fn with the shift locked against concurrent structural edits.
	// Everything fn does through tx commits together, or not at all when fn errors.
	WithShift(ctx context.Context, shiftID string, fn func(tx Tx) error) error
}

// Tx is the set of primitives available inside WithShift
type Tx interface {
	Shift() models.Shift
	// Waves returns the current waves in index order, slots in position order
	Waves() ([]models.Wave, error)
	// AddWave appends a wave and returns its index
	AddWave(nowMillis int64) (int, error)
	// DeleteWave drops a wave and shifts later wave indices down by one
	DeleteWave(index int) error
	// AddSlot appends slot to its wave, assigning the next position
	AddSlot(slot models.Slot) (models.Slot, error)
	// SaveSlot overwrites an existing slot by id
	SaveSlot(slot models.Slot) error
}

// DriverDirectory resolves import references (driver id or display name)
type DriverDirectory interface {
	ResolveDriver(ctx context.Context, ref string) (driverID string, ok bool, err error)
}

// Listener is told after a committed change to a shift's composition
type Listener interface {
	WavesChanged(shiftID string)
}

type noopListener struct{}

func (noopListener) WavesChanged(string) {}
