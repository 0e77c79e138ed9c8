package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"

	"github.com/jmoiron/sqlx"
)

const statusColumns = `driver_id, shift_id, state, dock_label, route_code, confirmed_at, completed_at,
	last_event_at, last_geofence_at, last_seq, version, updated_at`

// StatusStore persists driver statuses with optimistic versioning and the transition log
type StatusStore struct {
	db *sqlx.DB
}

// NewStatusStore creates a store over db
func NewStatusStore(db *sqlx.DB) *StatusStore {
	return &StatusStore{db: db}
}

func (s *StatusStore) GetStatus(ctx context.Context, key models.StatusKey) (models.DriverShiftStatus, bool, error) {
	var st models.DriverShiftStatus
	err := s.db.GetContext(ctx, &st,
		`SELECT `+statusColumns+` FROM driver_shift_status WHERE driver_id = $1 AND shift_id = $2`,
		key.DriverID, key.ShiftID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DriverShiftStatus{}, false, nil
	}
	if err != nil {
		return models.DriverShiftStatus{}, false, fmt.Errorf("failed to load status %s: %w", key, err)
	}
	return st, true, nil
}

func (s *StatusStore) ListStatuses(ctx context.Context, shiftID string) ([]models.DriverShiftStatus, error) {
	statuses := []models.DriverShiftStatus{}
	err := s.db.SelectContext(ctx, &statuses,
		`SELECT `+statusColumns+` FROM driver_shift_status WHERE shift_id = $1 ORDER BY driver_id`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	return statuses, nil
}

// SaveStatus writes next only if the stored version still equals expectedVersion
// (0 inserts a new record) and appends steps in the same transaction
func (s *StatusStore) SaveStatus(ctx context.Context, next models.DriverShiftStatus, expectedVersion int, steps []models.TransitionRecord) (models.DriverShiftStatus, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.DriverShiftStatus{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	key := next.Key()
	next.Version = expectedVersion + 1

	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.NamedExecContext(ctx, `
			INSERT INTO driver_shift_status (`+statusColumns+`)
			VALUES (:driver_id, :shift_id, :state, :dock_label, :route_code, :confirmed_at, :completed_at,
				:last_event_at, :last_geofence_at, :last_seq, :version, :updated_at)
			ON CONFLICT (driver_id, shift_id) DO NOTHING
		`, next)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE driver_shift_status
			SET state = $3, dock_label = $4, route_code = $5, confirmed_at = $6, completed_at = $7,
				last_event_at = $8, last_geofence_at = $9, last_seq = $10, version = $11, updated_at = $12
			WHERE driver_id = $1 AND shift_id = $2 AND version = $13
		`, next.DriverID, next.ShiftID, next.State, next.DockLabel, next.RouteCode, next.ConfirmedAt,
			next.CompletedAt, next.LastEventAt, next.LastGeofenceAt, next.LastSeq, next.Version, next.UpdatedAt, expectedVersion)
	}
	if err != nil {
		return models.DriverShiftStatus{}, fmt.Errorf("failed to save status %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.DriverShiftStatus{}, errs.Conflict(
			fmt.Sprintf("status changed since version %d", expectedVersion),
			"status:"+key.String(),
		)
	}

	for _, step := range steps {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO driver_state_transitions
				(driver_id, shift_id, from_state, to_state, event_kind, source, seq, event_at, recorded_at)
			VALUES (:driver_id, :shift_id, :from_state, :to_state, :event_kind, :source, :seq, :event_at, :recorded_at)
		`, step)
		if err != nil {
			return models.DriverShiftStatus{}, fmt.Errorf("failed to record transition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.DriverShiftStatus{}, fmt.Errorf("failed to commit status: %w", err)
	}
	return next, nil
}

func (s *StatusStore) History(ctx context.Context, key models.StatusKey) ([]models.TransitionRecord, error) {
	history := []models.TransitionRecord{}
	err := s.db.SelectContext(ctx, &history, `
		SELECT id, driver_id, shift_id, from_state, to_state, event_kind, source, seq, event_at, recorded_at
		FROM driver_state_transitions
		WHERE shift_id = $1 AND driver_id = $2
		ORDER BY id
	`, key.ShiftID, key.DriverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return history, nil
}
