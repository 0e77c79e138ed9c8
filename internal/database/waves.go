package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
	"dockwave-backend/internal/wavestore"

	"github.com/jmoiron/sqlx"
)

const slotColumns = `id, shift_id, wave_index, position, driver_id, dock_label, route_code,
	window_start, window_end, cargo_qty, updated_at`

// WaveStore is the Postgres wavestore.Store. Units of work lock the shift row,
// so all composition edits of one shift are serialized.
type WaveStore struct {
	db *sqlx.DB
}

// NewWaveStore creates a store over db
func NewWaveStore(db *sqlx.DB) *WaveStore {
	return &WaveStore{db: db}
}

func (s *WaveStore) CreateShift(ctx context.Context, shift models.Shift) error {
	query := `
		INSERT INTO shifts (id, base_id, day, turn, status, ends_at, created_at, updated_at)
		VALUES (:id, :base_id, :day, :turn, :status, :ends_at, :created_at, :updated_at)
	`
	if _, err := s.db.NamedExecContext(ctx, query, shift); err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("shift already exists", "shift:"+shift.ID)
		}
		return fmt.Errorf("failed to insert shift: %w", err)
	}
	return nil
}

func (s *WaveStore) GetShift(ctx context.Context, shiftID string) (models.Shift, error) {
	return getShift(ctx, s.db, shiftID, false)
}

func (s *WaveStore) ListShifts(ctx context.Context, status models.ShiftStatus) ([]models.Shift, error) {
	shifts := []models.Shift{}
	query := `SELECT * FROM shifts WHERE ($1 = '' OR status = $1) ORDER BY day DESC, created_at DESC`
	if err := s.db.SelectContext(ctx, &shifts, query, string(status)); err != nil {
		return nil, fmt.Errorf("failed to list shifts: %w", err)
	}
	return shifts, nil
}

func (s *WaveStore) ListDueShifts(ctx context.Context, nowMillis int64) ([]models.Shift, error) {
	shifts := []models.Shift{}
	query := `SELECT * FROM shifts WHERE status = 'open' AND ends_at > 0 AND ends_at <= $1 ORDER BY ends_at`
	if err := s.db.SelectContext(ctx, &shifts, query, nowMillis); err != nil {
		return nil, fmt.Errorf("failed to list due shifts: %w", err)
	}
	return shifts, nil
}

func (s *WaveStore) SetShiftStatus(ctx context.Context, shiftID string, status models.ShiftStatus, nowMillis int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shifts SET status = $2, updated_at = $3 WHERE id = $1`, shiftID, status, nowMillis)
	if err != nil {
		return fmt.Errorf("failed to update shift status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("shift:" + shiftID)
	}
	return nil
}

func (s *WaveStore) Layout(ctx context.Context, shiftID string) (models.ShiftLayout, error) {
	// A read-only snapshot so waves and slots come from the same commit
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return models.ShiftLayout{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	shift, err := getShift(ctx, tx, shiftID, false)
	if err != nil {
		return models.ShiftLayout{}, err
	}
	waves, err := loadWaves(ctx, tx, shiftID)
	if err != nil {
		return models.ShiftLayout{}, err
	}
	return models.ShiftLayout{Shift: shift, Waves: waves}, nil
}

func (s *WaveStore) WithShift(ctx context.Context, shiftID string, fn func(tx wavestore.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	shift, err := getShift(ctx, tx, shiftID, true)
	if err != nil {
		return err
	}

	if err := fn(&waveTx{ctx: ctx, tx: tx, shift: shift}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit wave changes: %w", err)
	}
	return nil
}

func getShift(ctx context.Context, q sqlx.QueryerContext, shiftID string, lock bool) (models.Shift, error) {
	query := `SELECT * FROM shifts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var shift models.Shift
	err := sqlx.GetContext(ctx, q, &shift, query, shiftID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Shift{}, errs.NotFound("shift:" + shiftID)
	}
	if err != nil {
		return models.Shift{}, fmt.Errorf("failed to load shift: %w", err)
	}
	return shift, nil
}

func loadWaves(ctx context.Context, q sqlx.QueryerContext, shiftID string) ([]models.Wave, error) {
	waves := []models.Wave{}
	err := sqlx.SelectContext(ctx, q, &waves,
		`SELECT shift_id, wave_index, next_position, created_at FROM waves WHERE shift_id = $1 ORDER BY wave_index`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load waves: %w", err)
	}

	var slots []models.Slot
	err = sqlx.SelectContext(ctx, q, &slots,
		`SELECT `+slotColumns+` FROM slots WHERE shift_id = $1 ORDER BY wave_index, position`, shiftID)
	if err != nil {
		return nil, fmt.Errorf("failed to load slots: %w", err)
	}

	for i := range waves {
		waves[i].Slots = []models.Slot{}
	}
	for _, slot := range slots {
		if slot.WaveIndex >= 0 && slot.WaveIndex < len(waves) {
			waves[slot.WaveIndex].Slots = append(waves[slot.WaveIndex].Slots, slot)
		}
	}
	return waves, nil
}

// waveTx runs inside WithShift with the shift row locked
type waveTx struct {
	ctx   context.Context
	tx    *sqlx.Tx
	shift models.Shift
}

func (t *waveTx) Shift() models.Shift {
	return t.shift
}

func (t *waveTx) Waves() ([]models.Wave, error) {
	return loadWaves(t.ctx, t.tx, t.shift.ID)
}

func (t *waveTx) AddWave(nowMillis int64) (int, error) {
	var index int
	err := t.tx.GetContext(t.ctx, &index, `
		INSERT INTO waves (shift_id, wave_index, next_position, created_at)
		SELECT $1, COALESCE(MAX(wave_index) + 1, 0), 0, $2 FROM waves WHERE shift_id = $1
		RETURNING wave_index
	`, t.shift.ID, nowMillis)
	if err != nil {
		return 0, fmt.Errorf("failed to add wave: %w", err)
	}
	return index, nil
}

func (t *waveTx) DeleteWave(index int) error {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM waves WHERE shift_id = $1 AND wave_index = $2`, t.shift.ID, index)
	if err != nil {
		return fmt.Errorf("failed to delete wave: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("wave:" + strconv.Itoa(index))
	}

	steps := []string{
		`DELETE FROM slots WHERE shift_id = $1 AND wave_index = $2`,
		`UPDATE waves SET wave_index = wave_index - 1 WHERE shift_id = $1 AND wave_index > $2`,
		`UPDATE slots SET wave_index = wave_index - 1 WHERE shift_id = $1 AND wave_index > $2`,
	}
	for _, q := range steps {
		if _, err := t.tx.ExecContext(t.ctx, q, t.shift.ID, index); err != nil {
			return fmt.Errorf("failed to renumber waves: %w", err)
		}
	}
	return nil
}

func (t *waveTx) AddSlot(slot models.Slot) (models.Slot, error) {
	var position int
	err := t.tx.GetContext(t.ctx, &position, `
		UPDATE waves SET next_position = next_position + 1
		WHERE shift_id = $1 AND wave_index = $2
		RETURNING next_position - 1
	`, t.shift.ID, slot.WaveIndex)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Slot{}, errs.NotFound("wave:" + strconv.Itoa(slot.WaveIndex))
	}
	if err != nil {
		return models.Slot{}, fmt.Errorf("failed to reserve slot position: %w", err)
	}

	slot.ShiftID = t.shift.ID
	slot.Position = position
	_, err = t.tx.NamedExecContext(t.ctx, `
		INSERT INTO slots (`+slotColumns+`)
		VALUES (:id, :shift_id, :wave_index, :position, :driver_id, :dock_label, :route_code,
			:window_start, :window_end, :cargo_qty, :updated_at)
	`, slot)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Slot{}, errs.Conflict("driver already holds a slot in this shift", "slot:"+slot.ID)
		}
		return models.Slot{}, fmt.Errorf("failed to insert slot: %w", err)
	}
	return slot, nil
}

func (t *waveTx) SaveSlot(slot models.Slot) error {
	slot.ShiftID = t.shift.ID
	rows, err := sqlx.NamedQueryContext(t.ctx, t.tx, `
		UPDATE slots SET driver_id = :driver_id, dock_label = :dock_label, route_code = :route_code,
			window_start = :window_start, window_end = :window_end, cargo_qty = :cargo_qty,
			updated_at = :updated_at
		WHERE id = :id AND shift_id = :shift_id
		RETURNING id
	`, slot)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("driver already holds a slot in this shift", "slot:"+slot.ID)
		}
		return fmt.Errorf("failed to update slot: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to update slot: %w", err)
		}
		return errs.NotFound("slot:" + slot.ID)
	}
	return nil
}
