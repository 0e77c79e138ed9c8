package models

import "time"

// ShiftStatus represents the lifecycle of a shift
type ShiftStatus string

const (
	ShiftStatusOpen     ShiftStatus = "open"     // Scheduling open, waves editable
	ShiftStatusArchived ShiftStatus = "archived" // Past ends_at, read-only
)

// ShiftTurn is the operating window within a day
type ShiftTurn string

const (
	ShiftTurnMorning   ShiftTurn = "morning"
	ShiftTurnAfternoon ShiftTurn = "afternoon"
	ShiftTurnNight     ShiftTurn = "night"
)

// Valid reports whether the turn is one of the known windows
func (t ShiftTurn) Valid() bool {
	switch t {
	case ShiftTurnMorning, ShiftTurnAfternoon, ShiftTurnNight:
		return true
	}
	return false
}

// Shift is one operating window for one base. All timestamps are unix milliseconds.
type Shift struct {
	ID        string      `json:"id" db:"id"`
	BaseID    string      `json:"base_id" db:"base_id"`
	Day       string      `json:"day" db:"day"` // YYYY-MM-DD
	Turn      ShiftTurn   `json:"turn" db:"turn"`
	Status    ShiftStatus `json:"status" db:"status"`
	EndsAt    int64       `json:"ends_at" db:"ends_at"`
	CreatedAt int64       `json:"created_at" db:"created_at"`
	UpdatedAt int64       `json:"updated_at" db:"updated_at"`
}

// IsArchived returns true once the shift no longer accepts edits or events
func (s *Shift) IsArchived() bool {
	return s.Status == ShiftStatusArchived
}

// IsDue reports whether the shift has passed its end time and should be archived
func (s *Shift) IsDue(now time.Time) bool {
	return s.Status == ShiftStatusOpen && s.EndsAt > 0 && now.UnixMilli() >= s.EndsAt
}

// NowMillis is the clock used for persisted timestamps
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// StringPtr returns a pointer to a copy of s
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to a copy of i
func Int64Ptr(i int64) *int64 {
	return &i
}
