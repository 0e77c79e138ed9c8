package models

// DriverState is the canonical fulfillment state of a driver within a shift
type DriverState string

const (
	StateEnRoute          DriverState = "EN_ROUTE"
	StateArrived          DriverState = "ARRIVED"
	StateParkingRequested DriverState = "PARKING_REQUESTED"
	StateParked           DriverState = "PARKED"
	StateCalledToDock     DriverState = "CALLED_TO_DOCK"
	StateLoading          DriverState = "LOADING"
	StateCompleted        DriverState = "COMPLETED"
)

// AllDriverStates lists every state in lifecycle order
var AllDriverStates = []DriverState{
	StateEnRoute,
	StateArrived,
	StateParkingRequested,
	StateParked,
	StateCalledToDock,
	StateLoading,
	StateCompleted,
}

// IsCalled reports whether the dispatcher has called the driver somewhere
func (s DriverState) IsCalled() bool {
	return s == StateCalledToDock || s == StateParkingRequested
}

// DriverShiftStatus is the authoritative record for one driver in one shift.
// Timestamps are unix milliseconds.
type DriverShiftStatus struct {
	DriverID    string      `json:"driver_id" db:"driver_id"`
	ShiftID     string      `json:"shift_id" db:"shift_id"`
	State       DriverState `json:"state" db:"state"`
	DockLabel   *string     `json:"dock_label" db:"dock_label"`
	RouteCode   *string     `json:"route_code" db:"route_code"`
	ConfirmedAt *int64      `json:"confirmed_at" db:"confirmed_at"`
	CompletedAt *int64      `json:"completed_at" db:"completed_at"`
	LastEventAt int64       `json:"last_event_at" db:"last_event_at"` // Timestamp of the event that produced this state
	// Sample time of the last applied geofence event. Older crossings are stale.
	LastGeofenceAt int64 `json:"last_geofence_at" db:"last_geofence_at"`
	LastSeq     int64       `json:"last_seq" db:"last_seq"`
	Version     int         `json:"version" db:"version"`
	UpdatedAt   int64       `json:"updated_at" db:"updated_at"`
}

// NewDriverShiftStatus returns the initial EN_ROUTE record
func NewDriverShiftStatus(driverID, shiftID string, now int64) DriverShiftStatus {
	return DriverShiftStatus{
		DriverID:  driverID,
		ShiftID:   shiftID,
		State:     StateEnRoute,
		UpdatedAt: now,
	}
}

// IsConfirmed reports whether the driver acknowledged the current call
func (s *DriverShiftStatus) IsConfirmed() bool {
	return s.ConfirmedAt != nil
}

// Clone returns a deep copy so callers can't mutate shared pointers
func (s DriverShiftStatus) Clone() DriverShiftStatus {
	out := s
	if s.DockLabel != nil {
		out.DockLabel = StringPtr(*s.DockLabel)
	}
	if s.RouteCode != nil {
		out.RouteCode = StringPtr(*s.RouteCode)
	}
	if s.ConfirmedAt != nil {
		out.ConfirmedAt = Int64Ptr(*s.ConfirmedAt)
	}
	if s.CompletedAt != nil {
		out.CompletedAt = Int64Ptr(*s.CompletedAt)
	}
	return out
}

// StatusKey addresses one (driver, shift) pair
type StatusKey struct {
	DriverID string
	ShiftID  string
}

func (k StatusKey) String() string {
	return k.DriverID + "@" + k.ShiftID
}

// Key returns the (driver, shift) key of the record
func (s *DriverShiftStatus) Key() StatusKey {
	return StatusKey{DriverID: s.DriverID, ShiftID: s.ShiftID}
}

// TransitionRecord is one row of the append-only transition audit log
type TransitionRecord struct {
	ID         int64       `json:"id" db:"id"`
	DriverID   string      `json:"driver_id" db:"driver_id"`
	ShiftID    string      `json:"shift_id" db:"shift_id"`
	FromState  DriverState `json:"from_state" db:"from_state"`
	ToState    DriverState `json:"to_state" db:"to_state"`
	EventKind  EventKind   `json:"event_kind" db:"event_kind"`
	Source     EventSource `json:"source" db:"source"`
	Seq        int64       `json:"seq" db:"seq"`
	EventAt    int64       `json:"event_at" db:"event_at"`
	RecordedAt int64       `json:"recorded_at" db:"recorded_at"`
}
