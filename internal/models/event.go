package models

// EventKind names everything that can move a driver's state
type EventKind string

const (
	// Geofence events
	EventEnterDock    EventKind = "ENTER_DOCK"
	EventExitDock     EventKind = "EXIT_DOCK"
	EventEnterParking EventKind = "ENTER_PARKING"
	EventExitParking  EventKind = "EXIT_PARKING"

	// Dispatcher actions
	EventCallToDock    EventKind = "CALL_TO_DOCK"
	EventCallToParking EventKind = "CALL_TO_PARKING"

	// Driver actions
	EventConfirm         EventKind = "CONFIRM"
	EventStartLoading    EventKind = "START_LOADING"
	EventCompleteLoading EventKind = "COMPLETE_LOADING"
)

// EventSource is the producer an event came from
type EventSource string

const (
	SourceGeofence   EventSource = "geofence"
	SourceDispatcher EventSource = "dispatcher"
	SourceDriver     EventSource = "driver"
)

// Source returns the producer that emits this kind of event
func (k EventKind) Source() EventSource {
	switch k {
	case EventEnterDock, EventExitDock, EventEnterParking, EventExitParking:
		return SourceGeofence
	case EventCallToDock, EventCallToParking:
		return SourceDispatcher
	default:
		return SourceDriver
	}
}

// Event is one input to a driver's state machine.
// Seq orders events per driver; zero means "stamp on arrival".
// At is the occurrence time in unix milliseconds (sample time for geofence events).
type Event struct {
	Kind      EventKind `json:"kind"`
	DriverID  string    `json:"driver_id"`
	ShiftID   string    `json:"shift_id"`
	Seq       int64     `json:"seq,omitempty"`
	At        int64     `json:"at"`
	DockLabel string    `json:"dock_label,omitempty"` // CALL_TO_DOCK only
	RouteCode string    `json:"route_code,omitempty"` // CALL_TO_DOCK only
}

// Key returns the (driver, shift) serialization key of the event
func (e *Event) Key() StatusKey {
	return StatusKey{DriverID: e.DriverID, ShiftID: e.ShiftID}
}
