package models

// Wave is an ordered batch of slots dispatched together within a shift
type Wave struct {
	ShiftID      string `json:"shift_id" db:"shift_id"`
	Index        int    `json:"index" db:"wave_index"`
	NextPosition int    `json:"-" db:"next_position"` // Monotonic per-wave slot ordering counter
	CreatedAt    int64  `json:"created_at" db:"created_at"`
	Slots        []Slot `json:"slots" db:"-"`
}

// Slot is one assignment line within a wave
type Slot struct {
	ID          string  `json:"id" db:"id"`
	ShiftID     string  `json:"shift_id" db:"shift_id"`
	WaveIndex   int     `json:"wave_index" db:"wave_index"`
	Position    int     `json:"position" db:"position"`
	DriverID    *string `json:"driver_id" db:"driver_id"`
	DockLabel   string  `json:"dock_label" db:"dock_label"`
	RouteCode   string  `json:"route_code" db:"route_code"`
	WindowStart *int64  `json:"window_start,omitempty" db:"window_start"`
	WindowEnd   *int64  `json:"window_end,omitempty" db:"window_end"`
	CargoQty    *int    `json:"cargo_qty,omitempty" db:"cargo_qty"`
	UpdatedAt   int64   `json:"updated_at" db:"updated_at"`
}

// HasDriver reports whether a driver is assigned to the slot
func (s *Slot) HasDriver() bool {
	return s.DriverID != nil && *s.DriverID != ""
}

// SlotFields is the driver/dock/route triple written by upserts and imports
type SlotFields struct {
	DriverID  *string `json:"driver_id"`
	DockLabel string  `json:"dock_label"`
	RouteCode string  `json:"route_code"`
}

// SlotPatch edits individual slot fields. Nil fields are left untouched;
// ClearDriver unassigns the driver.
type SlotPatch struct {
	DriverID    *string `json:"driver_id,omitempty"`
	ClearDriver bool    `json:"clear_driver,omitempty"`
	DockLabel   *string `json:"dock_label,omitempty"`
	RouteCode   *string `json:"route_code,omitempty"`
	WindowStart *int64  `json:"window_start,omitempty"`
	WindowEnd   *int64  `json:"window_end,omitempty"`
	CargoQty    *int    `json:"cargo_qty,omitempty"`
}

// Apply writes the patch onto the slot
func (p SlotPatch) Apply(s *Slot) {
	if p.ClearDriver {
		s.DriverID = nil
	} else if p.DriverID != nil {
		id := *p.DriverID
		s.DriverID = &id
	}
	if p.DockLabel != nil {
		s.DockLabel = *p.DockLabel
	}
	if p.RouteCode != nil {
		s.RouteCode = *p.RouteCode
	}
	if p.WindowStart != nil {
		s.WindowStart = p.WindowStart
	}
	if p.WindowEnd != nil {
		s.WindowEnd = p.WindowEnd
	}
	if p.CargoQty != nil {
		s.CargoQty = p.CargoQty
	}
}

// ShiftLayout is a shift with its full wave composition
type ShiftLayout struct {
	Shift Shift  `json:"shift"`
	Waves []Wave `json:"waves"`
}

// ImportRow is one line of a bulk wave import
type ImportRow struct {
	Driver    string `json:"driver"` // Driver id or display name
	DockLabel string `json:"dock_label"`
	RouteCode string `json:"route_code"`
	WaveIndex int    `json:"wave_index"`
}

// ImportRowStatus is the per-row outcome of an import
type ImportRowStatus string

const (
	ImportRowOK               ImportRowStatus = "ok"
	ImportRowUnresolvedDriver ImportRowStatus = "unresolved_driver"
	ImportRowError            ImportRowStatus = "error"
)

// ImportRowResult reports what happened to one import row
type ImportRowResult struct {
	Row      int             `json:"row"`
	Status   ImportRowStatus `json:"status"`
	DriverID string          `json:"driver_id,omitempty"`
	SlotID   string          `json:"slot_id,omitempty"`
	Error    string          `json:"error,omitempty"`
}
