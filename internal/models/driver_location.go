package models

// LocationSample is one GPS reading from a driver's device
type LocationSample struct {
	DriverID  string   `json:"driver_id" db:"driver_id"`
	ShiftID   string   `json:"shift_id" db:"shift_id"`
	Latitude  float64  `json:"latitude" db:"latitude"`
	Longitude float64  `json:"longitude" db:"longitude"`
	Heading   *float64 `json:"heading,omitempty" db:"heading"`   // Direction of travel (0-360 degrees)
	Speed     *float64 `json:"speed,omitempty" db:"speed"`       // Speed in m/s as reported by the device
	Accuracy  *float64 `json:"accuracy,omitempty" db:"accuracy"` // GPS accuracy radius in meters
	Timestamp int64    `json:"timestamp" db:"timestamp"`         // Client-side timestamp, unix ms
}

// AccuracyOr returns the reported accuracy or def when the device didn't send one
func (s *LocationSample) AccuracyOr(def float64) float64 {
	if s.Accuracy == nil {
		return def
	}
	return *s.Accuracy
}
