package models

// PackageReturn is one registration in the global package-return registry
type PackageReturn struct {
	PackageID    string `json:"package_id" db:"package_id"` // 11 digits
	DriverID     string `json:"driver_id" db:"driver_id"`
	ShiftID      string `json:"shift_id" db:"shift_id"`
	RegisteredAt int64  `json:"registered_at" db:"registered_at"`
}
