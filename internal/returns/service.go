// Package returns registers returned packages in a global registry where each
// package id may be claimed once.
package returns

import (
	"context"
	"log"
	"regexp"
	"time"

	"dockwave-backend/internal/errs"
	"dockwave-backend/internal/models"
)

var packageIDPattern = regexp.MustCompile(`^[0-9]{11}$`)

// Registry claims package ids atomically. Claim reports false when the id was already taken.
type Registry interface {
	Claim(ctx context.Context, ret models.PackageReturn) (bool, error)
	ListByShift(ctx context.Context, shiftID string) ([]models.PackageReturn, error)
}

// ItemStatus is the per-id outcome of a batch
type ItemStatus string

const (
	ItemAccepted ItemStatus = "accepted"
	ItemConflict ItemStatus = "conflict"
	ItemInvalid  ItemStatus = "invalid"
	ItemError    ItemStatus = "error" // Registry failure; the id was not claimed and may be resent
)

// ItemResult reports one id of a batch
type ItemResult struct {
	PackageID string     `json:"package_id"`
	Status    ItemStatus `json:"status"`
	Kind      errs.Kind  `json:"kind,omitempty"`
	Error     string     `json:"error,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
}

// BatchResult is the outcome of RegisterBatch, in input order
type BatchResult struct {
	Items    []ItemResult `json:"items"`
	Accepted int          `json:"accepted"`
	Rejected int          `json:"rejected"` // Invalid or conflicting ids
	Failed   int          `json:"failed"`   // Ids the registry could not process
}

// Service validates and registers package returns
type Service struct {
	registry Registry
	now      func() int64
}

// NewService creates a returns service over a registry
func NewService(registry Registry) *Service {
	return &Service{
		registry: registry,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// ValidPackageID reports whether id is exactly 11 digits
func ValidPackageID(id string) bool {
	return packageIDPattern.MatchString(id)
}

// RegisterBatch claims every id of the batch for the driver. Ids are handled one by
// one: malformed ids are invalid, ids already registered (or repeated earlier in the
// batch) are conflicts, the rest are accepted. A registry failure on one id is reported
// on that item and the batch continues, so the caller learns exactly which ids to resend.
func (s *Service) RegisterBatch(ctx context.Context, driverID, shiftID string, ids []string) (BatchResult, error) {
	if driverID == "" || shiftID == "" {
		return BatchResult{}, errs.Invalid("driver and shift are required")
	}
	if len(ids) == 0 {
		return BatchResult{}, errs.Invalid("package_ids must not be empty")
	}

	result := BatchResult{Items: make([]ItemResult, 0, len(ids))}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		item := ItemResult{PackageID: id}
		switch {
		case !ValidPackageID(id):
			item.Status = ItemInvalid
			item.Kind = errs.KindInvalidArgument
			item.Error = "package id must be exactly 11 digits"
		case seen[id]:
			item.Status = ItemConflict
			item.Kind = errs.KindConflict
			item.Error = "package id repeated in batch"
		default:
			seen[id] = true
			ok, err := s.registry.Claim(ctx, models.PackageReturn{
				PackageID:    id,
				DriverID:     driverID,
				ShiftID:      shiftID,
				RegisteredAt: s.now(),
			})
			switch {
			case err != nil:
				// Not claimed: a resend must not see it as taken
				delete(seen, id)
				log.Printf("❌ [RETURNS] Claiming package %s for %s failed: %v", id, driverID, err)
				item.Status = ItemError
				item.Error = "registry unavailable, resend this id"
				item.Retryable = true
			case ok:
				item.Status = ItemAccepted
			default:
				item.Status = ItemConflict
				item.Kind = errs.KindConflict
				item.Error = "package already registered"
			}
		}
		switch item.Status {
		case ItemAccepted:
			result.Accepted++
		case ItemError:
			result.Failed++
		default:
			result.Rejected++
		}
		result.Items = append(result.Items, item)
	}

	log.Printf("📦 [RETURNS] Driver %s in shift %s: %d accepted, %d rejected, %d failed", driverID, shiftID, result.Accepted, result.Rejected, result.Failed)
	return result, nil
}

// List returns the registrations of a shift
func (s *Service) List(ctx context.Context, shiftID string) ([]models.PackageReturn, error) {
	return s.registry.ListByShift(ctx, shiftID)
}
