package models

import "time"

// EntryStatus captures the lifecycle of a ledger entry.
type EntryStatus string

const (
	EntryStatusActive   EntryStatus = "active"
	EntryStatusExpired  EntryStatus = "expired"
	EntryStatusReversed EntryStatus = "reversed"
)

// LedgerEntry is one append-only movement on a driver's points ledger.
type LedgerEntry struct {
	ID              string      `db:"id" json:"id"`
	OrganizationID  string      `db:"organization_id" json:"organization_id"`
	DriverID        string      `db:"driver_id" json:"driver_id"`
	PointsAdded     int         `db:"points_added" json:"points_added"`
	PointsRemoved   int         `db:"points_removed" json:"points_removed"`
	BalanceBefore   int         `db:"balance_before" json:"balance_before"`
	BalanceAfter    int         `db:"balance_after" json:"balance_after"`
	Reason          string      `db:"reason" json:"reason"`
	EffectiveDate   time.Time   `db:"effective_date" json:"effective_date"`
	ExpiryDate      *time.Time  `db:"expiry_date" json:"expiry_date,omitempty"`
	InfringementID  *string     `db:"infringement_id" json:"infringement_id,omitempty"`
	ReversesEntryID *string     `db:"reverses_entry_id" json:"reverses_entry_id,omitempty"`
	Status          EntryStatus `db:"status" json:"status"`
	CreatedBy       string      `db:"created_by" json:"created_by"`
	CreatedAt       time.Time   `db:"created_at" json:"created_at"`
}

// Delta returns the signed point movement of the entry.
func (e LedgerEntry) Delta() int {
	return e.PointsAdded - e.PointsRemoved
}

// CountsAt reports whether the entry contributes to the effective balance at asOf.
func (e LedgerEntry) CountsAt(asOf time.Time) bool {
	if e.Status != EntryStatusActive {
		return false
	}
	day := DateOf(asOf)
	if e.EffectiveDate.After(day) {
		return false
	}
	return e.ExpiryDate == nil || e.ExpiryDate.After(day)
}

// LedgerState is the snapshot a posting decision is made against.
type LedgerState struct {
	DriverID          string     `db:"driver_id"`
	Version           int64      `db:"ledger_version"`
	ChainBalance      int        `db:"chain_balance"`
	LastEffectiveDate *time.Time `db:"last_effective_date"`
	EffectiveBalance  int        `db:"effective_balance"`
	// PenaltyExpiry is the latest expiry among the active point additions in force.
	PenaltyExpiry     *time.Time `db:"penalty_expiry"`
}

// PostEntryInput describes a single ledger posting.
type PostEntryInput struct {
	DriverID       string     `validate:"required"`
	Delta          int        `validate:"required"`
	Reason         string     `validate:"required,max=500"`
	EffectiveDate  time.Time  `validate:"required"`
	ExpiryDate     *time.Time `validate:"omitempty"`
	InfringementID *string
}

// LedgerFilter constrains entry listings.
type LedgerFilter struct {
	DriverID string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// PointsBalance reports a driver's balances at a given date.
type PointsBalance struct {
	DriverID         string    `json:"driver_id"`
	AsOf             time.Time `json:"as_of"`
	EffectiveBalance int       `json:"effective_balance"`
	ChainBalance     int       `json:"chain_balance"`
	LedgerVersion    int64     `json:"ledger_version"`
}
