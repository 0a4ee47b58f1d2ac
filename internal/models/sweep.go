package models

import "time"

// Sweep names accepted by the batch trigger.
const (
	SweepLedgerExpiry         = "ledger-expiry"
	SweepInfringementExpiry   = "infringement-expiry"
	SweepWeeklyRestEvaluation = "weekly-rest-evaluation"
	SweepExportCleanup        = "export-cleanup"
)

// SweepReport summarizes one batch run.
type SweepReport struct {
	Name       string    `json:"name"`
	AsOf       time.Time `json:"as_of"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Errors     []string  `json:"errors,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Fail records a per-record failure.
func (r *SweepReport) Fail(err error) {
	r.Failed++
	if len(r.Errors) < 50 {
		r.Errors = append(r.Errors, err.Error())
	}
}

// ExpiryCandidate identifies a record due to expire in a sweep.
type ExpiryCandidate struct {
	ID             string `db:"id"`
	OrganizationID string `db:"organization_id"`
	DriverID       string `db:"driver_id"`
}

// DriverRef identifies an active driver across organizations.
type DriverRef struct {
	ID             string `db:"id"`
	OrganizationID string `db:"organization_id"`
}

// SweepRequest asks for one batch run. WeekStart only applies to the weekly rest evaluation.
type SweepRequest struct {
	Name      string    `json:"name"`
	AsOf      time.Time `json:"as_of"`
	WeekStart time.Time `json:"week_start,omitempty"`
}

// SweepJob acknowledges a sweep handed to the background queue.
type SweepJob struct {
	ID      string       `json:"id"`
	Request SweepRequest `json:"request"`
}
