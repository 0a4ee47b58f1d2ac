package models

import "time"

// RestType classifies a rest period against the statutory thresholds.
type RestType string

const (
	RestTypeRegular      RestType = "regular"
	RestTypeReduced      RestType = "reduced"
	RestTypeInsufficient RestType = "insufficient"
)

// Finding codes raised by weekly evaluation.
const (
	FindingDailyRestInsufficient   = "DAILY_REST_INSUFFICIENT"
	FindingDailyRestReduced        = "DAILY_REST_REDUCED"
	FindingDailyRestReductionLimit = "DAILY_REST_REDUCTION_LIMIT"
	FindingDailyRestMissing        = "DAILY_REST_MISSING"
	FindingWeeklyRestReduced       = "WEEKLY_REST_REDUCED"
	FindingWeeklyRestBelowMinimum  = "WEEKLY_REST_BELOW_MINIMUM"
	FindingCompensationOverdue     = "COMPENSATION_OVERDUE"
)

// DailyRest is one recorded daily rest period.
type DailyRest struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	DriverID       string    `db:"driver_id" json:"driver_id"`
	RestDate       time.Time `db:"rest_date" json:"rest_date"`
	StartTime      time.Time `db:"start_time" json:"start_time"`
	EndTime        time.Time `db:"end_time" json:"end_time"`
	DurationHours  float64   `db:"duration_hours" json:"duration_hours"`
	RestType       RestType  `db:"rest_type" json:"rest_type"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// WeeklyRest holds the bookkeeping of one driver week.
type WeeklyRest struct {
	ID                   string     `db:"id" json:"id"`
	OrganizationID       string     `db:"organization_id" json:"organization_id"`
	DriverID             string     `db:"driver_id" json:"driver_id"`
	WeekStartDate        time.Time  `db:"week_start_date" json:"week_start_date"`
	WeekEndDate          time.Time  `db:"week_end_date" json:"week_end_date"`
	RestStartTime        *time.Time `db:"rest_start_time" json:"rest_start_time,omitempty"`
	RestEndTime          *time.Time `db:"rest_end_time" json:"rest_end_time,omitempty"`
	BlockHours           float64    `db:"block_hours" json:"block_hours"`
	TotalRestHours       float64    `db:"total_rest_hours" json:"total_rest_hours"`
	RestType             RestType   `db:"rest_type" json:"rest_type"`
	CompensationRequired bool       `db:"compensation_required" json:"compensation_required"`
	CompensationDeadline *time.Time `db:"compensation_deadline" json:"compensation_deadline,omitempty"`
	CompensationDate     *time.Time `db:"compensation_date" json:"compensation_date,omitempty"`
	CompensationHours    float64    `db:"compensation_hours" json:"compensation_hours"`
	EvaluatedAt          *time.Time `db:"evaluated_at" json:"evaluated_at,omitempty"`
	Version              int64      `db:"version" json:"version"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// CompensationOverdue reports whether a required compensation is missing past its deadline.
func (w WeeklyRest) CompensationOverdue(asOf time.Time) bool {
	if !w.CompensationRequired || w.CompensationDate != nil || w.CompensationDeadline == nil {
		return false
	}
	return DateOf(asOf).After(*w.CompensationDeadline)
}

// RestFinding is a warning or violation produced by weekly evaluation.
type RestFinding struct {
	Code             string     `json:"code"`
	Message          string     `json:"message"`
	Date             *time.Time `json:"date,omitempty"`
	InfringementCode string     `json:"infringement_code,omitempty"`
}

// WeeklyRestResult is the outcome of evaluating one driver week.
type WeeklyRestResult struct {
	WeeklyRest   WeeklyRest    `json:"weekly_rest"`
	DailyRecords []DailyRest   `json:"daily_records"`
	Warnings     []RestFinding `json:"warnings"`
	Violations   []RestFinding `json:"violations"`
	Updated      bool          `json:"-"`
}

// RestPeriodFilter bounds rest listings by date.
type RestPeriodFilter struct {
	DriverID string
	From     time.Time
	To       time.Time
}

// DailyRestInput records the rest taken on one calendar day.
type DailyRestInput struct {
	DriverID  string    `validate:"required"`
	Date      time.Time `validate:"required"`
	StartTime time.Time `validate:"required"`
	EndTime   time.Time `validate:"required"`
	Overwrite bool
}

// WeeklyRestBlockInput records a standalone weekly rest block.
type WeeklyRestBlockInput struct {
	DriverID  string    `validate:"required"`
	WeekStart time.Time `validate:"required"`
	StartTime time.Time `validate:"required"`
	EndTime   time.Time `validate:"required"`
}

// CompensationInput records rest taken to compensate a reduced week.
type CompensationInput struct {
	DriverID  string    `validate:"required"`
	WeekStart time.Time `validate:"required"`
	Date      time.Time `validate:"required"`
	Hours     float64   `validate:"gt=0,lte=168"`
}
