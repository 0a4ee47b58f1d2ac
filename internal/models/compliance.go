package models

import "time"

// RiskLevel is the banded interpretation of an overall score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ScoreFactor explains one deduction applied to a score component.
type ScoreFactor struct {
	Code        string `json:"code"`
	Component   string `json:"component"`
	Impact      int    `json:"impact"`
	Description string `json:"description"`
}

// Recommendation is an action suggested to bring a driver back into compliance.
type Recommendation struct {
	Code     string `json:"code"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

// ComplianceScore is the derived compliance assessment of a driver.
type ComplianceScore struct {
	DriverID            string           `json:"driver_id"`
	OrganizationID      string           `json:"organization_id"`
	DriverName          string           `json:"driver_name,omitempty"`
	OverallScore        int              `json:"overall_score"`
	RiskLevel           RiskLevel        `json:"risk_level"`
	ViolationScore      int              `json:"violation_score"`
	LicenseScore        int              `json:"license_score"`
	TrainingScore       int              `json:"training_score"`
	EffectivePoints     int              `json:"effective_points"`
	ActiveInfringements int              `json:"active_infringements"`
	RestViolations      int              `json:"rest_violations"`
	Factors             []ScoreFactor    `json:"factors"`
	Recommendations     []Recommendation `json:"recommendations"`
	LastAssessmentDate  time.Time        `json:"last_assessment_date"`
}

// ComplianceReport aggregates the scores of an organization.
type ComplianceReport struct {
	OrganizationID string            `json:"organization_id"`
	AsOf           time.Time         `json:"as_of"`
	GeneratedAt    time.Time         `json:"generated_at"`
	Scores         []ComplianceScore `json:"scores"`
	RiskCounts     map[RiskLevel]int `json:"risk_counts"`
	AverageScore   float64           `json:"average_score"`
}
