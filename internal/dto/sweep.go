package dto

// SweepTriggerRequest starts a batch run.
type SweepTriggerRequest struct {
	AsOf      string `json:"as_of"`
	WeekStart string `json:"week_start"`
	Async     *bool  `json:"async,omitempty"`
}
