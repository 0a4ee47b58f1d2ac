package dto

import "github.com/noah-isme/fleet-compliance-api/internal/models"

// DailyRestRequest records one day of rest.
type DailyRestRequest struct {
	Date      string `json:"date" binding:"required"`
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
	Overwrite bool   `json:"overwrite"`
}

// ToInput converts the request for the given driver.
func (r DailyRestRequest) ToInput(driverID string) (models.DailyRestInput, error) {
	date, err := ParseDate("date", r.Date)
	if err != nil {
		return models.DailyRestInput{}, err
	}
	start, err := ParseInstant("start_time", r.StartTime)
	if err != nil {
		return models.DailyRestInput{}, err
	}
	end, err := ParseInstant("end_time", r.EndTime)
	if err != nil {
		return models.DailyRestInput{}, err
	}
	return models.DailyRestInput{DriverID: driverID, Date: date, StartTime: start, EndTime: end, Overwrite: r.Overwrite}, nil
}

// WeeklyRestRequest records a standalone weekly rest block.
type WeeklyRestRequest struct {
	WeekStart string `json:"week_start" binding:"required"`
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
}

// ToInput converts the request for the given driver.
func (r WeeklyRestRequest) ToInput(driverID string) (models.WeeklyRestBlockInput, error) {
	week, err := ParseDate("week_start", r.WeekStart)
	if err != nil {
		return models.WeeklyRestBlockInput{}, err
	}
	start, err := ParseInstant("start_time", r.StartTime)
	if err != nil {
		return models.WeeklyRestBlockInput{}, err
	}
	end, err := ParseInstant("end_time", r.EndTime)
	if err != nil {
		return models.WeeklyRestBlockInput{}, err
	}
	return models.WeeklyRestBlockInput{DriverID: driverID, WeekStart: week, StartTime: start, EndTime: end}, nil
}

// EvaluateWeekRequest asks for a weekly evaluation.
type EvaluateWeekRequest struct {
	WeekStart string `json:"week_start" binding:"required"`
	AsOf      string `json:"as_of"`
}

// CompensationRequest records compensating rest.
type CompensationRequest struct {
	WeekStart string  `json:"week_start" binding:"required"`
	Date      string  `json:"date" binding:"required"`
	Hours     float64 `json:"hours" binding:"required"`
}

// ToInput converts the request for the given driver.
func (r CompensationRequest) ToInput(driverID string) (models.CompensationInput, error) {
	week, err := ParseDate("week_start", r.WeekStart)
	if err != nil {
		return models.CompensationInput{}, err
	}
	date, err := ParseDate("date", r.Date)
	if err != nil {
		return models.CompensationInput{}, err
	}
	return models.CompensationInput{DriverID: driverID, WeekStart: week, Date: date, Hours: r.Hours}, nil
}
