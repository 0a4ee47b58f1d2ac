package models

import "time"

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// AddDays returns the calendar day n days after d.
func AddDays(d time.Time, n int) time.Time {
	return DateOf(d).AddDate(0, 0, n)
}
