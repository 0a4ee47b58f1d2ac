package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/fleet-compliance-api/internal/models"
)

// ParseDate parses a calendar date in the wire layout. Empty input yields the zero time.
func ParseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date formatted as YYYY-MM-DD", field)
	}
	return t, nil
}

// ParseOptionalDate is ParseDate returning nil for empty input.
func ParseOptionalDate(field string, raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := ParseDate(field, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseInstant parses an RFC 3339 timestamp.
func ParseInstant(field, raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", field)
	}
	return t, nil
}

// DateRange is the common from/to query pair.
type DateRange struct {
	From string `form:"from"`
	To   string `form:"to"`
}

// Bounds parses the range into optional dates.
func (r DateRange) Bounds() (from, to *time.Time, err error) {
	if from, err = ParseOptionalDate("from", &r.From); err != nil {
		return nil, nil, err
	}
	if to, err = ParseOptionalDate("to", &r.To); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}
