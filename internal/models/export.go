package models

import "time"

// ExportFormat enumerates supported report renderings.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// RenderedExport is a generated document ready to stream.
type RenderedExport struct {
	Filename    string
	ContentType string
	Body        []byte
}

// StoredExport describes a report kept for later download.
type StoredExport struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	URL         string    `json:"url"`
	ExpiresAt   time.Time `json:"expires_at"`
}
