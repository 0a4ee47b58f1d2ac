package export

import (
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Report"

// XLSXExporter renders datasets into a single styled worksheet.
type XLSXExporter struct{}

// NewXLSXExporter constructs an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

func (e *XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

func (e *XLSXExporter) Extension() string { return "xlsx" }

// Render writes headers in bold and numeric-looking cells as numbers.
func (e *XLSXExporter) Render(data Dataset) ([]byte, error) {
	if err := data.validate("xlsx"); err != nil {
		return nil, err
	}
	file := excelize.NewFile()
	defer file.Close() //nolint:errcheck

	if err := file.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	startRow := 1
	if data.Title != "" {
		if err := file.SetCellValue(xlsxSheet, "A1", data.Title); err != nil {
			return nil, fmt.Errorf("write title: %w", err)
		}
		startRow = 3
	}

	bold, err := file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6E6E6"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, header := range data.Headers {
		cell, err := excelize.CoordinatesToCellName(i+1, startRow)
		if err != nil {
			return nil, err
		}
		if err := file.SetCellValue(xlsxSheet, cell, header); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	first, _ := excelize.CoordinatesToCellName(1, startRow)
	last, _ := excelize.CoordinatesToCellName(len(data.Headers), startRow)
	if err := file.SetCellStyle(xlsxSheet, first, last, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for r, row := range data.Rows {
		for c, header := range data.Headers {
			cell, err := excelize.CoordinatesToCellName(c+1, startRow+r+1)
			if err != nil {
				return nil, err
			}
			if err := file.SetCellValue(xlsxSheet, cell, cellValue(row[header])); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}

	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func cellValue(raw string) interface{} {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}
