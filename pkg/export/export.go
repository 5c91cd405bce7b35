// Package export renders attendance tables as downloadable files.
package export

import (
	"fmt"
	"strings"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts csv or pdf, case-insensitively; empty means csv.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// Dataset is an ordered table. Every row has one cell per header.
type Dataset struct {
	Title    string
	Subtitle string
	Headers  []string
	Rows     [][]string
}

// Append adds a row, padding or truncating it to the header width.
func (d *Dataset) Append(cells ...string) {
	row := make([]string, len(d.Headers))
	copy(row, cells)
	d.Rows = append(d.Rows, row)
}

// Renderer encodes datasets.
type Renderer interface {
	Render(data Dataset) ([]byte, error)
}

// Render encodes data in the requested format.
func Render(format Format, data Dataset) ([]byte, error) {
	var r Renderer
	switch format {
	case FormatPDF:
		r = NewPDFExporter()
	default:
		r = NewCSVExporter()
	}
	return r.Render(data)
}
