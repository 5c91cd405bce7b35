package export

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(rows int) Dataset {
	d := Dataset{Title: "Attendance", Subtitle: "2024-03-04", Headers: []string{"Date", "Roll Number", "Name", "Status"}}
	for i := 0; i < rows; i++ {
		d.Append("2024-03-04", fmt.Sprintf("21CSE%03d", i), "Student, \"Quoted\"", "present")
	}
	return d
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)
	assert.Equal(t, "application/pdf", f.ContentType())

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestCSVRenderQuotesCells(t *testing.T) {
	out, err := Render(FormatCSV, sample(1))
	require.NoError(t, err)
	assert.Equal(t, "Date,Roll Number,Name,Status\n2024-03-04,21CSE000,\"Student, \"\"Quoted\"\"\",present\n", string(out))
}

func TestAppendPadsRow(t *testing.T) {
	d := Dataset{Headers: []string{"A", "B", "C"}}
	d.Append("1")
	assert.Equal(t, []string{"1", "", ""}, d.Rows[0])
}

func TestPDFRenderSpansPages(t *testing.T) {
	out, err := Render(FormatPDF, sample(120))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestRenderRequiresHeaders(t *testing.T) {
	_, err := Render(FormatPDF, Dataset{})
	assert.Error(t, err)
	_, err = Render(FormatCSV, Dataset{})
	assert.Error(t, err)
}
