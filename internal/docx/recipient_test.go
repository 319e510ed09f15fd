package docx

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportmailer/internal/docx/docxtest"
)

func nineRows() [][]string {
	grid := [][]string{{"Name", "Email"}}
	for i := 0; i < 9; i++ {
		grid = append(grid, []string{fmt.Sprintf("value-%d", i), fmt.Sprintf("person%d@example.org", i)})
	}
	return grid
}

func TestGetRecipientReturnsRowSeven(t *testing.T) {
	rows := Rows(nineRows())

	got, err := GetRecipient(rows)
	require.NoError(t, err)
	assert.Equal(t, "value-7", got)
}

func TestGetRecipientTooFewRows(t *testing.T) {
	rows := Rows(nineRows()[:8]) // header + 7 data rows

	_, err := GetRecipient(rows)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestGetRecipientFromReportLayout(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/r.docx", docxtest.Build(docxtest.ReportTables("jane@example.org")...), 0o644))

	rows, err := ExtractTable(fs, "/out/r.docx", RecipientTable)
	require.NoError(t, err)

	got, err := GetRecipient(rows)
	require.NoError(t, err)
	assert.Equal(t, "jane@example.org", got)
}

func TestFindRecipientByColumn(t *testing.T) {
	rows := Rows([][]string{
		{"Name", "E-mail"},
		{"Ann", "ann@example.org"},
	})

	got, err := FindRecipient(rows, Lookup{Field: "e-mail", Row: 7})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.org", got)
}

func TestFindRecipientByRowLabel(t *testing.T) {
	rows := Rows([][]string{
		{"Question", "Answer"},
		{"Name", "Ann"},
		{"Email", "ann@example.org"},
	})

	got, err := FindRecipient(rows, Lookup{Field: "Email", Row: 7})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.org", got)
}

func TestFindRecipientFallsBackToPosition(t *testing.T) {
	rows := Rows(docxtest.ReportTables("jane@example.org")[1])

	got, err := FindRecipient(rows, Lookup{Field: "Contact address", Row: 7})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.org", got)
}

func TestFindRecipientRejectsNonAddress(t *testing.T) {
	rows := Rows(nineRows())

	// row 7 of this layout holds "value-7", which a template change could
	// easily produce; it must not be accepted as an address
	_, err := FindRecipient(rows, Lookup{Row: 7})
	assert.ErrorIs(t, err, ErrMissingField)
	assert.ErrorContains(t, err, "value-7")
}

func TestFindRecipientNamedFieldNotAnAddress(t *testing.T) {
	rows := Rows([][]string{
		{"Name", "Email"},
		{"Ann", "n/a"},
	})

	_, err := FindRecipient(rows, Lookup{Field: "Email", Row: 0})
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestFinderRecipient(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/out/r.docx", docxtest.Build(docxtest.ReportTables("jane@example.org")...), 0o644))
	f := Finder{FS: fs, Table: RecipientTable, Lookup: Lookup{Field: "Email", Row: RecipientRow}}

	got, err := f.Recipient("/out/r.docx")
	require.NoError(t, err)
	assert.Equal(t, "jane@example.org", got)

	_, err = f.Recipient("/out/missing.docx")
	assert.ErrorIs(t, err, ErrParse)
}
