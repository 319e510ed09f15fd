package docx

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
)

const (
	// RecipientTable is the report table holding the submission fields;
	// table 0 is the logo block.
	RecipientTable = 1
	// RecipientRow is the data row that holds the collected email address.
	RecipientRow = 7
)

var validate = validator.New()

// GetRecipient returns the value of the first field of data row
// RecipientRow. It does no validation of what it finds there.
func GetRecipient(rows []Row) (string, error) {
	return positional(rows, RecipientRow)
}

// Lookup describes where the recipient address sits in a report table.
type Lookup struct {
	// Field is a column header or row label naming the email field. Empty
	// disables the name lookup.
	Field string
	// Row is the positional fallback used when Field matches nothing.
	Row int
}

// FindRecipient looks the address up by name first, then by position, and
// only accepts a value that is a valid email address.
func FindRecipient(rows []Row, lk Lookup) (string, error) {
	if lk.Field != "" {
		if v, ok := byName(rows, lk.Field); ok {
			return checkAddress(v, fmt.Sprintf("field %q", lk.Field))
		}
	}
	v, err := positional(rows, lk.Row)
	if err != nil {
		return "", err
	}
	return checkAddress(v, fmt.Sprintf("row %d", lk.Row))
}

func positional(rows []Row, index int) (string, error) {
	if index < 0 || index >= len(rows) {
		return "", fmt.Errorf("%w: table has %d data rows, recipient expected at row %d", ErrMissingField, len(rows), index)
	}
	row := rows[index]
	if len(row) == 0 {
		return "", fmt.Errorf("%w: row %d is empty", ErrMissingField, index)
	}
	v := strings.TrimSpace(row[0].Value)
	if v == "" {
		return "", fmt.Errorf("%w: row %d has no value", ErrMissingField, index)
	}
	return v, nil
}

// byName finds a column keyed name, or a row whose label cell reads name and
// returns the next different cell of that row.
func byName(rows []Row, name string) (string, bool) {
	for _, row := range rows {
		for _, f := range row {
			if strings.EqualFold(strings.TrimSpace(f.Key), name) {
				if v := strings.TrimSpace(f.Value); v != "" {
					return v, true
				}
			}
		}
	}
	for _, row := range rows {
		for i, f := range row {
			label := strings.TrimSpace(f.Value)
			if !strings.EqualFold(label, name) {
				continue
			}
			for _, next := range row[i+1:] {
				if v := strings.TrimSpace(next.Value); v != "" && v != label {
					return v, true
				}
			}
		}
	}
	return "", false
}

func checkAddress(v, where string) (string, error) {
	if err := validate.Var(v, "required,email"); err != nil {
		return "", fmt.Errorf("%w: %s holds %q, not an email address", ErrMissingField, where, v)
	}
	return v, nil
}

// Finder reads recipient addresses out of report files.
type Finder struct {
	FS     afero.Fs
	Table  int
	Lookup Lookup
}

// Recipient extracts the recipient address from the report at path.
func (f Finder) Recipient(path string) (string, error) {
	rows, err := ExtractTable(f.FS, path, f.Table)
	if err != nil {
		return "", err
	}
	return FindRecipient(rows, f.Lookup)
}
