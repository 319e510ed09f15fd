package docx

import "errors"

var (
	ErrParse        = errors.New("docx: cannot parse document")
	ErrMissingField = errors.New("docx: recipient field missing")
)
