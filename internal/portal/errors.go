package portal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAuth                = errors.New("portal: authentication failed")
	ErrDownload            = errors.New("portal: download failed")
	ErrNotFound            = errors.New("portal: item not found")
	ErrTransientGeneration = errors.New("portal: transient report generation error")
	ErrTemplateNotFound    = errors.New("portal: report template not found")
)

// APIError is the error envelope the portal returns, often with HTTP 200.
type APIError struct {
	Code        int      `json:"code"`
	MessageCode string   `json:"messageCode"`
	Message     string   `json:"message"`
	Details     []string `json:"details"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("portal error %d: %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// Is maps token errors to ErrAuth and missing items to ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Code == 498 || e.Code == 499
	case ErrNotFound:
		return e.Code == 404 || e.MessageCode == "CONT_0001" ||
			strings.Contains(strings.ToLower(e.Message), "does not exist")
	}
	return false
}

// TransientGenerationError reports a generation job whose outcome could not
// be read back. The reports are usually created anyway, so callers should
// log it and carry on.
type TransientGenerationError struct {
	JobID string
	Cause error
}

func (e *TransientGenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("report job %s: unreadable result: %v", e.JobID, e.Cause)
	}
	return fmt.Sprintf("report job %s: unreadable result", e.JobID)
}

func (e *TransientGenerationError) Unwrap() error {
	return e.Cause
}

func (e *TransientGenerationError) Is(target error) bool {
	return target == ErrTransientGeneration
}
