package leads

import (
	"errors"
	"strings"
)

var (
	// ErrBuyerNotFound is returned when a buyer does not exist
	ErrBuyerNotFound = errors.New("buyer not found")

	// ErrForbidden is returned when the caller does not own the buyer
	ErrForbidden = errors.New("caller does not own buyer")

	// ErrStaleData is returned when the record changed since the caller read it
	ErrStaleData = errors.New("record changed, please refresh the page and try again")

	// ErrCSVParse is returned when the uploaded file is not well-formed CSV
	ErrCSVParse = errors.New("CSV parsing failed")

	// ErrTooManyRows is returned when an import exceeds MaxImportRows
	ErrTooManyRows = errors.New("maximum 200 rows allowed")

	// ErrImportBusy is returned when no import slot frees up before the request ends
	ErrImportBusy = errors.New("too many concurrent imports")
)

// ValidationError carries field-level messages for a rejected create or update.
type ValidationError struct {
	Details []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Details, "; ")
}

// CSVParseError wraps ErrCSVParse with the reader's diagnostics.
type CSVParseError struct {
	Details []string
}

func (e *CSVParseError) Error() string {
	return ErrCSVParse.Error() + ": " + strings.Join(e.Details, "; ")
}

func (e *CSVParseError) Unwrap() error { return ErrCSVParse }
