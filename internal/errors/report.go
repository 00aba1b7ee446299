package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Report is the canonical structured error type for vssim.
// Error builders return *Report wrapped as ReportError so the code and phase
// survive errors.As unwrapping across package boundaries.
type Report struct {
	Schema  string         `json:"schema"`         // Always "vssim.error/v1"
	Code    string         `json:"code"`           // Error code (CFG001, FMU003, ...)
	Phase   string         `json:"phase"`          // Phase: "config", "guard", "net", "fmu", "engine"
	Message string         `json:"message"`        // Human-readable message
	Data    map[string]any `json:"data,omitempty"` // Structured data
}

// ReportError wraps a Report as an error.
type ReportError struct {
	Rep *Report
}

// Error implements the error interface.
func (e *ReportError) Error() string {
	if e.Rep == nil {
		return "unknown error"
	}
	return e.Rep.Code + ": " + e.Rep.Message
}

// New creates a Report wrapped as an error.
func New(code, phase, format string, args ...any) error {
	return &ReportError{Rep: &Report{
		Schema:  "vssim.error/v1",
		Code:    code,
		Phase:   phase,
		Message: fmt.Sprintf(format, args...),
	}}
}

// NewWithData creates a Report carrying structured data.
func NewWithData(code, phase string, data map[string]any, format string, args ...any) error {
	return &ReportError{Rep: &Report{
		Schema:  "vssim.error/v1",
		Code:    code,
		Phase:   phase,
		Message: fmt.Sprintf(format, args...),
		Data:    data,
	}}
}

// AsReport attempts to extract a Report from an error chain.
func AsReport(err error) (*Report, bool) {
	var re *ReportError
	if errors.As(err, &re) {
		return re.Rep, true
	}
	return nil, false
}

// HasCode reports whether any report in err's tree carries the given code.
// Unlike AsReport it keeps searching past the first report found, so it
// works on joined validation errors.
func HasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if re, ok := err.(*ReportError); ok {
		return re.Rep != nil && re.Rep.Code == code
	}
	switch x := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range x.Unwrap() {
			if HasCode(e, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return HasCode(x.Unwrap(), code)
	}
	return false
}

// ToJSON converts a Report to JSON (deterministic: fields in declaration
// order, data keys sorted).
func (r *Report) ToJSON(compact bool) (string, error) {
	var data []byte
	var err error
	if compact {
		data, err = json.Marshal(r)
	} else {
		data, err = json.MarshalIndent(r, "", "  ")
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}
