// Package forecast normalizes a CWA city forecast into a chart series, a
// nearest-period summary and a narration prompt. Everything here is pure: the
// caller fetches the document and hands it in.
package forecast

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable identifier for a pipeline failure, usable as a metric label.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeMissingElement    Code = "MISSING_ELEMENT"
	CodeEmptyTimeSeries   Code = "EMPTY_TIME_SERIES"
	CodeParse             Code = "PARSE_ERROR"
	CodeUnknownValueShape Code = "UNKNOWN_VALUE_SHAPE"
	CodeDuplicateElement  Code = "DUPLICATE_ELEMENT"
)

// Error is a typed pipeline error. Index is the period index, or -1 when not applicable.
type Error struct {
	Code     Code
	Location string
	Element  string
	Index    int
	Err      error
}

// Sentinels for errors.Is; only the code is compared.
var (
	ErrNotFound          = &Error{Code: CodeNotFound, Index: -1}
	ErrMissingElement    = &Error{Code: CodeMissingElement, Index: -1}
	ErrEmptyTimeSeries   = &Error{Code: CodeEmptyTimeSeries, Index: -1}
	ErrParse             = &Error{Code: CodeParse, Index: -1}
	ErrUnknownValueShape = &Error{Code: CodeUnknownValueShape, Index: -1}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("forecast: ")
	b.WriteString(string(e.Code))
	if e.Location != "" {
		fmt.Fprintf(&b, ": location %q", e.Location)
	}
	if e.Element != "" {
		fmt.Fprintf(&b, ": element %s", e.Element)
		if e.Index >= 0 {
			fmt.Fprintf(&b, "[%d]", e.Index)
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the pipeline code carried by err, or "" if err is not a pipeline error.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// Warning is a non-fatal pipeline condition reported alongside a result.
type Warning struct {
	Code    Code   `json:"code"`
	Element string `json:"element,omitempty"`
	Message string `json:"message"`
}

func warningFrom(err *Error) Warning {
	return Warning{Code: err.Code, Element: err.Element, Message: err.Error()}
}
