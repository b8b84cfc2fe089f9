package internal

import (
	"errors"
	"strings"
)

var ErrSlugExists = errors.New("slug already exists")
var ErrReferralNotFound = errors.New("referral not found")
var ErrClickNotFound = errors.New("click not found")
var ErrConflict = errors.New("identifier already exists")
var ErrAlreadyConverted = errors.New("click already converted")
var ErrInvalidConversion = errors.New("conversion value requires converted click")
var ErrUnauthorized = errors.New("unauthorized")
var ErrForbidden = errors.New("forbidden")

type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every offending field of a rejected request.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Reason
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// OrNil returns nil when no field was rejected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
