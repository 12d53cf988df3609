package domain

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthorized is returned when the shared auth key does not match
	ErrUnauthorized = errors.New("invalid authentication key")

	// ErrInvalidRequest is returned when required request fields are missing
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAtCapacity is returned when admission control rejects a request
	ErrAtCapacity = errors.New("too many jobs in flight")
)

// MissingFieldsError lists the required fields absent from a request
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldsError) Unwrap() error {
	return ErrInvalidRequest
}
