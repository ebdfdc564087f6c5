package validation

import (
	"errors"
	"strings"
)

// Kind classifies a violated validation rule
type Kind string

const (
	KindMissingField  Kind = "MissingField"
	KindWrongType     Kind = "WrongType"
	KindInvalidNumber Kind = "InvalidNumber"
	KindInvalidRange  Kind = "InvalidRange"
)

// Field names as they appear in request and message payloads
const (
	FieldDeviceID    = "deviceId"
	FieldTemperature = "temperature"
	FieldTimestamp   = "timestamp"
	FieldBody        = "body"
)

// Rule messages
const (
	MsgDeviceIDRequired   = "Device ID is required"
	MsgDeviceIDString     = "Device ID must be a string"
	MsgTemperatureMissing = "Temperature is required"
	MsgTemperatureNumber  = "Temperature must be a valid number"
	MsgTimestampNumber    = "Timestamp must be a valid number (epoch milliseconds)"
	MsgTimestampRange     = "Timestamp must be a valid epoch milliseconds value"
	MsgBodyObject         = "Request body must be a JSON object"
)

// ErrMalformedBody is returned by DecodeCandidate when the input is not a JSON object
var ErrMalformedBody = errors.New("validation: body is not a JSON object")

// FieldError is the first violated rule for a single field
type FieldError struct {
	Field   string `json:"field"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// ValidationError collects field-level violations for one candidate reading
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field was rejected with the given kind
func (e *ValidationError) Has(field string, kind Kind) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Kind == kind {
			return true
		}
	}
	return false
}

// BodyError builds the validation error reported for an undecodable request body
func BodyError() *ValidationError {
	return &ValidationError{Fields: []FieldError{{
		Field:   FieldBody,
		Kind:    KindWrongType,
		Message: MsgBodyObject,
	}}}
}
