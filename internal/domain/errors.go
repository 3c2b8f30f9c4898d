package domain

import (
	"errors"
	"fmt"
)

// Common domain errors raised while decoding and validating documents.
var (
	// ErrFieldNotFound indicates that a requested field does not exist.
	ErrFieldNotFound = errors.New("field not found")

	// ErrTypeMismatch indicates that a field's value doesn't have the expected shape.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrEmptyValue indicates that a required value is empty or nil.
	ErrEmptyValue = errors.New("empty value")

	// ErrMalformedRanking indicates that a submission's ranking is not an
	// ordered sequence of well-formed entries.
	ErrMalformedRanking = errors.New("malformed ranking")

	// ErrSelfNotification indicates a notification whose actor is also its recipient.
	ErrSelfNotification = errors.New("actor and recipient are the same user")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// DocumentError represents a failure to read a field out of a Document.
// It records which document and field were involved.
type DocumentError struct {
	// DocumentID identifies the document being decoded.
	DocumentID string

	// Field is the field path that failed, dot separated for nested records.
	Field string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for DocumentError.
func (e *DocumentError) Error() string {
	return fmt.Sprintf("document error: id=%s, field=%s, err=%v", e.DocumentID, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *DocumentError) Unwrap() error { return e.Err }

// NewDocumentError creates a new DocumentError with the given details.
func NewDocumentError(documentID, field string, err error) *DocumentError {
	return &DocumentError{
		DocumentID: documentID,
		Field:      field,
		Err:        err,
	}
}

// SubmissionError is a per-user failure found while scoring one ranking event.
// Aggregation records it and moves on to the next submission.
type SubmissionError struct {
	// UserID is the owner of the offending submission.
	UserID string

	// EventID is the ranking event being scored.
	EventID string

	// Err is the underlying decode or validation error.
	Err error
}

// Error implements the error interface for SubmissionError.
func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission error: user=%s, event=%s, err=%v", e.UserID, e.EventID, e.Err)
}

// Unwrap returns the underlying error.
func (e *SubmissionError) Unwrap() error { return e.Err }

// NewSubmissionError creates a new SubmissionError with the given details.
func NewSubmissionError(userID, eventID string, err error) *SubmissionError {
	return &SubmissionError{
		UserID:  userID,
		EventID: eventID,
		Err:     err,
	}
}

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
