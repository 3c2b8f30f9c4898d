package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentError(t *testing.T) {
	tests := []struct {
		name    string
		docID   string
		field   string
		err     error
		wantMsg string
	}{
		{
			name:    "missing field",
			docID:   "user-1",
			field:   FieldUserID,
			err:     ErrFieldNotFound,
			wantMsg: "document error: id=user-1, field=userId, err=field not found",
		},
		{
			name:    "nested field type mismatch",
			docID:   "goat-strategy",
			field:   "top10.3",
			err:     ErrTypeMismatch,
			wantMsg: "document error: id=goat-strategy, field=top10.3, err=type mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDocumentError(tt.docID, tt.field, tt.err)

			assert.Equal(t, tt.wantMsg, err.Error(), "Error message mismatch")
			assert.Equal(t, tt.docID, err.DocumentID)
			assert.Equal(t, tt.field, err.Field)
			assert.True(t, errors.Is(err, tt.err), "Should unwrap to underlying error")
		})
	}
}

func TestSubmissionError(t *testing.T) {
	err := NewSubmissionError("user-d", "goat-strategy", ErrMalformedRanking)

	assert.Equal(t, "submission error: user=user-d, event=goat-strategy, err=malformed ranking", err.Error())
	assert.ErrorIs(t, err, ErrMalformedRanking)

	var target *SubmissionError
	wrapped := errors.Join(errors.New("other"), err)
	assert.True(t, errors.As(wrapped, &target), "Should be found through errors.As")
	assert.Equal(t, "user-d", target.UserID)
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("Config")
		err.AddError("store.backend is required")

		assert.Equal(t, "validation error for Config: store.backend is required", err.Error())
		assert.True(t, err.HasErrors(), "Should have errors")
		assert.Len(t, err.Errors, 1, "Should have one error")
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("Config")
		err.AddError("ranking.events is required")
		err.AddError("ranking.top_k must be at least 1")

		assert.Contains(t, err.Error(), "validation errors for Config")
		assert.Len(t, err.Errors, 2, "Should have two errors")
	})

	t.Run("no errors", func(t *testing.T) {
		err := NewValidationError("Config")

		assert.False(t, err.HasErrors(), "Should not have errors")
		assert.Empty(t, err.Errors, "Errors slice should be empty")
	})
}

func TestCommonDomainErrors(t *testing.T) {
	tests := []struct {
		err     error
		message string
	}{
		{ErrFieldNotFound, "field not found"},
		{ErrTypeMismatch, "type mismatch"},
		{ErrEmptyValue, "empty value"},
		{ErrMalformedRanking, "malformed ranking"},
		{ErrSelfNotification, "actor and recipient are the same user"},
		{ErrInvalidConfiguration, "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.message, tt.err.Error(), "Error message mismatch")
		})
	}
}
