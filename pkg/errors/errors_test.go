package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	typed := Clone(ErrDuplicateMark, "mark exists for MATH101 final")
	wrapped := fmt.Errorf("create mark: %w", typed)

	got := FromError(wrapped)
	assert.Equal(t, ErrDuplicateMark.Code, got.Code)
	assert.Equal(t, http.StatusConflict, got.Status)
	assert.Equal(t, "mark exists for MATH101 final", got.Message)
}

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	got := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, got.Code)
	assert.EqualError(t, got, "internal server error: boom")
	assert.Nil(t, FromError(nil))
}

func TestIsComparesCodes(t *testing.T) {
	err := Wrap(errors.New("recompute failed"), ErrSummaryNotRefreshed.Code, ErrSummaryNotRefreshed.Status, "student summary not refreshed")
	assert.True(t, Is(fmt.Errorf("mark write: %w", err), ErrSummaryNotRefreshed))
	assert.False(t, Is(err, ErrNotFound))
	assert.False(t, Is(errors.New("plain"), ErrNotFound))
}

func TestCloneDoesNotMutateSentinel(t *testing.T) {
	clone := Clone(ErrNotFound, "student not found")
	assert.Equal(t, "student not found", clone.Message)
	assert.Equal(t, "resource not found", ErrNotFound.Message)
}
