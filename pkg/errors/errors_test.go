package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
)

func TestEntityError(t *testing.T) {
	err := NewEntityError(ErrRecordNotFound, "ent-1", "%s %s", "contact", "con-9")

	assert.Equal(t, "record not found for entity: entity ent-1 (contact con-9)", err.Error())
	assert.True(t, Is(err, ErrRecordNotFound))
	assert.True(t, Is(fmt.Errorf("wrapped: %w", err), ErrRecordNotFound))
	assert.False(t, Is(err, ErrEntityNotFound))
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid alias target", NewEntityError(ErrInvalidAliasTarget, "ent-1", ""), http.StatusUnprocessableEntity},
		{"entity not found", NewEntityError(ErrEntityNotFound, "ent-1", ""), http.StatusNotFound},
		{"record inactive", NewEntityError(ErrRecordInactive, "ent-1", ""), http.StatusConflict},
		{"assignment order", fmt.Errorf("open: %w", ErrAssignmentOrder), http.StatusBadRequest},
		{"already an http error", httperror.NewHTTPError(http.StatusTeapot, "teapot"), http.StatusTeapot},
		{"unknown", stderrors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, httperror.GetStatusCode(ToHTTPError(tt.err)))
		})
	}

	assert.NoError(t, ToHTTPError(nil))
}
