package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

var (
	ErrInvalidAliasTarget = stderrors.New("alias target does not exist or is inactive")
	ErrEntityInactive     = stderrors.New("entity is inactive")
	ErrEntityNotFound     = stderrors.New("entity not found")
	ErrRecordNotFound     = stderrors.New("record not found for entity")
	ErrRecordInactive     = stderrors.New("record is inactive")
	ErrMergeInvalid       = stderrors.New("entities cannot be merged")
	ErrRunInProgress      = stderrors.New("recompute run already in progress")
	ErrAssignmentOrder    = stderrors.New("assignment predates the open period")
	ErrInvalidArgument    = stderrors.New("invalid argument")
)

// EntityError ties a domain sentinel to the entity and detail it concerns.
type EntityError struct {
	Err      error
	EntityID string
	Detail   string
}

func (e *EntityError) Error() string {
	msg := e.Err.Error()
	if e.EntityID != "" {
		msg = fmt.Sprintf("%s: entity %s", msg, e.EntityID)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Detail)
	}
	return msg
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func NewEntityError(sentinel error, entityID string, detailFormat string, args ...any) error {
	detail := ""
	if detailFormat != "" {
		detail = fmt.Sprintf(detailFormat, args...)
	}
	return &EntityError{Err: sentinel, EntityID: entityID, Detail: detail}
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

var statusBySentinel = []struct {
	err  error
	code int
}{
	{ErrInvalidAliasTarget, http.StatusUnprocessableEntity},
	{ErrEntityNotFound, http.StatusNotFound},
	{ErrRecordNotFound, http.StatusNotFound},
	{ErrEntityInactive, http.StatusConflict},
	{ErrRecordInactive, http.StatusConflict},
	{ErrRunInProgress, http.StatusConflict},
	{ErrMergeInvalid, http.StatusBadRequest},
	{ErrAssignmentOrder, http.StatusBadRequest},
	{ErrInvalidArgument, http.StatusBadRequest},
}

// ToHTTPError converts a domain error into an httperror. Errors that already
// carry a status keep it; anything unrecognised becomes a 500.
func ToHTTPError(err error) error {
	if err == nil {
		return nil
	}

	var he *httperror.HTTPError
	if stderrors.As(err, &he) {
		return he
	}

	for _, s := range statusBySentinel {
		if stderrors.Is(err, s.err) {
			return httperror.NewHTTPError(s.code, err.Error())
		}
	}

	return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
}
