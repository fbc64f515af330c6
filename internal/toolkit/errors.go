// ABOUTME: Error kinds shared by the agent and data sources
// ABOUTME: ForbiddenError carries a name and optional payload; validation errors wrap ErrValidation

package toolkit

import (
	"errors"
	"maps"
)

// ErrValidation is wrapped by every schema or input validation failure.
var ErrValidation = errors.New("validation error")

// ErrUnknownField is wrapped when a condition or aggregation references a
// field the collection does not have.
var ErrUnknownField = errors.New("unknown field")

// ErrCollectionNotFound is returned by DataSource.Collection for unknown names.
var ErrCollectionNotFound = errors.New("collection not found")

// ForbiddenError is a denial outcome. Name distinguishes the kind of denial,
// Data carries the payload returned to the client.
type ForbiddenError struct {
	Name    string
	Message string
	Data    map[string]any
}

// ErrForbidden is the generic denial with no payload.
var ErrForbidden = &ForbiddenError{Name: "ForbiddenError", Message: "Forbidden"}

func (e *ForbiddenError) Error() string {
	return e.Message
}

// Is matches any ForbiddenError with the same Name, so sentinels compare
// equal to instances carrying a payload.
func (e *ForbiddenError) Is(target error) bool {
	t, ok := target.(*ForbiddenError)
	if !ok {
		return false
	}
	return t.Name == e.Name
}

// WithData returns a copy of the error carrying data.
func (e *ForbiddenError) WithData(data map[string]any) *ForbiddenError {
	return &ForbiddenError{
		Name:    e.Name,
		Message: e.Message,
		Data:    maps.Clone(data),
	}
}
