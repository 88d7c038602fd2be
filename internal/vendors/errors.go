package vendors

import "errors"

var (
	// ErrValidation marks field-level registration failures.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates no record with the requested id.
	ErrNotFound = errors.New("vendor not found")
	// ErrDuplicateID indicates an id collision on append. It signals an id
	// generation bug, never user error.
	ErrDuplicateID = errors.New("duplicate vendor id")
	// ErrInvalidStatus indicates an unknown status literal.
	ErrInvalidStatus = errors.New("invalid vendor status")
	// ErrUnknownPlan indicates a plan id outside the catalog.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrInvalidCoordinate indicates an out-of-range or unparsable position.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrSaveFailed wraps store failures on mutating operations.
	ErrSaveFailed = errors.New("could not save vendor registry")
)
