package tasks

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("task not found")
	ErrNotFoundOrUnauthorized = errors.New("task not found or unauthorized")
	ErrCallerRequired         = errors.New("caller is required")
)

// validationError carries a client-facing message and matches ErrValidation.
type validationError struct {
	msg string
}

func (e validationError) Error() string { return e.msg }

func (e validationError) Is(target error) bool { return target == ErrValidation }

var (
	ErrTitleRequired   error = validationError{"Title is required"}
	ErrInvalidPriority error = validationError{"Priority must be Low, Medium or High"}
	ErrInvalidDueDate  error = validationError{"Due date must be an RFC 3339 timestamp or YYYY-MM-DD"}
	ErrNullField       error = validationError{"Field may not be null"}
)
