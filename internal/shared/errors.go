package shared

import "errors"

var (
	// ErrValidation indicates input or policy bounds were violated.
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied indicates the actor lacks the required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAlreadyVoided indicates a movement or payment was already annulled.
	ErrAlreadyVoided = errors.New("already voided")
	// ErrNoOpenRegister indicates the operator has no open cash register.
	ErrNoOpenRegister = errors.New("no open cash register")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the operation clashes with current state.
	ErrConflict = errors.New("conflict")
)
