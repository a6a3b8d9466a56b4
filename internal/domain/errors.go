// Package domain holds the sentinel errors shared by every desk module.
// Adapters map them onto transport status codes.
package domain

import "errors"

var (
	// ErrNotFound: the sector, agent, discussion or item does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a uniqueness rule was violated, such as a second active
	// discussion for one sector, or a concurrent writer won.
	ErrConflict = errors.New("conflict: resource was modified by another request")

	// ErrValidation: the input was rejected before anything was mutated.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidTransition: the state machine does not allow the move from
	// the current status.
	ErrInvalidTransition = errors.New("invalid state transition")
)
