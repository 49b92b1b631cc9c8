package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every NotFoundError via errors.Is.
	ErrNotFound = errors.New("instance not found")

	// ErrAlreadyExists is returned when creating an instance whose ID is taken.
	ErrAlreadyExists = errors.New("instance already exists")

	// ErrSeqConflict matches every SeqConflictError via errors.Is.
	ErrSeqConflict = errors.New("event sequence conflict")
)

// NotFoundError is returned when an instance does not exist in a namespace.
type NotFoundError struct {
	Namespace string
	ID        string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("instance not found: %s (namespace: %s)", e.ID, e.Namespace)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// SeqConflictError is returned when appended events do not continue the stored history.
type SeqConflictError struct {
	Expected int64
	Got      int64
}

func (e *SeqConflictError) Error() string {
	return fmt.Sprintf("event sequence conflict: expected seq %d, got %d", e.Expected, e.Got)
}

// Is reports whether target is ErrSeqConflict.
func (e *SeqConflictError) Is(target error) bool {
	return target == ErrSeqConflict
}
