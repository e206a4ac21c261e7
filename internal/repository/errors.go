package repository

import "errors"

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyAssigned = errors.New("user already assigned to task")
)
