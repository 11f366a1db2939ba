package model

import (
	"errors"
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("another job is already active")
	ErrAlreadyCompleted = errors.New("job already completed")
	ErrStateConflict    = errors.New("invalid machine state")
)
