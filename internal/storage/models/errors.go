package models

import "errors"

// Persistence-layer sentinel errors.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("conditional update lost the race")
)
