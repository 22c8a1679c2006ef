package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrReadOnly = errors.New("read-only transaction")
	ErrCorrupt  = errors.New("ledger state is inconsistent")
)
