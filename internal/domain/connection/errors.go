package connection

import "errors"

var (
	ErrNotFound          = errors.New("connection not found")
	ErrAlreadyExists     = errors.New("connection already exists for this patient and provider")
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrNotParty          = errors.New("actor is not a party to this connection")
	ErrStoreConflict     = errors.New("connection was modified concurrently")
)
