package apperrors

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrRunFinalized  = errors.New("history entry already finalized")
	ErrTerminalState = errors.New("aggregate generation is terminal")
)
