package core

import "errors"

// Sentinel errors surfaced across the engine's external interfaces
// (C6 front-door) and internal component boundaries (C1-C5). Wrapped
// with fmt.Errorf("%w", ...) at the engine layer; the repository layer
// wraps with github.com/pkg/errors instead (see store package).
var (
	ErrNotFound          = errors.New("engine: not found")
	ErrGraphInactive     = errors.New("engine: graph is inactive")
	ErrGraphMalformed    = errors.New("engine: graph is malformed")
	ErrBusy              = errors.New("engine: at capacity")
	ErrAlreadyTerminal   = errors.New("engine: execution already terminal")
	ErrInvalidTransition = errors.New("engine: invalid status transition")
	ErrRepository        = errors.New("engine: repository unavailable")
	ErrRunnerPanic       = errors.New("engine: node runner panicked")
	ErrNodeTimeout       = errors.New("engine: node timed out")
	ErrCancelled         = errors.New("engine: execution cancelled")
)
