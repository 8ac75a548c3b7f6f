package core

import "errors"

// Errors
var (
	ErrShape                 = errors.New("array shape mismatch")
	ErrUnknownVariableGroup  = errors.New("unknown variable group")
	ErrUnknownFactorGroup    = errors.New("unknown factor group")
	ErrBadTemperature        = errors.New("temperature must be non-negative")
	ErrBadDamping            = errors.New("damping must be in [0, 1)")
	ErrBadNumIters           = errors.New("iteration count must be non-negative")
	ErrUnsupportedFactorKind = errors.New("no kernel registered for factor kind")
	ErrDuplicateEdge         = errors.New("variable connected twice to one factor")
	ErrBadVariableRef        = errors.New("variable reference out of range")
	ErrBadBackend            = errors.New("unknown inference backend")
	ErrEmptyGraph            = errors.New("graph has no variables")
	ErrDuplicateName         = errors.New("duplicate group name")
	ErrBadDecoding           = errors.New("decoding does not cover the graph")
)
