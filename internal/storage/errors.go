package storage

import "errors"

// Common storage errors
var (
	ErrNotFound = errors.New("not found")
	// ErrInconsistentParts means a stored bytecode has a gap in its part
	// positions or references a missing part.
	ErrInconsistentParts = errors.New("inconsistent bytecode parts")
	ErrInvalidPart       = errors.New("invalid bytecode part")
)

// Comparison errors returned by Compare.
var (
	ErrLengthMismatch          = errors.New("on-chain code is shorter than stored code")
	ErrBytecodeMismatch        = errors.New("bytecode does not match stored parts")
	ErrMetadataMismatch        = errors.New("metadata does not match stored part")
	ErrCompilerVersionMismatch = errors.New("compiler version in metadata does not match")
)
