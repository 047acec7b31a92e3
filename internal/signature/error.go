package signature

import "errors"

// Error definitions for the signature package.
var (
	ErrMalformed         = errors.New("malformed signature")
	ErrModuleNotFound    = errors.New("module not found")
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrAlreadyRegistered = errors.New("signature is already registered")
	ErrTypeMismatch      = errors.New("registered value has unexpected type")
)
