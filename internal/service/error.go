package service

import "errors"

// Error definitions for the service package.
var (
	ErrInvalidRequest = errors.New("invalid request")
)
