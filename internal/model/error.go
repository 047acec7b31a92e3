package model

import "errors"

// Error definitions for the model package.
var (
	ErrNotFound = errors.New("model not found in registry")
	ErrNotReady = errors.New("model is not loaded")
	ErrUnloaded = errors.New("model was unloaded")
)
