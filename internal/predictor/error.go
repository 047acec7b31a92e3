package predictor

import "errors"

// Error definitions for the predictor package.
var (
	ErrNotSupported       = errors.New("not supported")
	ErrInvalidSelector    = errors.New("invalid model selector")
	ErrCheckpointNotFound = errors.New("checkpoint not found in zoo")
	ErrMetadataNotFound   = errors.New("metadata not found in zoo")
	ErrInvalidMetadata    = errors.New("invalid model metadata")
	ErrNotLoaded          = errors.New("predictor is not loaded")
	ErrEnsembleFetch      = errors.New("ensemble selectors cannot be fetched")
	ErrNoPermalink        = errors.New("model has no permalink")
	ErrGridNotFound       = errors.New("no energy grid for theory and element")
	ErrShapeMismatch      = errors.New("prediction shapes differ")
	ErrEmptyResult        = errors.New("result has no sites")
	ErrUnexpectedInput    = errors.New("unexpected pipeline input")
)
