// Package cache memoizes prediction results by model and structure.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ekisa-team/beamline/internal/predictor"
)

// Predictions is a bounded LRU of prediction results. A nil *Predictions is
// a valid, always-missing cache.
type Predictions struct {
	lru *lru.Cache[string, predictor.Result]
}

// New creates a cache holding up to size results. A size of zero or less
// returns nil, which disables caching.
func New(size int) (*Predictions, error) {
	if size <= 0 {
		return nil, nil
	}

	c, err := lru.New[string, predictor.Result](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	return &Predictions{lru: c}, nil
}

// Key builds the cache key for a model and a structure fingerprint.
func Key(modelID, fingerprint string) string {
	return modelID + "/" + fingerprint
}

// Get returns the cached result for key.
func (c *Predictions) Get(key string) (predictor.Result, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(key)
}

// Add stores result under key.
func (c *Predictions) Add(key string, result predictor.Result) {
	if c == nil {
		return
	}
	c.lru.Add(key, result)
}

// Len is the number of cached results.
func (c *Predictions) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Purge drops every entry, e.g. after the models are reloaded.
func (c *Predictions) Purge() {
	if c == nil {
		return
	}
	c.lru.Purge()
}
