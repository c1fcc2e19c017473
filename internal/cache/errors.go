package cache

import (
	"errors"
	"fmt"

	"github.com/tordrt/relcache/internal/schema"
)

// ErrNotFound is wrapped by errors about relations the cache does not know
var ErrNotFound = errors.New("relation not found in cache")

// ConsistencyError is returned by a strict cache asked to operate on an unknown relation
type ConsistencyError struct {
	Op       string
	Relation schema.Relation
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("cache consistency: cannot %s %s: %v", e.Op, e.Relation, ErrNotFound)
}

func (e *ConsistencyError) Unwrap() error { return ErrNotFound }
