package adapter

import (
	"errors"
	"fmt"

	"github.com/tordrt/relcache/internal/schema"
)

// ErrUnknownKind is wrapped when an operation needs to know what kind of relation it touches
var ErrUnknownKind = errors.New("relation kind is unknown")

// ErrAmbiguousRelation is wrapped when a lookup matches more than one relation
var ErrAmbiguousRelation = errors.New("more than one relation matches")

// ErrUnexpectedResult is wrapped when a macro returns rows of the wrong shape
var ErrUnexpectedResult = errors.New("unexpected result shape")

// WarehouseError is a failed warehouse call, tagged with the relation it concerned
type WarehouseError struct {
	Op       string
	Relation schema.Relation
	Err      error
}

func (e *WarehouseError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Relation, e.Err)
}

func (e *WarehouseError) Unwrap() error { return e.Err }

// ConfigurationError is a request the adapter refuses to send to the warehouse
type ConfigurationError struct {
	Relation schema.Relation
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %v", e.Relation, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
