/*
store.go - Entity Store contract and transaction scoping

PURPOSE:
  Defines the interface between the lifecycle services and persistence.
  Backends store opaque JSON records keyed by (type, id) and index a small
  set of reference fields so related records can be listed.

KEY INTERFACES:
  EntityStore: Get / List / Put / Remove over records
  TxStore:     Adds WithTx for all-or-nothing multi-record writes

ATOMIC UNITS:
  Every mutating service operation runs through Atomic(). When the store is
  a TxStore, Atomic opens a transaction and places it in the context. A
  sibling service called with that context joins the same transaction
  instead of opening its own, so a cascade (quote win → order creation)
  commits or rolls back as one unit.

  Reads inside an operation must go through the tx handed to fn, or through
  Resolve(ctx, store) when called from a helper.

ORDERING:
  List returns records in first-insertion order. Detail lines are sorted by
  lineitemnumber on top of that (see lines.go).

IMPLEMENTATIONS:
  - crm/store/memory.go: In-memory for tests and demos
  - store/sqlite/sqlite.go: database/sql + go-sqlite3
  - store/redis/redis.go: go-redis with MULTI/EXEC commit

SEE ALSO:
  - entities.go: What gets stored
*/
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// STORE - Interface for record persistence
// =============================================================================

// Record is the storage form of an entity.
type Record struct {
	Type EntityType
	ID   string
	// Refs are the indexed reference fields, matched by Filter.
	Refs map[string]string
	Data json.RawMessage
}

// Filter selects records whose Refs contain every field=value pair.
// An empty filter matches all records of the type.
type Filter map[string]string

// Matches reports whether refs satisfy the filter.
func (f Filter) Matches(refs map[string]string) bool {
	for k, v := range f {
		if refs[k] != v {
			return false
		}
	}
	return true
}

// EntityStore persists records.
type EntityStore interface {
	// Get returns ErrRecordNotFound when (t, id) is absent.
	Get(ctx context.Context, t EntityType, id string) (Record, error)

	// List returns matching records in insertion order.
	List(ctx context.Context, t EntityType, f Filter) ([]Record, error)

	// Put inserts or replaces a record and its reference index.
	Put(ctx context.Context, rec Record) error

	// Remove deletes a record. Returns ErrRecordNotFound when absent.
	Remove(ctx context.Context, t EntityType, id string) error
}

// TxStore wraps EntityStore with transaction support.
type TxStore interface {
	EntityStore

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(EntityStore) error) error
}

// =============================================================================
// TRANSACTION SCOPING
// =============================================================================

type txKey struct{}

type txScope struct {
	owner EntityStore
	tx    EntityStore
}

// Atomic runs fn as one atomic unit against s.
// If ctx already carries a transaction opened on s, fn joins it.
func Atomic(ctx context.Context, s EntityStore, fn func(ctx context.Context, tx EntityStore) error) error {
	if scope, ok := ctx.Value(txKey{}).(txScope); ok && scope.owner == s {
		return fn(ctx, scope.tx)
	}
	ts, ok := s.(TxStore)
	if !ok {
		return fn(ctx, s)
	}
	return ts.WithTx(ctx, func(tx EntityStore) error {
		return fn(context.WithValue(ctx, txKey{}, txScope{owner: s, tx: tx}), tx)
	})
}

// Resolve returns the transaction in ctx for s, or s itself.
func Resolve(ctx context.Context, s EntityStore) EntityStore {
	if scope, ok := ctx.Value(txKey{}).(txScope); ok && scope.owner == s {
		return scope.tx
	}
	return s
}

// =============================================================================
// TYPED HELPERS
// =============================================================================

// Save marshals e and writes it.
func Save(ctx context.Context, s EntityStore, e Entity) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", e.EntityType(), e.EntityID(), err)
	}
	return s.Put(ctx, Record{
		Type: e.EntityType(),
		ID:   e.EntityID(),
		Refs: e.References(),
		Data: data,
	})
}

// Load reads and unmarshals one entity. A miss is a *NotFoundError.
func Load[T any](ctx context.Context, s EntityStore, t EntityType, id string) (*T, error) {
	rec, err := s.Get(ctx, t, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound(t, id)
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(rec.Data, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s %s: %w", t, id, err)
	}
	return &v, nil
}

// Find lists and unmarshals matching entities.
func Find[T any](ctx context.Context, s EntityStore, t EntityType, f Filter) ([]*T, error) {
	recs, err := s.List(ctx, t, f)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := json.Unmarshal(rec.Data, &v); err != nil {
			return nil, fmt.Errorf("unmarshal %s %s: %w", t, rec.ID, err)
		}
		out = append(out, &v)
	}
	return out, nil
}

// Delete removes one entity. A miss is a *NotFoundError.
func Delete(ctx context.Context, s EntityStore, t EntityType, id string) error {
	err := s.Remove(ctx, t, id)
	if errors.Is(err, ErrRecordNotFound) {
		return notFound(t, id)
	}
	return err
}

// Exists reports whether (t, id) is present.
func Exists(ctx context.Context, s EntityStore, t EntityType, id string) (bool, error) {
	_, err := s.Get(ctx, t, id)
	if errors.Is(err, ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// CheckCustomer verifies that (customerType, id) names an existing account or contact.
func CheckCustomer(ctx context.Context, s EntityStore, customerType CustomerType, id string) error {
	switch customerType {
	case CustomerAccount:
		_, err := Load[Account](ctx, s, TypeAccount, id)
		return err
	case CustomerContact:
		_, err := Load[Contact](ctx, s, TypeContact, id)
		return err
	default:
		return NewValidationError("customeridtype must be account or contact")
	}
}
