// Package record defines the gateway to the schemaless record store: named collections of JSON-like
// documents, filtered queries, atomic batches and live queries.
package record

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
)

// Reserved document keys. They are owned by the store and never persisted inside Record.Data.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

type (
	// Document is the body of a record. Values are JSON-normalised: numbers are float64, times are
	// RFC 3339 strings, nested structs are maps.
	Document map[string]interface{}

	Record struct {
		ID        string
		Data      Document
		CreatedAt time.Time
		UpdatedAt time.Time // zero until the first Update
	}

	Operator string

	// Condition filters on a top-level document field. Conditions of a query are ANDed.
	Condition struct {
		Field string
		Op    Operator
		Value interface{}
	}

	// Write is one element of an atomic Batch. An empty ID creates a new record; Delete removes ID.
	Write struct {
		Collection string
		ID         string
		Data       Document
		Delete     bool
	}

	// Unsubscribe stops a live query. It is safe to call more than once.
	Unsubscribe func()

	// Store is the record store gateway.
	Store interface {
		// Create stamps creation time and returns the new record id.
		Create(ctx context.Context, collection string, data Document) (string, error)
		// Set creates or overwrites the record with a caller-chosen id.
		Set(ctx context.Context, collection, id string, data Document) error
		Get(ctx context.Context, collection, id string) (Record, error)
		// Update merges data into an existing record and stamps its update time.
		// Fails with a core.NotFoundError if the record is absent.
		Update(ctx context.Context, collection, id string, data Document) error
		// Delete is idempotent: deleting an absent record succeeds.
		Delete(ctx context.Context, collection, id string) error
		// Query returns every record matching all conditions. No conditions means the whole collection.
		Query(ctx context.Context, collection string, conds []Condition, ordering ...core.DBOrdering) ([]Record, error)
		// Batch applies all writes or none of them, and returns the ids of the written records.
		Batch(ctx context.Context, writes []Write) ([]string, error)
		// Subscribe calls onChange with the current result set, then again after every write that
		// changes it, until Unsubscribe is called or ctx is done.
		Subscribe(ctx context.Context, collection string, conds []Condition, onChange func([]Record)) (Unsubscribe, error)
	}
)

const (
	OpEqual          Operator = "=="
	OpNotEqual       Operator = "!="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpIn             Operator = "in"
)

func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual, OpIn:
		return true
	default:
		return false
	}
}

// IsRange reports whether op needs an ordered index.
func (op Operator) IsRange() bool {
	switch op {
	case OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual, OpNotEqual:
		return true
	default:
		return false
	}
}

func Where(field string, op Operator, value interface{}) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

func Eq(field string, value interface{}) Condition {
	return Where(field, OpEqual, value)
}

func In(field string, values ...interface{}) Condition {
	return Where(field, OpIn, values)
}

// Field resolves a document field, including the reserved id and timestamp fields.
func (rec Record) Field(name string) (interface{}, bool) {
	switch name {
	case FieldID:
		return rec.ID, true
	case FieldCreatedAt:
		return formatTime(rec.CreatedAt), !rec.CreatedAt.IsZero()
	case FieldUpdatedAt:
		return formatTime(rec.UpdatedAt), !rec.UpdatedAt.IsZero()
	}
	val, ok := rec.Data[name]
	return val, ok
}

// Clone returns a deep enough copy of rec for handing out to subscribers.
func (rec Record) Clone() Record {
	data := make(Document, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}
	rec.Data = data
	return rec
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
