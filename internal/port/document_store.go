package port

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
)

// CollectionRef addresses a top-level collection or a subcollection of a document.
type CollectionRef struct {
	Parent *DocRef
	Name   string
}

type DocRef struct {
	Coll CollectionRef
	ID   string
}

func Collection(name string) CollectionRef {
	return CollectionRef{Name: name}
}

func Doc(collection, id string) DocRef {
	return DocRef{Coll: Collection(collection), ID: id}
}

func (c CollectionRef) Doc(id string) DocRef {
	return DocRef{Coll: c, ID: id}
}

func (c CollectionRef) Path() string {
	if c.Parent == nil {
		return c.Name
	}
	return c.Parent.Path() + "/" + c.Name
}

// Collection returns a subcollection of the document.
func (r DocRef) Collection(name string) CollectionRef {
	parent := r
	return CollectionRef{Parent: &parent, Name: name}
}

func (r DocRef) Path() string {
	return r.Coll.Path() + "/" + r.ID
}

func (r DocRef) String() string { return r.Path() }

// ParseDocRef is the inverse of DocRef.Path.
func ParseDocRef(path string) (DocRef, error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return DocRef{}, fmt.Errorf("invalid document path %q", path)
	}
	ref := Doc(parts[0], parts[1])
	for i := 2; i < len(parts); i += 2 {
		ref = ref.Collection(parts[i]).Doc(parts[i+1])
	}
	return ref, nil
}

type Document struct {
	Ref  DocRef
	Data map[string]any
}

// Decode unmarshals the document data into v.
func (d Document) Decode(v any) error {
	b, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", d.Ref, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Ref, err)
	}
	return nil
}

// Encode turns a tagged struct into document data.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return data, nil
}

// Filter is an equality match on a top-level field.
type Filter struct {
	Field string
	Value any
}

type Query struct {
	Collection CollectionRef
	Where      []Filter
	OrderBy    string
	Descending bool
}

type OpKind int

const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
	OpIncrement
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpIncrement:
		return "increment"
	}
	return "unknown"
}

type BatchOp struct {
	Kind  OpKind
	Ref   DocRef
	Data  map[string]any
	Field string
	Delta int64
}

func CreateOp(ref DocRef, data map[string]any) BatchOp {
	return BatchOp{Kind: OpCreate, Ref: ref, Data: data}
}

func UpdateOp(ref DocRef, data map[string]any) BatchOp {
	return BatchOp{Kind: OpUpdate, Ref: ref, Data: data}
}

func DeleteOp(ref DocRef) BatchOp {
	return BatchOp{Kind: OpDelete, Ref: ref}
}

func IncrementOp(ref DocRef, field string, delta int64) BatchOp {
	return BatchOp{Kind: OpIncrement, Ref: ref, Field: field, Delta: delta}
}

type DocumentStore interface {
	// Get returns ErrNotFound when the document is absent.
	Get(ctx context.Context, ref DocRef) (Document, error)

	// GetAll lists documents of one collection, optionally filtered and ordered.
	GetAll(ctx context.Context, q Query) ([]Document, error)

	// Create fails with ErrAlreadyExists if the document is present.
	// An empty ref.ID is replaced with a generated id, which is returned.
	Create(ctx context.Context, ref DocRef, data map[string]any) (string, error)

	// Update merges data into an existing document, ErrNotFound otherwise.
	Update(ctx context.Context, ref DocRef, data map[string]any) error

	// Delete is a no-op for absent documents.
	Delete(ctx context.Context, ref DocRef) error

	// Increment adds delta to a numeric field relative to its stored value
	// and returns the new value. The document must exist.
	Increment(ctx context.Context, ref DocRef, field string, delta int64) (int64, error)

	// Batch applies all operations or none of them.
	Batch(ctx context.Context, ops []BatchOp) error
}
