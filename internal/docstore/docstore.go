// Package docstore is a small document database over Postgres jsonb rows.
//
// Documents live in named collections, optionally scoped to a parent document
// (subcollections such as conversations/<id>/messages). Every write emits a
// Change on the Feed so live queries can re-run.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrAlreadyExists = errors.New("docstore: document already exists")
	ErrInvalidPath   = errors.New("docstore: invalid field path")
	ErrInvalidData   = errors.New("docstore: document data must be a JSON object")

	// ErrPreconditionFailed means the document exists but did not match the update conditions.
	ErrPreconditionFailed = errors.New("docstore: update precondition failed")
)

type Document struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Parent     string          `json:"parent,omitempty"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// DataTo decodes the document body into v.
func (d Document) DataTo(v any) error {
	if len(d.Data) == 0 {
		return fmt.Errorf("docstore: %s/%s has no data", d.Collection, d.ID)
	}
	return json.Unmarshal(d.Data, v)
}

// ChangeOp names the kind of write that produced a Change.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ResyncAll is the Collection value of a Change that invalidates every query.
const ResyncAll = "*"

type Change struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Parent     string   `json:"parent"`
	Op         ChangeOp `json:"op"`
}

// Store is the read/write surface shared by the Postgres and in-memory backends.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Create(ctx context.Context, collection, parent, id string, data any) (Document, error)
	Set(ctx context.Context, collection, parent, id string, data any, merge bool) (Document, error)
	Update(ctx context.Context, collection, id string, updates ...FieldUpdate) (Document, error)
	UpdateWhere(ctx context.Context, collection, id string, conds []Filter, updates ...FieldUpdate) (Document, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
}

// Feed delivers change notifications. The returned func cancels the subscription.
type Feed interface {
	Subscribe(fn func(Change)) (cancel func())
}

// NewID returns a fresh document id.
func NewID() string {
	return uuid.NewString()
}

func encodeData(data any) (json.RawMessage, error) {
	var b []byte
	switch v := data.(type) {
	case nil:
		b = []byte("{}")
	case json.RawMessage:
		b = v
	case []byte:
		b = v
	default:
		var err error
		b, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("docstore: encode data: %w", err)
		}
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidData
	}
	return json.RawMessage(trimmed), nil
}
