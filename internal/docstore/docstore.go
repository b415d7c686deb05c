// Package docstore is a small path-addressed document store with atomic
// multi-document commits. Paths alternate collection and document ids
// ("users/u1", "users/u1/bills/b7"), so a valid path has an even number of
// segments.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrConflict      = errors.New("document version conflict")
	ErrInvalidPath   = errors.New("invalid document path")
	ErrEmptyBatch    = errors.New("empty batch")
	ErrInvalidWrite  = errors.New("invalid write")
)

// Store reads single documents and commits batches of writes. Commit applies
// every write in the batch or none of them.
type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	Commit(ctx context.Context, batch *Batch) error
}

type Document struct {
	Path      string
	Data      map[string]any
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WriteKind int

const (
	WriteCreate WriteKind = iota + 1
	WriteSet
	WriteUpdate
)

func (k WriteKind) String() string {
	switch k {
	case WriteCreate:
		return "create"
	case WriteSet:
		return "set"
	case WriteUpdate:
		return "update"
	default:
		return "unknown"
	}
}

type Write struct {
	Kind WriteKind
	Path string
	Data map[string]any
	// IfVersion, when non-zero, requires the stored version to match.
	IfVersion int64
}

type Precondition func(*Write)

// IfVersion makes an update conditional on the document still being at
// version v.
func IfVersion(v int64) Precondition {
	return func(w *Write) {
		w.IfVersion = v
	}
}

// Batch collects writes for a single Commit. Writes are applied in the order
// they were added.
type Batch struct {
	writes []Write
}

func NewBatch() *Batch {
	return &Batch{}
}

// Create adds a document that must not exist yet.
func (b *Batch) Create(path string, data map[string]any) *Batch {
	b.writes = append(b.writes, Write{Kind: WriteCreate, Path: path, Data: data})
	return b
}

// Set writes a document, replacing any existing content.
func (b *Batch) Set(path string, data map[string]any) *Batch {
	b.writes = append(b.writes, Write{Kind: WriteSet, Path: path, Data: data})
	return b
}

// Update merges top-level fields into an existing document.
func (b *Batch) Update(path string, fields map[string]any, preconditions ...Precondition) *Batch {
	w := Write{Kind: WriteUpdate, Path: path, Data: fields}
	for _, p := range preconditions {
		p(&w)
	}
	b.writes = append(b.writes, w)
	return b
}

func (b *Batch) Writes() []Write {
	return b.writes
}

func (b *Batch) Len() int {
	return len(b.writes)
}

func (b *Batch) validate() error {
	if b == nil || len(b.writes) == 0 {
		return ErrEmptyBatch
	}
	for _, w := range b.writes {
		if err := ValidatePath(w.Path); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePath checks that path names a document rather than a collection.
func ValidatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	segments := strings.Split(path, "/")
	if len(segments)%2 != 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

func writeError(w Write, err error) error {
	return fmt.Errorf("%s %s: %w", w.Kind, w.Path, err)
}

// encodeData serialises document data. Times and decimals end up as strings,
// which the typed accessors on Document parse back.
func encodeData(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return data, nil
}

// normalize round-trips data through JSON so every store hands back the same
// value shapes.
func normalize(data map[string]any) (map[string]any, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, err
	}
	return decodeData(raw)
}
