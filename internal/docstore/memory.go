package docstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps documents in process. It backs tests and the memory
// driver.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*Document
	faults map[string]error
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*Document),
		faults: make(map[string]error),
		now:    time.Now,
	}
}

// InjectFault makes any write to path fail with err. A nil err clears it.
func (s *MemoryStore) InjectFault(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, path)
		return
	}
	s.faults[path] = err
}

func (s *MemoryStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc)
}

func (s *MemoryStore) Commit(ctx context.Context, batch *Batch) error {
	if err := batch.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Writes go to a staged view first so a failing write leaves the store
	// untouched.
	staged := make(map[string]*Document)
	lookup := func(path string) (*Document, bool) {
		if doc, ok := staged[path]; ok {
			return doc, true
		}
		doc, ok := s.docs[path]
		return doc, ok
	}

	now := s.now().UTC()
	for _, w := range batch.writes {
		if err, ok := s.faults[w.Path]; ok {
			return writeError(w, err)
		}
		data, err := normalize(w.Data)
		if err != nil {
			return writeError(w, err)
		}

		existing, exists := lookup(w.Path)
		switch w.Kind {
		case WriteCreate:
			if exists {
				return writeError(w, ErrAlreadyExists)
			}
			staged[w.Path] = &Document{Path: w.Path, Data: data, Version: 1, CreatedAt: now, UpdatedAt: now}
		case WriteSet:
			doc := &Document{Path: w.Path, Data: data, Version: 1, CreatedAt: now, UpdatedAt: now}
			if exists {
				doc.Version = existing.Version + 1
				doc.CreatedAt = existing.CreatedAt
			}
			staged[w.Path] = doc
		case WriteUpdate:
			if !exists {
				return writeError(w, ErrNotFound)
			}
			if w.IfVersion != 0 && existing.Version != w.IfVersion {
				return writeError(w, ErrConflict)
			}
			merged := make(map[string]any, len(existing.Data)+len(data))
			for k, v := range existing.Data {
				merged[k] = v
			}
			for k, v := range data {
				merged[k] = v
			}
			staged[w.Path] = &Document{
				Path:      w.Path,
				Data:      merged,
				Version:   existing.Version + 1,
				CreatedAt: existing.CreatedAt,
				UpdatedAt: now,
			}
		default:
			return writeError(w, ErrInvalidWrite)
		}
	}

	for path, doc := range staged {
		s.docs[path] = doc
	}
	return nil
}

func cloneDocument(doc *Document) (*Document, error) {
	data, err := normalize(doc.Data)
	if err != nil {
		return nil, err
	}
	out := *doc
	out.Data = data
	return &out, nil
}
