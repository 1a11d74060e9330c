// Package memory is an in-process document store used for tests and local
// development. State is lost when the process exits.
package memory

import (
	"context"
	"sort"
	"sync"

	"budgetplanner/internal/storage"
)

type doc struct {
	data    []byte
	version int64
}

type Store struct {
	mu   sync.RWMutex
	docs map[string]doc
	seq  int64

	commits int64
}

func New() *Store {
	return &Store{docs: make(map[string]doc)}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) GetAll(ctx context.Context, paths []string) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := storage.ValidatePath(p); err != nil {
			return nil, err
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Snapshot, len(paths))
	for i, p := range paths {
		out[i] = s.snapshot(p)
	}
	return out, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidatePath(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []storage.Snapshot
	for p := range s.docs {
		if storage.Parent(p) == collection {
			out = append(out, s.snapshot(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) Commit(ctx context.Context, conds []storage.Precondition, writes []storage.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payloads := make([][]byte, len(writes))
	for i, w := range writes {
		data, err := w.Encode()
		if err != nil {
			return err
		}
		payloads[i] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range conds {
		if s.docs[c.Path].version != c.Version {
			return storage.ErrConflict
		}
	}
	// Creates see the effect of earlier writes in the same commit.
	pending := make(map[string]bool)
	exists := func(p string) bool {
		if v, ok := pending[p]; ok {
			return v
		}
		_, ok := s.docs[p]
		return ok
	}
	for _, w := range writes {
		switch w.Kind {
		case storage.WriteCreate:
			if exists(w.Path) {
				return storage.ErrConflict
			}
			pending[w.Path] = true
		case storage.WriteSet:
			pending[w.Path] = true
		case storage.WriteDelete:
			pending[w.Path] = false
		}
	}

	s.seq++
	for i, w := range writes {
		if w.Kind == storage.WriteDelete {
			delete(s.docs, w.Path)
			continue
		}
		s.docs[w.Path] = doc{data: payloads[i], version: s.seq}
	}
	s.commits++
	return nil
}

func (s *Store) Close() error { return nil }

// Commits reports how many commits succeeded. Tests use it to assert that
// rejected operations never reached the store.
func (s *Store) Commits() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Len reports the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func (s *Store) snapshot(p string) storage.Snapshot {
	d, ok := s.docs[p]
	if !ok {
		return storage.Snapshot{Path: p}
	}
	return storage.Snapshot{Path: p, Data: d.data, Version: d.version}
}
