// Package storage defines the document store the ledger runs on.
//
// Documents are JSON values addressed by slash separated paths such as
// "users/u1/bank_accounts/a1". A collection is the path prefix shared by its
// direct children. Every committed document carries a version drawn from a
// store-wide sequence; commits are guarded by version preconditions, which is
// what makes optimistic multi-document transactions possible on top.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConflict is returned by Commit when a precondition no longer holds
	// or a Create targets an existing document. Nothing was applied.
	ErrConflict = errors.New("storage: write conflict")

	// ErrInvalidPath is returned for empty paths or paths with empty segments.
	ErrInvalidPath = errors.New("storage: invalid path")
)

// Snapshot is a document as read at one point in time. A missing document
// has Version 0 and no Data.
type Snapshot struct {
	Path    string
	Data    []byte
	Version int64
}

func (s Snapshot) Exists() bool { return s.Version > 0 }

// ID is the last path segment.
func (s Snapshot) ID() string {
	return s.Path[strings.LastIndex(s.Path, "/")+1:]
}

// Decode unmarshals the document into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists() {
		return fmt.Errorf("decode %s: document does not exist", s.Path)
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return nil
}

type WriteKind int

const (
	// WriteSet creates or replaces a document.
	WriteSet WriteKind = iota
	// WriteCreate creates a document and conflicts if it exists.
	WriteCreate
	// WriteDelete removes a document; deleting a missing document is a no-op.
	WriteDelete
)

func (k WriteKind) String() string {
	switch k {
	case WriteSet:
		return "set"
	case WriteCreate:
		return "create"
	case WriteDelete:
		return "delete"
	}
	return fmt.Sprintf("WriteKind(%d)", int(k))
}

// Write is one document mutation inside a commit. Value is JSON encoded by
// the backend at commit time.
type Write struct {
	Kind  WriteKind
	Path  string
	Value any
}

func Put(path string, v any) Write    { return Write{Kind: WriteSet, Path: path, Value: v} }
func Create(path string, v any) Write { return Write{Kind: WriteCreate, Path: path, Value: v} }
func Delete(path string) Write        { return Write{Kind: WriteDelete, Path: path} }

// Encode validates the write and returns its JSON payload. Deletes have none.
func (w Write) Encode() ([]byte, error) {
	if err := ValidatePath(w.Path); err != nil {
		return nil, err
	}
	if w.Kind == WriteDelete {
		return nil, nil
	}
	data, err := json.Marshal(w.Value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", w.Path, err)
	}
	return data, nil
}

// Precondition requires the document at Path to still be at Version.
// Version 0 requires the document to not exist.
type Precondition struct {
	Path    string
	Version int64
}

// Store is the document store collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	// GetAll reads every path from one consistent snapshot, in order.
	GetAll(ctx context.Context, paths []string) ([]Snapshot, error)
	// List returns the direct children of collection ordered by path.
	List(ctx context.Context, collection string) ([]Snapshot, error)
	// Commit checks every precondition and applies every write atomically,
	// or returns ErrConflict and applies nothing.
	Commit(ctx context.Context, conds []Precondition, writes []Write) error
	Close() error
}

// Get reads a single document.
func Get(ctx context.Context, s Store, path string) (Snapshot, error) {
	snaps, err := s.GetAll(ctx, []string{path})
	if err != nil {
		return Snapshot{}, err
	}
	return snaps[0], nil
}

// SetDoc writes v at path unconditionally.
func SetDoc(ctx context.Context, s Store, path string, v any) error {
	return s.Commit(ctx, nil, []Write{Put(path, v)})
}

// DeleteDoc removes the document at path unconditionally.
func DeleteDoc(ctx context.Context, s Store, path string) error {
	return s.Commit(ctx, nil, []Write{Delete(path)})
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Parent returns the collection a document lives in.
func Parent(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func ValidatePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}
