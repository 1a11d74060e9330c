// Package bolt stores ledger documents in a bbolt file. Keys are document
// paths; values are an 8 byte big-endian version followed by the JSON body.
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"budgetplanner/internal/storage"
)

const bucketDocuments = "documents"

// Store is a storage.Store backed by bbolt.
type Store struct {
	db *bolt.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens or creates the database file and its bucket.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketDocuments)); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketDocuments, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetAll(ctx context.Context, paths []string) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := storage.ValidatePath(p); err != nil {
			return nil, err
		}
	}
	out := make([]storage.Snapshot, len(paths))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDocuments))
		for i, p := range paths {
			out[i] = decode(p, b.Get([]byte(p)))
		}
		return nil
	})
	return out, err
}

func (s *Store) List(ctx context.Context, collection string) ([]storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidatePath(collection); err != nil {
		return nil, err
	}
	prefix := []byte(collection + "/")
	var out []storage.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketDocuments)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); {
			if i := bytes.IndexByte(k[len(prefix):], '/'); i >= 0 {
				// Jump past the child's nested collections: '0' sorts right after '/'.
				next := make([]byte, 0, len(prefix)+i+1)
				next = append(append(next, k[:len(prefix)+i]...), '0')
				k, v = c.Seek(next)
				continue
			}
			out = append(out, decode(string(k), v))
			k, v = c.Next()
		}
		return nil
	})
	return out, err
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

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketDocuments))
		for _, c := range conds {
			if decode(c.Path, b.Get([]byte(c.Path))).Version != c.Version {
				return storage.ErrConflict
			}
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		version := int64(seq)

		for i, w := range writes {
			key := []byte(w.Path)
			switch w.Kind {
			case storage.WriteCreate:
				if b.Get(key) != nil {
					return storage.ErrConflict
				}
				err = b.Put(key, encode(version, payloads[i]))
			case storage.WriteSet:
				err = b.Put(key, encode(version, payloads[i]))
			case storage.WriteDelete:
				err = b.Delete(key)
			default:
				err = fmt.Errorf("unknown write kind %s", w.Kind)
			}
			if err != nil {
				return fmt.Errorf("%s %s: %w", w.Kind, w.Path, err)
			}
		}
		return nil
	})
}

func encode(version int64, data []byte) []byte {
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf, uint64(version))
	copy(buf[8:], data)
	return buf
}

// decode copies v out of the transaction; bbolt memory is only valid inside it.
func decode(path string, v []byte) storage.Snapshot {
	if len(v) < 8 {
		return storage.Snapshot{Path: path}
	}
	data := make([]byte, len(v)-8)
	copy(data, v[8:])
	return storage.Snapshot{
		Path:    path,
		Data:    data,
		Version: int64(binary.BigEndian.Uint64(v[:8])),
	}
}
