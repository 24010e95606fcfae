// Package trace provides read-only access to the tracer's LevelDB store.
//
// The tracer writes one sorted key-value store per monitored run. The
// compiler only ever reads it: Open uses LevelDB's read-only mode, which
// takes a shared lock, so several compilations of the same trace can run
// side by side as long as each owns its own Store.
package trace

import (
	"errors"
	"fmt"
	"os"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// DirSuffix is appended by the tracer to its log name to form the store
// directory ("provenance.cde-root.1.log" -> "provenance.cde-root.1.log_db").
const DirSuffix = "_db"

var (
	// ErrStoreUnavailable is returned when the store is missing or cannot be
	// opened read-only. It is fatal for a compilation.
	ErrStoreUnavailable = errors.New("trace store unavailable")

	// ErrNotFound is returned by Get for a missing key.
	ErrNotFound = errors.New("trace key not found")
)

// Store is a read-only handle on a trace store.
type Store struct {
	db   *leveldb.DB
	path string
}

// Open opens the store at path read-only.
//
// If path itself does not exist but path+DirSuffix does, the suffixed
// directory is used, so callers may pass either the tracer's log name or
// the store directory.
func Open(path string) (*Store, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(resolved, &opt.Options{
		ReadOnly:       true,
		ErrorIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, resolved, err)
	}

	return &Store{db: db, path: resolved}, nil
}

// OpenStorage opens a store on an existing goleveldb storage, typically
// storage.NewMemStorage() populated through a Writer.
func OpenStorage(stor storage.Storage) (*Store, error) {
	db, err := leveldb.Open(stor, &opt.Options{
		ReadOnly:       true,
		ErrorIfMissing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &Store{db: db, path: ":memory:"}, nil
}

// ResolvePath returns the directory Open would use for path.
func ResolvePath(path string) (string, error) {
	if isDir(path) {
		return path, nil
	}
	if isDir(path + DirSuffix) {
		return path + DirSuffix, nil
	}
	return "", fmt.Errorf("%w: %s: no such directory", ErrStoreUnavailable, path)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Path returns the resolved store directory.
func (s *Store) Path() string {
	return s.path
}

// Close releases the store.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	v, err := s.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return string(v), nil
}

// Scan returns a lazy cursor over r in key order.
// Callers must Close the cursor.
func (s *Store) Scan(r Range) Iterator {
	return &cursor{it: s.db.NewIterator(r.bytes(), nil)}
}
