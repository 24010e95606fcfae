package trace

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Writer creates trace stores. The compiler never writes; Writer exists for
// fixtures and for importing traces captured in other formats.
type Writer struct {
	db *leveldb.DB
}

// Create creates (or opens for writing) a store directory at path.
func Create(path string) (*Writer, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("create trace store %s: %w", path, err)
	}
	return &Writer{db: db}, nil
}

// CreateStorage creates a store on the given goleveldb storage.
func CreateStorage(stor storage.Storage) (*Writer, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("create trace store: %w", err)
	}
	return &Writer{db: db}, nil
}

// Put stores one record.
func (w *Writer) Put(key, value string) error {
	if err := w.db.Put([]byte(key), []byte(value), nil); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// PutAll stores records in a single batch.
func (w *Writer) PutAll(records []Record) error {
	batch := new(leveldb.Batch)
	for _, r := range records {
		batch.Put([]byte(r.Key), []byte(r.Value))
	}
	if err := w.db.Write(batch, nil); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Close flushes and releases the store.
func (w *Writer) Close() error {
	return w.db.Close()
}
