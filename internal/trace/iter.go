package trace

import (
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Range is a key interval: Start inclusive, Limit exclusive.
// An empty Limit means "to the end of the store".
type Range struct {
	Start string
	Limit string
}

// Between returns the range [from, to).
func Between(from, to string) Range {
	return Range{Start: from, Limit: to}
}

// Prefix returns the range of all keys starting with p.
//
// Unlike the tracer's own tooling, which pads the upper bound with "z",
// the bound here is the exact successor of p, so keys containing bytes
// above 'z' are not lost.
func Prefix(p string) Range {
	r := util.BytesPrefix([]byte(p))
	return Range{Start: string(r.Start), Limit: string(r.Limit)}
}

func (r Range) bytes() *util.Range {
	out := &util.Range{Start: []byte(r.Start)}
	if r.Limit != "" {
		out.Limit = []byte(r.Limit)
	}
	return out
}

// Iterator walks records in key order, in the style of sql.Rows:
//
//	it := st.Scan(trace.Prefix("pid."))
//	defer it.Close()
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Key() string
	Value() string
	Err() error
	Close() error
}

type cursor struct {
	it       iterator.Iterator
	released bool
}

func (c *cursor) Next() bool {
	if c.released {
		return false
	}
	return c.it.Next()
}

// Key and Value copy: goleveldb reuses the underlying buffers between steps.
func (c *cursor) Key() string   { return string(c.it.Key()) }
func (c *cursor) Value() string { return string(c.it.Value()) }
func (c *cursor) Err() error    { return c.it.Error() }

func (c *cursor) Close() error {
	if c.released {
		return nil
	}
	err := c.it.Error()
	c.it.Release()
	c.released = true
	return err
}

// Record is one key-value pair.
type Record struct {
	Key   string
	Value string
}

// Collect drains it into a slice and closes it.
func Collect(it Iterator) ([]Record, error) {
	defer it.Close()
	var out []Record
	for it.Next() {
		out = append(out, Record{Key: it.Key(), Value: it.Value()})
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
