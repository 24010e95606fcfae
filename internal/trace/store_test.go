package trace

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// createTestTrace writes records into a fresh on-disk store and returns its path.
func createTestTrace(t *testing.T, dir string, records ...Record) string {
	t.Helper()
	w, err := Create(dir)
	require.NoError(t, err)
	require.NoError(t, w.PutAll(records))
	require.NoError(t, w.Close())
	return dir
}

func sampleRecords() []Record {
	return []Record{
		{Key: "pid.100.1000", Value: "foo"},
		{Key: "pid.200.1500", Value: "bar"},
		{Key: "prv.pid.100.1000.path", Value: "/usr/bin/foo"},
		{Key: "prv.pid.100.1000.iexit", Value: "9000"},
		{Key: "prv.iopid.100.1000.1.2000", Value: "/home/x/data.txt"},
		{Key: "prv.iopid.100.10001.1.2000", Value: "/home/x/other.txt"},
	}
}

func TestOpen_MissingStore(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestOpen_FileIsNotAStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.log")
	require.NoError(t, os.WriteFile(path, []byte("not leveldb"), 0644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestOpen_EmptyDirectory(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestOpen_ResolvesDirSuffix(t *testing.T) {
	base := filepath.Join(t.TempDir(), "provenance.cde-root.1.log")
	createTestTrace(t, base+DirSuffix, sampleRecords()...)

	st, err := Open(base)
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, base+DirSuffix, st.Path())
	v, err := st.Get("pid.100.1000")
	require.NoError(t, err)
	assert.Equal(t, "foo", v)
}

func TestGet_NotFound(t *testing.T) {
	path := createTestTrace(t, filepath.Join(t.TempDir(), "trace"), sampleRecords()...)
	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Get("prv.pid.200.1500.iexit")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScan_PrefixIsExact(t *testing.T) {
	path := createTestTrace(t, filepath.Join(t.TempDir(), "trace"), sampleRecords()...)
	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	// prv.iopid.100.1000. must not pick up prv.iopid.100.10001.*
	recs, err := Collect(st.Scan(Prefix("prv.iopid.100.1000.")))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/home/x/data.txt", recs[0].Value)
}

func TestScan_OrderedAndBounded(t *testing.T) {
	path := createTestTrace(t, filepath.Join(t.TempDir(), "trace"), sampleRecords()...)
	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	recs, err := Collect(st.Scan(Prefix("pid.")))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "pid.100.1000", recs[0].Key)
	assert.Equal(t, "pid.200.1500", recs[1].Key)

	recs, err = Collect(st.Scan(Between("pid.", "pid.2")))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "pid.100.1000", recs[0].Key)
}

func TestScan_CloseIsIdempotent(t *testing.T) {
	path := createTestTrace(t, filepath.Join(t.TempDir(), "trace"), sampleRecords()...)
	st, err := Open(path)
	require.NoError(t, err)
	defer st.Close()

	it := st.Scan(Prefix("pid."))
	require.True(t, it.Next())
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.False(t, it.Next())
}

func TestOpenStorage_Memory(t *testing.T) {
	stor := storage.NewMemStorage()
	w, err := CreateStorage(stor)
	require.NoError(t, err)
	require.NoError(t, w.Put("pid.1.2", "sh"))
	require.NoError(t, w.Close())

	st, err := OpenStorage(stor)
	require.NoError(t, err)
	defer st.Close()

	v, err := st.Get("pid.1.2")
	require.NoError(t, err)
	assert.Equal(t, "sh", v)
}

func TestOpen_ConcurrentReaders(t *testing.T) {
	path := createTestTrace(t, filepath.Join(t.TempDir(), "trace"), sampleRecords()...)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := Open(path)
			if err != nil {
				errs <- err
				return
			}
			defer st.Close()
			_, err = Collect(st.Scan(Prefix("pid.")))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
