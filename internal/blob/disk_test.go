package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore_PutGetDelete(t *testing.T) {
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	key, err := NewKey()
	require.NoError(t, err)
	require.Len(t, key, 64)

	require.NoError(t, s.Put(ctx, key, bytes.NewReader([]byte("hello")), 5, "text/plain"))

	got, err := ReadAll(ctx, s, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, s.Delete(ctx, key))
}

type failingReader struct{ n int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n == 0 {
		return 0, errors.New("disk full")
	}
	f.n--
	p[0] = 'x'
	return 1, nil
}

func TestDiskStore_FailedPutLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", bytes.NewReader([]byte("original")), 8, ""))

	err = s.Put(ctx, "k1", &failingReader{n: 3}, -1, "")
	require.Error(t, err)

	// original untouched, no temp files left behind
	got, err := ReadAll(ctx, s, "k1")
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDiskStore_RejectsTraversal(t *testing.T) {
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "..", "../etc/passwd", `a\b`} {
		assert.Error(t, s.Put(context.Background(), key, bytes.NewReader(nil), 0, ""), key)
	}
}

func TestDiskStore_CancelledContext(t *testing.T) {
	s, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Put(ctx, "k", io.LimitReader(bytes.NewReader(make([]byte, 10)), 10), 10, "")
	assert.ErrorIs(t, err, context.Canceled)
}
