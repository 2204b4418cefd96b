package vault

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorinidrive.com/vault/internal/blob"
	"gorinidrive.com/vault/internal/errs"
)

var testKDF = KDFParams{Memory: 1024, Iterations: 1, Parallelism: 1}

type memStore struct {
	mu        sync.Mutex
	files     map[int32]*File
	failWrite bool
}

func (s *memStore) GetFile(_ context.Context, id int32) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, errs.NotFound("file")
	}
	cp := *f
	return &cp, nil
}

func (s *memStore) UpdateContent(_ context.Context, id int32, version int64, c Content) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite {
		return false, errors.New("connection reset")
	}
	f := s.files[id]
	if f.Version != version {
		return false, nil
	}
	f.Location, f.Size, f.Encrypted, f.Encryption = c.Location, c.Size, c.Encrypted, c.Encryption
	f.Version++
	return true, nil
}

type fixture struct {
	engine *Engine
	store  *memStore
	blobs  *blob.DiskStore
	dir    string
}

func newFixture(t *testing.T, contents []byte) *fixture {
	t.Helper()
	dir := t.TempDir()
	blobs, err := blob.NewDiskStore(dir)
	require.NoError(t, err)
	require.NoError(t, blobs.Put(context.Background(), "loc1", bytes.NewReader(contents), int64(len(contents)), ""))

	store := &memStore{files: map[int32]*File{
		1: {ID: 1, OwnerID: 10, Name: "f1.txt", Size: int64(len(contents)), Location: "loc1", Version: 1},
	}}
	logger, _ := test.NewNullLogger()
	return &fixture{
		engine: NewEngineWithKDF(store, blobs, logger, testKDF),
		store:  store,
		blobs:  blobs,
		dir:    dir,
	}
}

func (fx *fixture) stored(t *testing.T) (*File, []byte) {
	t.Helper()
	f, err := fx.store.GetFile(context.Background(), 1)
	require.NoError(t, err)
	data, err := blob.ReadAll(context.Background(), fx.blobs, f.Location)
	require.NoError(t, err)
	return f, data
}

func TestEncrypt_ReadWithPassword(t *testing.T) {
	original := []byte("the quick brown fox jumps over the lazy dog")
	fx := newFixture(t, original)
	ctx := context.Background()

	f, err := fx.engine.Encrypt(ctx, 1, "correct-horse")
	require.NoError(t, err)
	assert.True(t, f.Encrypted)
	require.NotNil(t, f.Encryption)
	assert.Len(t, f.Encryption.Salt, saltSize)
	assert.Len(t, f.Encryption.Nonce, nonceSize)
	assert.Equal(t, int64(len(original)), f.Size)

	stored, ciphertext := fx.stored(t)
	assert.NotEqual(t, "loc1", stored.Location)
	assert.Len(t, ciphertext, len(original)+Overhead)
	assert.False(t, bytes.Contains(ciphertext, original))

	// old plaintext blob is gone
	_, err = fx.blobs.Get(ctx, "loc1")
	assert.ErrorIs(t, err, blob.ErrNotFound)

	got, err := fx.engine.ReadWithPassword(ctx, 1, "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, original, got)

	got, err = fx.engine.ReadWithPassword(ctx, 1, "wrong")
	assert.ErrorIs(t, err, errs.ErrInvalidPassword)
	assert.Nil(t, got)

	// reads never change stored state
	after, afterCT := fx.stored(t)
	assert.Equal(t, stored, after)
	assert.Equal(t, ciphertext, afterCT)
}

func TestEncrypt_Errors(t *testing.T) {
	fx := newFixture(t, []byte("data"))
	ctx := context.Background()

	_, err := fx.engine.Encrypt(ctx, 1, "")
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = fx.engine.Encrypt(ctx, 99, "pw")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = fx.engine.Encrypt(ctx, 1, "pw")
	require.NoError(t, err)
	_, err = fx.engine.Encrypt(ctx, 1, "pw")
	assert.ErrorIs(t, err, errs.ErrAlreadyEncrypted)
}

func TestEncrypt_FailedUpdateLeavesFileUntouched(t *testing.T) {
	fx := newFixture(t, []byte("keep me"))
	fx.store.failWrite = true

	_, err := fx.engine.Encrypt(context.Background(), 1, "pw")
	require.Error(t, err)

	f, data := fx.stored(t)
	assert.False(t, f.Encrypted)
	assert.Equal(t, "loc1", f.Location)
	assert.Equal(t, "keep me", string(data))

	// the new blob was cleaned up
	entries, err := filepathEntries(fx.dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"loc1"}, entries)
}

func TestEncrypt_VersionConflict(t *testing.T) {
	fx := newFixture(t, []byte("data"))
	// another process bumped the version after our read
	store := &racingStore{memStore: fx.store}
	fx.engine.store = store

	_, err := fx.engine.Encrypt(context.Background(), 1, "pw")
	assert.ErrorIs(t, err, errs.ErrVersionConflict)

	f, data := fx.stored(t)
	assert.False(t, f.Encrypted)
	assert.Equal(t, "data", string(data))
}

type racingStore struct {
	*memStore
}

func (r *racingStore) UpdateContent(ctx context.Context, id int32, version int64, c Content) (bool, error) {
	return r.memStore.UpdateContent(ctx, id, version-1, c)
}

func TestDecrypt(t *testing.T) {
	original := []byte("secret plans")
	fx := newFixture(t, original)
	ctx := context.Background()

	_, err := fx.engine.Decrypt(ctx, 1, "pw", false)
	assert.ErrorIs(t, err, errs.ErrNotEncrypted)

	_, err = fx.engine.Encrypt(ctx, 1, "pw")
	require.NoError(t, err)

	// transient
	got, err := fx.engine.Decrypt(ctx, 1, "pw", false)
	require.NoError(t, err)
	assert.Equal(t, original, got)
	f, _ := fx.stored(t)
	assert.True(t, f.Encrypted)

	_, err = fx.engine.Decrypt(ctx, 1, "nope", true)
	assert.ErrorIs(t, err, errs.ErrInvalidPassword)
	f, _ = fx.stored(t)
	assert.True(t, f.Encrypted)

	// permanent
	got, err = fx.engine.Decrypt(ctx, 1, "pw", true)
	require.NoError(t, err)
	assert.Equal(t, original, got)

	f, data := fx.stored(t)
	assert.False(t, f.Encrypted)
	assert.Nil(t, f.Encryption)
	assert.Equal(t, original, data)

	// unencrypted files read without a password
	got, err = fx.engine.ReadWithPassword(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		plaintext []byte
		password  string
	}{
		{"empty", []byte{}, "pw"},
		{"binary", []byte{0, 1, 2, 3, 255, 254}, "p@ss w0rd"},
		{"unicode password", []byte("hello"), "contraseña-ñ"},
		{"large", bytes.Repeat([]byte("abcdefgh"), 64*1024), "long-password-long-password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newFixture(t, tc.plaintext)
			ctx := context.Background()
			_, err := fx.engine.Encrypt(ctx, 1, tc.password)
			require.NoError(t, err)

			got, err := fx.engine.ReadWithPassword(ctx, 1, tc.password)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, got)

			_, err = fx.engine.ReadWithPassword(ctx, 1, tc.password+"x")
			assert.ErrorIs(t, err, errs.ErrInvalidPassword)
		})
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	fx := newFixture(t, []byte("integrity matters"))
	ctx := context.Background()
	_, err := fx.engine.Encrypt(ctx, 1, "pw")
	require.NoError(t, err)
	f, ct := fx.stored(t)

	flipped := bytes.Clone(ct)
	flipped[3] ^= 0x80
	require.NoError(t, fx.blobs.Put(ctx, f.Location, bytes.NewReader(flipped), int64(len(flipped)), ""))
	_, err = fx.engine.ReadWithPassword(ctx, 1, "pw")
	assert.ErrorIs(t, err, errs.ErrInvalidPassword)

	truncated := ct[:len(ct)-1]
	require.NoError(t, fx.blobs.Put(ctx, f.Location, bytes.NewReader(truncated), int64(len(truncated)), ""))
	got, err := fx.engine.ReadWithPassword(ctx, 1, "pw")
	assert.ErrorIs(t, err, errs.ErrEncryption)
	assert.Nil(t, got)
}

func TestCiphertextBoundToFile(t *testing.T) {
	ct, meta, err := seal(1, []byte("mine"), "pw", testKDF)
	require.NoError(t, err)

	_, err = open(2, ct, 4, "pw", meta)
	assert.ErrorIs(t, err, errAuth)

	got, err := open(1, ct, 4, "pw", meta)
	require.NoError(t, err)
	assert.Equal(t, "mine", string(got))
}

func TestMissingMetadataFails(t *testing.T) {
	fx := newFixture(t, []byte("x"))
	fx.store.files[1].Encrypted = true

	_, err := fx.engine.ReadWithPassword(context.Background(), 1, "pw")
	assert.ErrorIs(t, err, errs.ErrEncryption)
}

func TestConcurrentEncryptSerialized(t *testing.T) {
	fx := newFixture(t, []byte("race"))

	var wg sync.WaitGroup
	results := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.engine.Encrypt(context.Background(), 1, "pw")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, already int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrAlreadyEncrypted):
			already++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 3, already)

	got, err := fx.engine.ReadWithPassword(context.Background(), 1, "pw")
	require.NoError(t, err)
	assert.Equal(t, "race", string(got))
}
