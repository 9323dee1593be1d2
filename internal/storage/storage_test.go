package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/phage/internal/clock"
	"github.com/smallbiznis/phage/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (Store, *Signer, *clock.FakeClock) {
	t.Helper()

	conn, err := db.NewTest(t.Name())
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&Blob{}))

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	signer, generated, err := NewSigner("test-secret", "https://phage.example.com/", clk)
	require.NoError(t, err)
	require.False(t, generated)

	return NewDatabaseStore(conn, signer, clk), signer, clk
}

func TestDatabaseStoreRoundTrip(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("ATOM      1  N   MET A   1\n"), 100)
	key := NewObjectKey("uploads/protein", "input.pdb")
	require.NoError(t, store.Put(ctx, key, "chemical/x-pdb", bytes.NewReader(payload), int64(len(payload))))

	obj, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, "chemical/x-pdb", obj.ContentType)
	assert.Equal(t, int64(len(payload)), obj.Size)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDatabaseStorePutOverwrites(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "results/1.tar.gz", "", strings.NewReader("first"), 5))
	require.NoError(t, store.Put(ctx, "results/1.tar.gz", "application/gzip", strings.NewReader("second"), 6))

	obj, err := store.Get(ctx, "results/1.tar.gz")
	require.NoError(t, err)
	defer obj.Body.Close()
	data, _ := io.ReadAll(obj.Body)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, "application/gzip", obj.ContentType)
}

func TestDatabaseStoreRejectsBadKeys(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "/abs", "a/../b"} {
		err := store.Put(ctx, key, "", strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestDatabaseStoreURLIsSignedAndExpires(t *testing.T) {
	store, signer, clk := newTestStore(t)
	ctx := context.Background()

	_, err := store.URL(ctx, "results/missing.tar.gz", time.Hour, "")
	assert.ErrorIs(t, err, ErrNotFound)

	key := "results/42.tar.gz"
	require.NoError(t, store.Put(ctx, key, "application/gzip", strings.NewReader("archive"), 7))

	raw, err := store.URL(ctx, key, 10*time.Minute, "my-run.tar.gz")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://phage.example.com/files/results/42.tar.gz?"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "my-run.tar.gz", q.Get("filename"))
	require.NoError(t, signer.Verify(key, q.Get("expires"), q.Get("filename"), q.Get("sig")))

	assert.ErrorIs(t, signer.Verify("results/43.tar.gz", q.Get("expires"), q.Get("filename"), q.Get("sig")), ErrInvalidSignature)
	assert.ErrorIs(t, signer.Verify(key, q.Get("expires"), "other.tar.gz", q.Get("sig")), ErrInvalidSignature)
	assert.ErrorIs(t, signer.Verify(key, q.Get("expires"), q.Get("filename"), "zz"), ErrInvalidSignature)

	clk.Advance(11 * time.Minute)
	assert.ErrorIs(t, signer.Verify(key, q.Get("expires"), q.Get("filename"), q.Get("sig")), ErrURLExpired)
}

func TestNewSignerGeneratesSecret(t *testing.T) {
	signer, generated, err := NewSigner("", "http://localhost:8080", nil)
	require.NoError(t, err)
	assert.True(t, generated)
	assert.Len(t, signer.secret, 32)
}

func TestNewObjectKey(t *testing.T) {
	key := NewObjectKey("/uploads/ligand/", `C:\tmp\lig.sdf`)
	parts := strings.Split(key, "/")
	require.Len(t, parts, 4)
	assert.Equal(t, "uploads", parts[0])
	assert.Equal(t, "ligand", parts[1])
	assert.Len(t, parts[2], 26)
	assert.Equal(t, "lig.sdf", parts[3])

	assert.NotEqual(t, key, NewObjectKey("uploads/ligand", "lig.sdf"))
	assert.True(t, strings.HasSuffix(NewObjectKey("x", ""), "/blob"))
}

func TestDottedFilenamesAreValidKeys(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	key := NewObjectKey("uploads/protein", "1aki..minimized.pdb")
	assert.True(t, strings.HasSuffix(key, "/1aki..minimized.pdb"))
	require.NoError(t, store.Put(ctx, key, "", strings.NewReader("ATOM"), 4))

	obj, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NoError(t, obj.Body.Close())

	assert.True(t, strings.HasSuffix(NewObjectKey("x", ".."), "/blob"))
}

func TestValidateKeyRejectsTraversal(t *testing.T) {
	for _, key := range []string{"", "  ", "/abs/key", "uploads/../secret", "..", "uploads/./x", `uploads\x`} {
		assert.ErrorIs(t, validateKey(key), ErrInvalidKey, key)
	}
	for _, key := range []string{"uploads/a..b.pdb", "results/..hidden", "x/y.tar.gz"} {
		assert.NoError(t, validateKey(key), key)
	}
}
