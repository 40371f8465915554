package artifact

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDirRoundTrip(t *testing.T) {
	d := &Dir{Root: filepath.Join(t.TempDir(), "blobs")}
	ctx := context.Background()

	ref, err := d.Store(ctx, writeTemp(t, "release bytes"))
	require.NoError(t, err)
	require.NotEmpty(t, ref)

	path, err := d.Fetch(ctx, ref)
	require.NoError(t, err)
	content, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "release bytes", string(content))
}

func TestDirContentAddressing(t *testing.T) {
	d := &Dir{Root: filepath.Join(t.TempDir(), "blobs")}
	ctx := context.Background()

	ref1, err := d.Store(ctx, writeTemp(t, "same"))
	require.NoError(t, err)
	ref2, err := d.Store(ctx, writeTemp(t, "same"))
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	ref3, err := d.Store(ctx, writeTemp(t, "different"))
	require.NoError(t, err)
	assert.NotEqual(t, ref1, ref3)
}

func TestDirFetchMissing(t *testing.T) {
	d := &Dir{Root: t.TempDir()}
	_, err := d.Fetch(context.Background(), "no-such-ref")
	assert.Equal(t, ErrNotFound, errors.Cause(err))
}

func TestInMemRoundTrip(t *testing.T) {
	s := NewInMem()
	ctx := context.Background()

	ref, err := s.StoreBytes([]byte("payload"))
	require.NoError(t, err)

	path, err := s.Fetch(ctx, ref)
	require.NoError(t, err)
	content, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(content))

	_, err = s.Fetch(ctx, "no-such-ref")
	assert.Equal(t, ErrNotFound, errors.Cause(err))

	// refs agree with the file-based path
	fileRef, err := s.Store(ctx, writeTemp(t, "payload"))
	require.NoError(t, err)
	assert.Equal(t, ref, fileRef)
}
