package storage

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	store, err := NewLocalStorage(root)
	require.NoError(t, err)

	url, err := store.Upload(ctx, pngBytes(t, 64, 64), "input.png", FolderOriginals)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/originals/input.png", url)

	_, err = os.Stat(filepath.Join(root, "originals", "input.png"))
	require.NoError(t, err, "uploaded file should exist on disk")

	data, err := store.Download(ctx, url)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	info, err := store.Info(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "image/png", info.ContentType)

	require.NoError(t, store.Delete(ctx, url))

	info, err = store.Info(ctx, url)
	require.NoError(t, err)
	assert.Nil(t, info, "info after delete should report a missing object")
}

func TestLocalStorageReencodesToJPEG(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	// No pure-Go webp encoder exists, so a .webp target is stored as JPEG
	// with the extension rewritten.
	url, err := store.Upload(ctx, pngBytes(t, 64, 64), "art.webp", FolderResults)
	require.NoError(t, err)
	assert.Equal(t, "/uploads/results/art.jpg", url)

	data, err := store.Download(ctx, url)
	require.NoError(t, err)

	_, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestLocalStorageRejectsForeignURLs(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	for _, url := range []string{
		"https://storage.googleapis.com/other-bucket/results/a.jpg",
		"/somewhere/else.png",
		"",
	} {
		err := store.Delete(ctx, url)
		assert.ErrorIs(t, err, ErrInvalidReference, "url %q", url)
	}
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Download(ctx, "/uploads/../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestEncodeByExt(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))

	tests := []struct {
		filename   string
		wantName   string
		wantType   string
		wantFormat string
	}{
		{"a.png", "a.png", "image/png", "png"},
		{"a.jpg", "a.jpg", "image/jpeg", "jpeg"},
		{"a.jpeg", "a.jpeg", "image/jpeg", "jpeg"},
		{"a.webp", "a.jpg", "image/jpeg", "jpeg"},
		{"a.gif", "a.jpg", "image/jpeg", "jpeg"},
	}

	for _, tt := range tests {
		data, name, contentType, err := encodeByExt(img, tt.filename)
		require.NoError(t, err, "filename %q", tt.filename)
		assert.Equal(t, tt.wantName, name)
		assert.Equal(t, tt.wantType, contentType)

		_, format, err := image.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, tt.wantFormat, format)
	}
}
