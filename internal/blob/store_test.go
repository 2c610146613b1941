package blob

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndDelete(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	url, err := store.Save([]byte("jpeg bytes"), "monstera.jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, URLPrefix))
	assert.True(t, strings.HasSuffix(url, ".jpeg"))

	path, err := store.Path(url)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg bytes"), data)

	require.NoError(t, store.Delete(url))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveDefaultsExtension(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	url, err := store.Save([]byte("x"), "no-extension")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".jpg"))
}

func TestNamesNeverCollide(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		url, err := store.Save([]byte("x"), "same.jpg")
		require.NoError(t, err)
		assert.False(t, seen[url], "duplicate name %s", url)
		seen[url] = true
	}
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Delete(URLPrefix+"never-existed.jpg"))
}

func TestPathRejectsForeignURLs(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Path("/elsewhere/file.jpg")
	assert.Error(t, err)
	_, err = store.Path(URLPrefix + "../../etc/passwd")
	assert.Error(t, err)
}
