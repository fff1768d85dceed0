package avatar

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogFromDirectory(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Calm.png", "concerned.jpg", "welcoming.webp", "notes.txt", "thumbs.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "drafts"), 0o755))

	catalog := LoadCatalog(dir, nil)

	assert.Equal(t, []string{"calm", "concerned", "welcoming"}, catalog.Members())
	assert.True(t, catalog.Contains("calm"))
	assert.False(t, catalog.Contains("Calm"), "membership is exact, lowercasing is the caller's job")
	assert.False(t, catalog.Contains("notes"))
	assert.Equal(t, "calm, concerned, welcoming", catalog.Joined())
}

func TestLoadCatalogMissingDirectoryIsEmpty(t *testing.T) {
	catalog := LoadCatalog(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	assert.Equal(t, 0, catalog.Len())
	assert.False(t, catalog.Contains("welcoming"))
}

func TestNewCatalogNormalizes(t *testing.T) {
	catalog := NewCatalog("Calm", "calm", "  Concerned ", "")
	assert.Equal(t, []string{"calm", "concerned"}, catalog.Members())
}
