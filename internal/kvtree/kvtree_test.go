package kvtree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeSetGet(t *testing.T) {
	tr := New()
	tr.SetInt("state", 2)
	tr.SetStr("name", "ckpt.0")
	tr.SetBlob("manifest", []byte{1, 2, 3})

	v, ok := tr.GetInt("state")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	s, ok := tr.GetStr("name")
	require.True(t, ok)
	assert.Equal(t, "ckpt.0", s)

	b, ok := tr.GetBlob("manifest")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, b)

	_, ok = tr.GetInt("missing")
	assert.False(t, ok)
}

func TestTreeChild(t *testing.T) {
	tr := New()
	tr.Child("rank.0").SetInt("files", 3)

	c, ok := tr.ChildIfPresent("rank.0")
	require.True(t, ok)
	v, ok := c.GetInt("files")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = tr.ChildIfPresent("rank.1")
	assert.False(t, ok)
}

func TestWriteReadFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tree.yaml")

	tr := New()
	tr.SetInt("state", 2)
	tr.Child("rank.0").SetStr("file", "data.0")

	require.NoError(t, WriteFile(path, tr))

	got, err := ReadFile(path)
	require.NoError(t, err)

	v, ok := got.GetInt("state")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	c, ok := got.ChildIfPresent("rank.0")
	require.True(t, ok)
	s, ok := c.GetStr("file")
	require.True(t, ok)
	assert.Equal(t, "data.0", s)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
