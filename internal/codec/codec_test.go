package codec

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nmm0/ercoord/internal/procgroup"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func runOnEachRank(views []*procgroup.View, fn func(v *procgroup.View) error) error {
	var g errgroup.Group
	for _, v := range views {
		v := v
		g.Go(func() error { return fn(v) })
	}
	return g.Wait()
}

func TestApplyRecoverXOR(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	const name = "ckpt"
	const n = 3

	views := procgroup.Views(n)
	inputs := make([][]string, n)
	for i := 0; i < n; i++ {
		srcDir := t.TempDir()
		inputs[i] = []string{writeTempFile(t, srcDir, "data", "rank-data-"+string(rune('0'+i)))}
	}

	descs := make([]Descriptor, n)
	err := runOnEachRank(views, func(v *procgroup.View) error {
		d, err := Create(ctx, XOR, v, 1)
		if err != nil {
			return err
		}
		descs[v.Rank()] = d
		return Apply(ctx, d, dir, name, inputs[v.Rank()])
	})
	require.NoError(t, err)

	// simulate losing rank 1's files
	lost := 1
	require.NoError(t, os.Remove(dataPath(dir, name, lost)))
	require.NoError(t, os.Remove(manifestPath(dir, name, lost)))

	recovered, err := Recover(ctx, descs[lost], dir, name)
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	got, err := os.ReadFile(recovered[0])
	require.NoError(t, err)
	require.Equal(t, "rank-data-1", string(got))
}

func TestApplyRecoverPartner(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	const name = "ckpt"
	const n = 3

	views := procgroup.Views(n)
	inputs := make([][]string, n)
	for i := 0; i < n; i++ {
		srcDir := t.TempDir()
		inputs[i] = []string{writeTempFile(t, srcDir, "data", "partner-data-"+string(rune('0'+i)))}
	}

	descs := make([]Descriptor, n)
	err := runOnEachRank(views, func(v *procgroup.View) error {
		d, err := Create(ctx, Partner, v, 1)
		if err != nil {
			return err
		}
		descs[v.Rank()] = d
		return Apply(ctx, d, dir, name, inputs[v.Rank()])
	})
	require.NoError(t, err)

	lost := 2
	require.NoError(t, os.Remove(dataPath(dir, name, lost)))
	require.NoError(t, os.Remove(manifestPath(dir, name, lost)))

	recovered, err := Recover(ctx, descs[lost], dir, name)
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	got, err := os.ReadFile(recovered[0])
	require.NoError(t, err)
	require.Equal(t, "partner-data-2", string(got))
}

func TestApplyUnapplySingle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	const name = "ckpt"
	view := procgroup.Views(1)[0]

	srcDir := t.TempDir()
	f := writeTempFile(t, srcDir, "data", "solo")

	d, err := Create(ctx, Single, view, 0)
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, d, dir, name, []string{f}))

	files, err := FileList(ctx, d, dir, name)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	require.NoError(t, Unapply(ctx, d, dir, name))
	files, err = FileList(ctx, d, dir, name)
	require.NoError(t, err)
	require.Empty(t, files)
}
