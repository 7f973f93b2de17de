package shuffle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nmm0/ercoord/internal/procgroup"
)

func TestCreateMigrateRemove(t *testing.T) {
	ctx := context.Background()
	groupDir := t.TempDir()
	const name = "ckpt"

	views := procgroup.Views(2)
	srcDirs := make([]string, 2)
	files := make([][]string, 2)
	for i := range srcDirs {
		srcDirs[i] = t.TempDir()
		p := filepath.Join(srcDirs[i], "a")
		require.NoError(t, os.WriteFile(p, []byte("rank-file"), 0o644))
		files[i] = []string{p}
	}

	descs := make([]Descriptor, 2)
	var g errgroup.Group
	for _, v := range views {
		v := v
		g.Go(func() error {
			d, err := Create(ctx, v, groupDir, name, files[v.Rank()])
			descs[v.Rank()] = d
			return err
		})
	}
	require.NoError(t, g.Wait())

	destDir := t.TempDir()
	got, err := Migrate(ctx, descs[0], destDir)
	require.NoError(t, err)
	require.Len(t, got, 1)
	data, err := os.ReadFile(got[0])
	require.NoError(t, err)
	require.Equal(t, "rank-file", string(data))

	var rg errgroup.Group
	for _, d := range descs {
		d := d
		rg.Go(func() error { return Remove(ctx, d) })
	}
	require.NoError(t, rg.Wait())

	_, err = os.Stat(assocPath(groupDir, name))
	require.True(t, os.IsNotExist(err))
}
