package ercoord

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nmm0/ercoord/internal/procgroup"
)

func newTestLibrary(t *testing.T) *Library {
	t.Helper()
	lib, err := Init(Config{
		GroupDir: t.TempDir(),
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return lib
}

func TestEncodeRemoveSingleRankSingleScheme(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)
	view := procgroup.Views(1)[0]

	schemeID, err := lib.CreateScheme(ctx, SchemeParams{Group: view, DataBlocks: 1, ErasureBlocks: 0})
	require.NoError(t, err)
	require.NotEqual(t, Fail, schemeID)

	srcDir := t.TempDir()
	f := filepath.Join(srcDir, "ckpt")
	require.NoError(t, os.WriteFile(f, []byte("hello"), 0o644))

	setID, err := lib.CreateSet("s1", Encode, view, view, schemeID)
	require.NoError(t, err)
	require.NoError(t, lib.AddFile(setID, f))
	require.NoError(t, lib.Dispatch(ctx, setID))

	done, err := lib.Test(setID)
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, lib.Wait(setID))
	require.NoError(t, lib.FreeSet(setID))

	remSetID, err := lib.CreateSet("s1", Remove, view, view, 0)
	require.NoError(t, err)
	require.NoError(t, lib.Dispatch(ctx, remSetID))
	require.NoError(t, lib.FreeSet(remSetID))

	require.NoError(t, lib.FreeScheme(ctx, schemeID))
	require.NoError(t, lib.Finalize())
}

func TestFinalizeRejectsLiveHandles(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)
	view := procgroup.Views(1)[0]

	schemeID, err := lib.CreateScheme(ctx, SchemeParams{Group: view, DataBlocks: 1, ErasureBlocks: 0})
	require.NoError(t, err)

	err = lib.Finalize()
	require.Error(t, err)

	require.NoError(t, lib.FreeScheme(ctx, schemeID))
	require.NoError(t, lib.Finalize())
}

func TestCreateSchemeRejectsNilGroup(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t)

	id, err := lib.CreateScheme(ctx, SchemeParams{Group: nil, DataBlocks: 1, ErasureBlocks: 0})
	require.Error(t, err)
	require.Equal(t, Fail, id)
}
