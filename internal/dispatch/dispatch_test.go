package dispatch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nmm0/ercoord/internal/procgroup"
	"github.com/nmm0/ercoord/internal/scheme"
	"github.com/nmm0/ercoord/internal/set"
	"github.com/nmm0/ercoord/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRanks(t *testing.T, n int) (*procgroup.Fabric, []*procgroup.View, string) {
	t.Helper()
	fabric := procgroup.New(n)
	views := make([]*procgroup.View, n)
	for i := range views {
		views[i] = fabric.View(i)
	}
	return fabric, views, t.TempDir()
}

func TestEncodeThenRebuildAfterLoss_XOR(t *testing.T) {
	ctx := context.Background()
	const n = 3
	_, world, groupDir := setupRanks(t, n)

	// Each rank is its own process with its own scheme registry, so the
	// collective CreateScheme hands every rank the same id.
	schemes := make([]*scheme.Registry, n)
	orchs := make([]*Orchestrator, n)
	for i := range orchs {
		schemes[i] = scheme.NewRegistry()
		orchs[i] = &Orchestrator{Log: testLogger(), Schemes: schemes[i], GroupDir: groupDir}
	}

	var schemeIDs [n]int
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			sch, err := schemes[i].Create(ctx, scheme.Params{Group: world[i], DataBlocks: n, ErasureBlocks: 1})
			if err != nil {
				return err
			}
			schemeIDs[i] = sch.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, schemeIDs[0], schemeIDs[1])

	srcDirs := make([]string, n)
	sets := set.NewRegistry()
	var setIDs [n]int
	var eg errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		srcDirs[i] = t.TempDir()
		eg.Go(func() error {
			f := filepath.Join(srcDirs[i], "ckpt.bin")
			if err := os.WriteFile(f, []byte("payload-from-rank"), 0o644); err != nil {
				return err
			}
			s, err := sets.Create(set.Params{
				Name: "run1", Direction: set.Encode,
				World: world[i], Storage: world[i], SchemeID: schemeIDs[i],
			})
			if err != nil {
				return err
			}
			setIDs[i] = s.ID
			return sets.Add(s.ID, f)
		})
	}
	require.NoError(t, eg.Wait())

	var dg errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		dg.Go(func() error {
			s, err := sets.Get(setIDs[i])
			if err != nil {
				return err
			}
			return orchs[i].Dispatch(ctx, s)
		})
	}
	require.NoError(t, dg.Wait())

	rec, err := state.Read(ctx, testLogger(), world[0], orchs[0].stateFilePath("run1"))
	require.NoError(t, err)
	assert.Equal(t, state.Encoded, rec.State)

	// simulate node loss: rank 1 lost its checkpoint and its codec data
	// blob. Its manifest sidecar lives in the shared group directory
	// alongside every other rank's (spec §6's flat group namespace) and
	// survives the loss, same as codec.Recover's XOR branch assumes when
	// it reads its own manifest to know how to split the reconstructed
	// blob back into files.
	lostFile := filepath.Join(srcDirs[1], "ckpt.bin")
	require.NoError(t, os.Remove(lostFile))
	require.NoError(t, os.Remove(filepath.Join(groupDir, "run1.er.1.data")))

	var rsets [n]int
	var rg errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		rg.Go(func() error {
			s, err := sets.Create(set.Params{Name: "run1", Direction: set.Rebuild, World: world[i], Storage: world[i]})
			if err != nil {
				return err
			}
			rsets[i] = s.ID
			return nil
		})
	}
	require.NoError(t, rg.Wait())

	var rdg errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		rdg.Go(func() error {
			s, err := sets.Get(rsets[i])
			if err != nil {
				return err
			}
			return orchs[i].Dispatch(ctx, s)
		})
	}
	require.NoError(t, rdg.Wait())

	got, err := os.ReadFile(lostFile)
	require.NoError(t, err)
	assert.Equal(t, "payload-from-rank", string(got))

	rec, err = state.Read(ctx, testLogger(), world[0], orchs[0].stateFilePath("run1"))
	require.NoError(t, err)
	assert.Equal(t, state.Encoded, rec.State)
	assert.Equal(t, 1, rec.Generation)
}

func TestRebuildRefusesFromCorrupt(t *testing.T) {
	ctx := context.Background()
	_, world, groupDir := setupRanks(t, 1)

	schemes := scheme.NewRegistry()
	orch := &Orchestrator{Log: testLogger(), Schemes: schemes, GroupDir: groupDir}
	require.NoError(t, state.Write(ctx, testLogger(), world[0], orch.stateFilePath("stuck"), state.Record{State: state.Corrupt}))

	sets := set.NewRegistry()
	s, err := sets.Create(set.Params{Name: "stuck", Direction: set.Rebuild, World: world[0], Storage: world[0]})
	require.NoError(t, err)

	err = orch.Dispatch(ctx, s)
	require.Error(t, err)
}

func TestRemoveCleansState(t *testing.T) {
	ctx := context.Background()
	_, world, groupDir := setupRanks(t, 1)

	schemes := scheme.NewRegistry()
	orch := &Orchestrator{Log: testLogger(), Schemes: schemes, GroupDir: groupDir}

	sch, err := schemes.Create(ctx, scheme.Params{Group: world[0], DataBlocks: 1, ErasureBlocks: 0})
	require.NoError(t, err)

	srcDir := t.TempDir()
	f := filepath.Join(srcDir, "a")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))

	sets := set.NewRegistry()
	s, err := sets.Create(set.Params{Name: "gone", Direction: set.Encode, World: world[0], Storage: world[0], SchemeID: sch.ID})
	require.NoError(t, err)
	require.NoError(t, sets.Add(s.ID, f))
	require.NoError(t, orch.Dispatch(ctx, s))

	rs, err := sets.Create(set.Params{Name: "gone", Direction: set.Remove, World: world[0], Storage: world[0]})
	require.NoError(t, err)
	require.NoError(t, orch.Dispatch(ctx, rs))

	rec, err := state.Read(ctx, testLogger(), world[0], orch.stateFilePath("gone"))
	require.NoError(t, err)
	assert.Equal(t, state.Null, rec.State)

	_, err = os.Stat(orch.stateFilePath("gone"))
	assert.True(t, os.IsNotExist(err))
}
