// Package procgroup simulates the process-group messaging substrate the
// ER core is specified against (an MPI communicator, in the original):
// a fixed set of ranks that can synchronize with a collective barrier,
// reduce a per-rank integer to its minimum, and broadcast a value from
// one rank to all others. Ranks are modeled as goroutines; a View is the
// per-rank handle into a shared Fabric, the same way an MPI rank holds
// a communicator handle rather than the communicator's state itself.
package procgroup

import (
	"context"
	"fmt"
	"sync"
)

// Fabric is the shared rendezvous point for a fixed-size group of ranks.
// It must not be copied after first use.
type Fabric struct {
	mu        sync.Mutex
	cond      *sync.Cond
	size      int
	seq       int
	arrivals  int
	ints      []int
	bcastVal  int
	bcastSeq  int
	allg      [][]byte
	allgReady bool
}

// New returns a Fabric for a group of the given size. size must be >= 1.
func New(size int) *Fabric {
	if size < 1 {
		panic("procgroup: size must be >= 1")
	}
	f := &Fabric{size: size, ints: make([]int, size), allg: make([][]byte, size)}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// View returns rank's handle into f. rank must be in [0, f.Size()).
func (f *Fabric) View(rank int) *View {
	if rank < 0 || rank >= f.size {
		panic(fmt.Sprintf("procgroup: rank %d out of range [0,%d)", rank, f.size))
	}
	return &View{f: f, rank: rank}
}

// Views returns a handle for every rank in the group, Views(n)[i].Rank()
// == i. Convenience for tests and for in-process simulation callers that
// want to launch one goroutine per rank.
func Views(size int) []*View {
	f := New(size)
	out := make([]*View, size)
	for i := range out {
		out[i] = f.View(i)
	}
	return out
}

// View is one rank's handle onto a Fabric. The zero value is not usable;
// obtain one via Fabric.View or Views.
type View struct {
	f    *Fabric
	rank int
}

func (v *View) Rank() int { return v.rank }
func (v *View) Size() int { return v.f.size }

// Barrier blocks until every rank in the group has called Barrier for
// the current generation, then releases them all together.
func (v *View) Barrier(ctx context.Context) error {
	f := v.f
	f.mu.Lock()
	defer f.mu.Unlock()
	gen := f.seq
	f.arrivals++
	if f.arrivals == f.size {
		f.seq++
		f.arrivals = 0
		f.cond.Broadcast()
		return nil
	}
	for f.seq == gen {
		if done, err := waitOrCtx(ctx, f.cond); done {
			return err
		}
	}
	return nil
}

// AllreduceMin reduces every rank's v to the minimum across the group
// and returns that minimum to every rank, mirroring MPI_Allreduce with
// MPI_MIN. It is itself a barrier: no rank returns before all have
// contributed.
func (v *View) AllreduceMin(ctx context.Context, val int) (int, error) {
	f := v.f
	f.mu.Lock()
	f.ints[v.rank] = val
	f.mu.Unlock()

	if err := v.Barrier(ctx); err != nil {
		return 0, err
	}

	f.mu.Lock()
	min := f.ints[0]
	for _, x := range f.ints[1:] {
		if x < min {
			min = x
		}
	}
	f.mu.Unlock()

	// No rank may write its slot for the next collective until every
	// rank has read this one's contributions.
	if err := v.Barrier(ctx); err != nil {
		return 0, err
	}
	return min, nil
}

// Bcast broadcasts *val from root to every rank; on return every rank's
// *val equals root's value at the time of the call.
func (v *View) Bcast(ctx context.Context, val *int, root int) error {
	f := v.f
	if root < 0 || root >= f.size {
		return fmt.Errorf("procgroup: bcast root %d out of range", root)
	}

	f.mu.Lock()
	if v.rank == root {
		f.bcastVal = *val
	}
	f.mu.Unlock()

	if err := v.Barrier(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	*val = f.bcastVal
	f.mu.Unlock()

	// The root may not overwrite bcastVal for the next Bcast until every
	// rank has read this one.
	return v.Barrier(ctx)
}

// AllgatherBytes gathers one []byte per rank and returns the full,
// rank-ordered slice to every rank. This collective is not part of the
// core's own contract (§4 only needs Barrier/AllreduceMin/Bcast) but is
// exposed for collaborators — the codec and shuffle implementations in
// this repository use it to exchange per-rank manifests.
func (v *View) AllgatherBytes(ctx context.Context, val []byte) ([][]byte, error) {
	f := v.f
	f.mu.Lock()
	f.allg[v.rank] = val
	f.mu.Unlock()

	if err := v.Barrier(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	out := make([][]byte, len(f.allg))
	copy(out, f.allg)
	f.mu.Unlock()

	// No rank may write its slot for the next collective until every
	// rank has copied this one's contributions.
	if err := v.Barrier(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// waitOrCtx waits on cond, returning early with (true, ctx.Err()) if ctx
// is done. cond.L must be held by the caller both before and after the
// call, matching sync.Cond.Wait's contract.
func waitOrCtx(ctx context.Context, cond *sync.Cond) (bool, error) {
	if ctx == nil {
		cond.Wait()
		return false, nil
	}
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	default:
	}
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		cond.Broadcast()
		close(done)
	}()
	cond.Wait()
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	default:
		return false, nil
	}
}
