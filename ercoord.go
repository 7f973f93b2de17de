// Package ercoord is the Encode/Rebuild coordinator library: a dispatch
// orchestrator and durable state machine that makes a group of
// cooperating processes' checkpoint files resilient to node loss, by
// sequencing a redundancy codec, a shuffle/migration service, and a
// group-replicated state file (spec §1/§2).
//
// There are no package-level globals (spec §9 Open Question #1): every
// operation is a method on a *Library returned by Init, so two
// libraries in one process never interfere and tests never leak state
// between cases.
package ercoord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nmm0/ercoord/ercoorderr"
	"github.com/nmm0/ercoord/internal/dispatch"
	"github.com/nmm0/ercoord/internal/procgroup"
	"github.com/nmm0/ercoord/internal/scheme"
	"github.com/nmm0/ercoord/internal/set"
)

// Direction is the operation a set is dispatched for.
type Direction = set.Direction

const (
	Encode  = set.Encode
	Rebuild = set.Rebuild
	Remove  = set.Remove
)

// State is the on-disk state of a set's redundancy data.
type State int

const (
	StateNull    State = iota // no recorded redundancy data
	StateCorrupt              // a mutating operation is in flight or was interrupted
	StateEncoded              // redundancy data is durable and consistent
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateCorrupt:
		return "CORRUPT"
	case StateEncoded:
		return "ENCODED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Fail is the sentinel integer id returned by every Create* call on
// failure, matching the original's ER_FAIL constant.
const Fail = -1

// Config configures a Library at Init time.
type Config struct {
	// GroupDir is the shared directory this storage group's state,
	// shuffle, and redundancy files live under.
	GroupDir string
	Log      *slog.Logger
	Metrics  *dispatch.Metrics
}

// Library is the handle returned by Init. All operations are methods on
// it; there is no other way to reach the scheme/set registries.
type Library struct {
	log     *slog.Logger
	schemes *scheme.Registry
	sets    *set.Registry
	orch    *dispatch.Orchestrator

	mu         sync.Mutex
	finalized  bool
}

// Init constructs a Library bound to cfg. It does not itself perform any
// collective operation — CreateScheme and CreateSet are where a real
// communicator is first touched.
func Init(cfg Config) (*Library, error) {
	if cfg.GroupDir == "" {
		return nil, ercoorderr.New(ercoorderr.KindInvalidArgument, "Init", fmt.Errorf("GroupDir must not be empty"))
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	schemes := scheme.NewRegistry()
	return &Library{
		log:     log,
		schemes: schemes,
		sets:    set.NewRegistry(),
		orch: &dispatch.Orchestrator{
			Log:      log,
			Schemes:  schemes,
			GroupDir: cfg.GroupDir,
			Metrics:  cfg.Metrics,
		},
	}, nil
}

// Finalize releases l. It refuses if any scheme or set handle is still
// live (spec §7: FinalizeWithLiveHandles).
func (l *Library) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finalized {
		return nil
	}
	if n := l.schemes.Live(); n > 0 {
		return ercoorderr.New(ercoorderr.KindFinalizeWithLiveHandles, "Finalize", fmt.Errorf("%d scheme(s) still open", n))
	}
	if n := l.sets.Live(); n > 0 {
		return ercoorderr.New(ercoorderr.KindFinalizeWithLiveHandles, "Finalize", fmt.Errorf("%d set(s) still open", n))
	}
	l.finalized = true
	return nil
}

// SchemeParams mirrors scheme.Params at the public API boundary.
type SchemeParams struct {
	Group         *procgroup.View
	FailureDomain string
	DataBlocks    int
	ErasureBlocks int
}

// CreateScheme validates params, derives a codec variant, and returns a
// new scheme id, or Fail on error.
func (l *Library) CreateScheme(ctx context.Context, p SchemeParams) (int, error) {
	sch, err := l.schemes.Create(ctx, scheme.Params{
		Group:         p.Group,
		FailureDomain: p.FailureDomain,
		DataBlocks:    p.DataBlocks,
		ErasureBlocks: p.ErasureBlocks,
	})
	if err != nil {
		return Fail, err
	}
	return sch.ID, nil
}

// FreeScheme releases the codec descriptor owned by scheme id.
func (l *Library) FreeScheme(ctx context.Context, id int) error {
	return l.schemes.Free(ctx, id)
}

// CreateSet opens a new in-flight operation and returns its id, or Fail.
func (l *Library) CreateSet(name string, direction Direction, world, storage *procgroup.View, schemeID int) (int, error) {
	s, err := l.sets.Create(set.Params{
		Name: name, Direction: direction, World: world, Storage: storage, SchemeID: schemeID,
	})
	if err != nil {
		return Fail, err
	}
	return s.ID, nil
}

// AddFile appends a file to an ENCODE set.
func (l *Library) AddFile(setID int, path string) error {
	return l.sets.Add(setID, path)
}

// Dispatch runs the pipeline for setID's direction. Collective: every
// rank in the set's world communicator must call Dispatch.
func (l *Library) Dispatch(ctx context.Context, setID int) error {
	s, err := l.sets.Get(setID)
	if err != nil {
		return err
	}
	return l.orch.Dispatch(ctx, s)
}

// Test reports whether setID's dispatch has completed. Dispatch is
// synchronous in this implementation, so Test always reports done once
// the set exists (spec §9 Open Question #6).
func (l *Library) Test(setID int) (done bool, err error) {
	if _, err := l.sets.Get(setID); err != nil {
		return false, err
	}
	return true, nil
}

// Wait blocks until setID's dispatch completes. Since Dispatch never
// returns before completion, Wait is a no-op that just validates the id.
func (l *Library) Wait(setID int) error {
	_, err := l.sets.Get(setID)
	return err
}

// FreeSet releases setID's in-flight handle.
func (l *Library) FreeSet(setID int) error {
	return l.sets.Free(setID)
}
