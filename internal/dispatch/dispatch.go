// Package dispatch implements the Dispatch Orchestrator (spec §4.D):
// the three pipelines (ENCODE/REBUILD/REMOVE) that sequence the state
// file, scheme/codec, and shuffle collaborators into a crash-consistent
// state machine. Each pipeline calls its collaborators one after
// another; per-direction metrics/logging follow
// internal/replication/logic/replication_logic.go's prometheus+slog shape.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nmm0/ercoord/ercoorderr"
	"github.com/nmm0/ercoord/internal/codec"
	"github.com/nmm0/ercoord/internal/logx"
	"github.com/nmm0/ercoord/internal/procgroup"
	"github.com/nmm0/ercoord/internal/scheme"
	"github.com/nmm0/ercoord/internal/set"
	"github.com/nmm0/ercoord/internal/shuffle"
	"github.com/nmm0/ercoord/internal/state"
)

// Metrics are the prometheus collectors the orchestrator reports to,
// the same field-on-struct shape replication_logic.go uses for its
// Planner's promSecsPerState/promBytesReplicated.
type Metrics struct {
	DispatchSeconds *prometheus.HistogramVec
	DispatchTotal   *prometheus.CounterVec
}

// NewMetrics registers and returns a fresh Metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "ercoord_dispatch_seconds",
			Help: "Duration of a Dispatch call by direction.",
		}, []string{"direction"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ercoord_dispatch_total",
			Help: "Count of Dispatch calls by direction and outcome.",
		}, []string{"direction", "outcome"}),
	}
	reg.MustRegister(m.DispatchSeconds, m.DispatchTotal)
	return m
}

// Orchestrator runs the three pipelines against a scheme registry, a
// groupDir root (where state/shuffle/redundancy files for every set
// live), and optional metrics (nil is fine — Dispatch degrades to
// unmetered).
type Orchestrator struct {
	Log      *slog.Logger
	Schemes  *scheme.Registry
	GroupDir string
	Metrics  *Metrics
}

func (o *Orchestrator) stateFilePath(name string) string {
	return filepath.Join(o.GroupDir, fmt.Sprintf("%s.er.er", name))
}

// shuffleDescriptor rebuilds the opaque shuffle.Descriptor handle for an
// already-existing association file, for pipelines (REBUILD, REMOVE)
// that operate on the association ENCODE created rather than creating
// their own.
func (o *Orchestrator) shuffleDescriptor(storage *procgroup.View, name string) shuffle.Descriptor {
	return shuffle.Descriptor{Group: storage, Path: filepath.Join(o.GroupDir, fmt.Sprintf("%s.er.shuffile", name))}
}

// Dispatch runs the pipeline for s.Direction. Every rank in s.World must
// call Dispatch for the same set id; the pipelines are collective.
func (o *Orchestrator) Dispatch(ctx context.Context, s *set.Set) error {
	start := time.Now()
	var err error
	switch s.Direction {
	case set.Encode:
		err = o.encode(ctx, s)
	case set.Rebuild:
		err = o.rebuild(ctx, s)
	case set.Remove:
		err = o.remove(ctx, s)
	default:
		err = ercoorderr.New(ercoorderr.KindInvalidArgument, "Dispatch", fmt.Errorf("unknown direction %v", s.Direction))
	}
	if err != nil {
		logx.Error(o.Log, err, "dispatch failed", "set", s.Name, "direction", s.Direction.String())
	}
	o.observe(s.Direction.String(), start, err)
	return err
}

func (o *Orchestrator) observe(direction string, start time.Time, err error) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.DispatchSeconds.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	o.Metrics.DispatchTotal.WithLabelValues(direction, outcome).Inc()
}

// encode implements spec §4.D.1's ENCODE pipeline: write CORRUPT, run
// the codec over the application files, then create the shuffle
// association over the application files *plus* whatever the codec
// produced (so a later REBUILD's migrate step carries the redundancy
// and manifest files too, not just the files the caller added), then
// write ENCODED. Ordering rule: the state file is CORRUPT for the
// entire span between "we started mutating redundancy data" and "the
// new redundancy data is fully durable", per er_encode in the original.
func (o *Orchestrator) encode(ctx context.Context, s *set.Set) error {
	sch, err := o.Schemes.Get(s.SchemeID)
	if err != nil {
		return err
	}

	path := o.stateFilePath(s.Name)
	if err := state.Write(ctx, o.Log, s.Storage, path, state.Record{State: state.Corrupt, SchemeID: s.SchemeID}); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(ENCODE)", err)
	}

	files := s.Files()
	if err := codec.Apply(ctx, sch.Desc, o.GroupDir, s.Name, files); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(ENCODE)", err)
	}
	codecFiles, err := codec.FileList(ctx, sch.Desc, o.GroupDir, s.Name)
	if err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(ENCODE)", err)
	}
	tracked := append(append([]string{}, files...), codecFiles...)
	if _, err := shuffle.Create(ctx, s.Storage, o.GroupDir, s.Name, tracked); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(ENCODE)", err)
	}

	if err := state.Write(ctx, o.Log, s.Storage, path, state.Record{State: state.Encoded, SchemeID: s.SchemeID}); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(ENCODE)", err)
	}
	o.Log.Info("encode complete", "set", s.Name, "variant", sch.Variant.String())
	return nil
}

// rebuild implements spec §4.D.2's REBUILD pipeline: read and reconcile
// state (refusing if CORRUPT), migrate surviving files to the current
// rank layout against the association recorded at ENCODE time, run the
// codec's Recover, bump the generation, write ENCODED. REBUILD never
// recreates the shuffle association — a REBUILD set carries no files of
// its own (internal/set.Registry.Add refuses non-ENCODE sets), and
// er_rebuild in the original only ever calls shuffile_migrate, never
// shuffile_create.
func (o *Orchestrator) rebuild(ctx context.Context, s *set.Set) error {
	path := o.stateFilePath(s.Name)
	rec, err := state.Read(ctx, o.Log, s.World, path)
	if err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REBUILD)", err)
	}
	switch rec.State {
	case state.Null:
		return ercoorderr.New(ercoorderr.KindMissingReference, "Dispatch(REBUILD)", fmt.Errorf("set %q has no recorded state", s.Name))
	case state.Corrupt:
		return ercoorderr.New(ercoorderr.KindInvalidArgument, "Dispatch(REBUILD)", fmt.Errorf("set %q is CORRUPT, refusing to rebuild from it", s.Name))
	}

	sch, err := o.Schemes.Get(rec.SchemeID)
	if err != nil {
		return err
	}

	if err := state.Write(ctx, o.Log, s.Storage, path, state.Record{State: state.Corrupt, SchemeID: rec.SchemeID, Generation: rec.Generation}); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REBUILD)", err)
	}

	shuffleDesc := o.shuffleDescriptor(s.Storage, s.Name)
	if _, err := shuffle.Migrate(ctx, shuffleDesc, o.GroupDir); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REBUILD)", err)
	}

	if _, err := codec.Recover(ctx, sch.Desc, o.GroupDir, s.Name); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REBUILD)", err)
	}

	next := state.Record{State: state.Encoded, SchemeID: rec.SchemeID, Generation: rec.Generation + 1}
	if err := state.Write(ctx, o.Log, s.Storage, path, next); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REBUILD)", err)
	}
	o.Log.Info("rebuild complete", "set", s.Name, "generation", next.Generation)
	return nil
}

// remove implements the REMOVE pipeline: write CORRUPT, delete every
// codec-owned and shuffle-owned file, then write NULL (which unlinks
// the state file).
func (o *Orchestrator) remove(ctx context.Context, s *set.Set) error {
	path := o.stateFilePath(s.Name)
	rec, err := state.Read(ctx, o.Log, s.World, path)
	if err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REMOVE)", err)
	}
	if rec.State == state.Null {
		return nil // already gone; REMOVE is idempotent
	}

	if err := state.Write(ctx, o.Log, s.Storage, path, state.Record{State: state.Corrupt, SchemeID: rec.SchemeID, Generation: rec.Generation}); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REMOVE)", err)
	}

	if rec.SchemeID != 0 {
		if sch, err := o.Schemes.Get(rec.SchemeID); err == nil {
			if err := codec.Unapply(ctx, sch.Desc, o.GroupDir, s.Name); err != nil {
				return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REMOVE)", err)
			}
		}
	}

	shuffleDesc := o.shuffleDescriptor(s.Storage, s.Name)
	if err := shuffle.Remove(ctx, shuffleDesc); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REMOVE)", err)
	}

	if err := state.Write(ctx, o.Log, s.Storage, path, state.Record{State: state.Null}); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "Dispatch(REMOVE)", err)
	}
	o.Log.Info("remove complete", "set", s.Name)
	return nil
}
