// Package state implements the ER state file: one kvtree-backed record
// per set name per storage group, holding the on-disk state triple
// (NULL/CORRUPT/ENCODED) plus whatever the writer chose to stash
// alongside it (scheme id, codec variant, rebuild generation). Only the
// lowest-rank process in a storage group writes or unlinks the file;
// every rank's Read reconciles by taking the minimum world rank with a
// non-NULL value, matching the original's Allreduce(MIN)+Bcast pattern.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nmm0/ercoord/internal/kvtree"
	"github.com/nmm0/ercoord/internal/procgroup"
)

// Value is the on-disk state of a set's redundancy data.
type Value int

const (
	Null Value = iota
	Corrupt
	Encoded
)

func (v Value) String() string {
	switch v {
	case Null:
		return "NULL"
	case Corrupt:
		return "CORRUPT"
	case Encoded:
		return "ENCODED"
	default:
		return fmt.Sprintf("Value(%d)", int(v))
	}
}

// Record is the content of a state file: the state triple plus the
// scheme id it was encoded under (0 if not yet known/relevant) and a
// free-form generation counter bumped on every successful rebuild.
type Record struct {
	State      Value `yaml:"state"`
	SchemeID   int   `yaml:"scheme_id,omitempty"`
	Generation int   `yaml:"generation,omitempty"`
}

const stateKey = "er_state"

func recordFromTree(t *kvtree.Tree) Record {
	var r Record
	if v, ok := t.GetInt(stateKey + ".state"); ok {
		r.State = Value(v)
	}
	if v, ok := t.GetInt(stateKey + ".scheme_id"); ok {
		r.SchemeID = v
	}
	if v, ok := t.GetInt(stateKey + ".generation"); ok {
		r.Generation = v
	}
	return r
}

func treeFromRecord(r Record) *kvtree.Tree {
	t := kvtree.New()
	t.SetInt(stateKey+".state", int(r.State))
	t.SetInt(stateKey+".scheme_id", r.SchemeID)
	t.SetInt(stateKey+".generation", r.Generation)
	return t
}

// Write durably records rec for setName in this storage group. Only the
// leader (lowest storage-group rank) performs the filesystem write;
// every rank must still call Write — non-leaders simply wait at the
// barrier that follows — so that the state change is never observed by
// one rank before another.
//
// path is the path to the state file within the storage group's shared
// directory; it is identical for every rank in the group.
func Write(ctx context.Context, log *slog.Logger, storage *procgroup.View, path string, rec Record) error {
	if storage.Rank() == 0 {
		lockPath := path + ".lock"
		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("state: open lock %s: %w", lockPath, err)
		}
		defer lf.Close()

		if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
			return fmt.Errorf("state: flock %s: %w", lockPath, err)
		}
		defer unix.Flock(int(lf.Fd()), unix.LOCK_UN)

		if rec.State == Null {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("state: remove %s: %w", path, err)
			}
		} else {
			if err := kvtree.WriteFile(path, treeFromRecord(rec)); err != nil {
				return fmt.Errorf("state: write %s: %w", path, err)
			}
		}
		log.Debug("state file written", "path", path, "state", rec.State.String())
	}

	// Write is always followed by a barrier: no rank proceeds past a
	// state transition until the leader's write (or removal) has
	// landed on disk.
	return storage.Barrier(ctx)
}

// Read reconciles the state file for setName across the world group:
// every world rank reads its own storage group's replica (NULL if
// absent or unreadable), the lowest world rank with a non-NULL value
// wins, and that value is broadcast to every rank. If every replica is
// NULL, the result is the zero Record (state NULL) with no error — that
// is a legitimate "never encoded" answer, not divergence.
func Read(ctx context.Context, log *slog.Logger, world *procgroup.View, path string) (Record, error) {
	local, readErr := readLocal(path)
	if readErr != nil {
		log.Warn("state file unreadable, treating as NULL", "path", path, "err", readErr)
	}

	myRankOrSentinel := world.Size()
	if local.State != Null {
		myRankOrSentinel = world.Rank()
	}

	winner, err := world.AllreduceMin(ctx, myRankOrSentinel)
	if err != nil {
		return Record{}, fmt.Errorf("state: allreduce: %w", err)
	}
	if winner == world.Size() {
		// nobody has a non-NULL replica
		return Record{}, nil
	}

	buf := [3]int{int(local.State), local.SchemeID, local.Generation}
	for i := range buf {
		if err := world.Bcast(ctx, &buf[i], winner); err != nil {
			return Record{}, fmt.Errorf("state: bcast: %w", err)
		}
	}
	return Record{State: Value(buf[0]), SchemeID: buf[1], Generation: buf[2]}, nil
}

func readLocal(path string) (Record, error) {
	t, err := kvtree.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, err
	}
	return recordFromTree(t), nil
}
