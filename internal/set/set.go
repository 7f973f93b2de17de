// Package set implements the Set Registry (spec §4.C): the in-flight
// handle for one encode/rebuild/remove operation. Bookkeeping is a
// mutex-guarded map keyed by a monotonic id, the same shape the
// teacher's snapshotter uses for its in-flight job map.
package set

import (
	"fmt"
	"sync"

	"github.com/nmm0/ercoord/ercoorderr"
	"github.com/nmm0/ercoord/internal/procgroup"
)

// Direction is the operation a Set was created for (spec §6).
type Direction int

const (
	Encode Direction = iota + 1
	Rebuild
	Remove
)

func (d Direction) String() string {
	switch d {
	case Encode:
		return "ENCODE"
	case Rebuild:
		return "REBUILD"
	case Remove:
		return "REMOVE"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Set is the mutable in-flight handle for one operation.
type Set struct {
	ID        int
	Name      string
	Direction Direction
	World     *procgroup.View
	Storage   *procgroup.View
	SchemeID  int // ENCODE only; 0 otherwise

	mu    sync.Mutex
	files []string // ENCODE only, in AddFile order
}

// Files returns a snapshot of the file list added so far.
func (s *Set) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.files))
	copy(out, s.files)
	return out
}

// Registry owns every live set in a Library.
type Registry struct {
	mu     sync.Mutex
	nextID int
	sets   map[int]*Set
}

func NewRegistry() *Registry {
	return &Registry{nextID: 1, sets: make(map[int]*Set)}
}

// Params are the caller-supplied arguments to Create.
type Params struct {
	Name      string
	Direction Direction
	World     *procgroup.View
	Storage   *procgroup.View
	SchemeID  int // required for ENCODE, ignored otherwise
}

// Create validates p and registers a new Set. The world/storage views
// are stored by reference, not cloned — the caller retains ownership of
// the underlying communicator, the Set just borrows it for the
// operation's lifetime (spec §9 Open Question #3).
func (r *Registry) Create(p Params) (*Set, error) {
	if p.Name == "" {
		return nil, ercoorderr.New(ercoorderr.KindInvalidArgument, "CreateSet", fmt.Errorf("name must not be empty"))
	}
	if p.World == nil || p.Storage == nil {
		return nil, ercoorderr.New(ercoorderr.KindInvalidArgument, "CreateSet", fmt.Errorf("world and storage communicators must not be nil"))
	}
	switch p.Direction {
	case Encode:
		if p.SchemeID == 0 {
			return nil, ercoorderr.New(ercoorderr.KindInvalidArgument, "CreateSet", fmt.Errorf("ENCODE requires a scheme id"))
		}
	case Rebuild, Remove:
		// no scheme id required; REBUILD re-derives it from the state file
		p.SchemeID = 0
	default:
		return nil, ercoorderr.New(ercoorderr.KindInvalidArgument, "CreateSet", fmt.Errorf("unknown direction %v", p.Direction))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Set{
		ID:        r.nextID,
		Name:      p.Name,
		Direction: p.Direction,
		World:     p.World,
		Storage:   p.Storage,
		SchemeID:  p.SchemeID,
	}
	r.nextID++
	r.sets[s.ID] = s
	return s, nil
}

// Add appends a file to an ENCODE set's file list. The path is stored
// exactly as given; resolving relative paths against a working
// directory is the caller's responsibility (same left-as-is behavior as
// the original er_add_file).
func (r *Registry) Add(id int, path string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if s.Direction != Encode {
		return ercoorderr.New(ercoorderr.KindInvalidArgument, "AddFile", fmt.Errorf("set %d is not an ENCODE set", id))
	}
	if path == "" {
		return ercoorderr.New(ercoorderr.KindInvalidArgument, "AddFile", fmt.Errorf("path must not be empty"))
	}
	s.mu.Lock()
	s.files = append(s.files, path)
	s.mu.Unlock()
	return nil
}

func (r *Registry) Get(id int) (*Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sets[id]
	if !ok {
		return nil, ercoorderr.New(ercoorderr.KindMissingReference, "set lookup", fmt.Errorf("no such set id %d", id))
	}
	return s, nil
}

// Free removes id from the registry. Dispatch must already have
// completed for this id; Free does not itself touch storage.
func (r *Registry) Free(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sets[id]; !ok {
		return ercoorderr.New(ercoorderr.KindMissingReference, "FreeSet", fmt.Errorf("no such set id %d", id))
	}
	delete(r.sets, id)
	return nil
}

// Live reports how many sets are still registered, for Finalize's
// "refuse with live handles" check.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}
