// Package scheme implements the Scheme Registry (spec §4.B): validates
// scheme parameters, derives a codec Variant from them, and owns the
// resulting codec Descriptor for the lifetime of the scheme.
//
// Construction follows the validate-then-construct idiom: a
// constructor function returns a fully valid value or an error, never a
// partially built one.
package scheme

import (
	"context"
	"fmt"
	"sync"

	"github.com/nmm0/ercoord/ercoorderr"
	"github.com/nmm0/ercoord/internal/codec"
	"github.com/nmm0/ercoord/internal/procgroup"
)

// Params are the caller-supplied scheme parameters (spec §3: Scheme).
type Params struct {
	Group         *procgroup.View
	FailureDomain string
	DataBlocks    int // D
	ErasureBlocks int // E
}

// Scheme is an immutable, validated scheme plus its owned codec
// descriptor.
type Scheme struct {
	ID      int
	Params  Params
	Variant codec.Variant
	Desc    codec.Descriptor
}

// deriveVariant applies the precedence table from spec §3/§4.B:
// SINGLE if E=0, else PARTNER if E=D, else XOR if E=1, else unsupported.
// The order matters: D=E=1 must resolve to PARTNER, not XOR.
func deriveVariant(d, e int) (codec.Variant, error) {
	switch {
	case e == 0:
		return codec.Single, nil
	case e == d:
		return codec.Partner, nil
	case e == 1:
		return codec.XOR, nil
	default:
		return 0, fmt.Errorf("unsupported scheme: data_blocks=%d erasure_blocks=%d", d, e)
	}
}

func validate(p Params) error {
	if p.Group == nil {
		return fmt.Errorf("group communicator must not be nil")
	}
	if p.DataBlocks < 1 {
		return fmt.Errorf("data_blocks must be >= 1, got %d", p.DataBlocks)
	}
	if p.ErasureBlocks < 0 {
		return fmt.Errorf("erasure_blocks must be >= 0, got %d", p.ErasureBlocks)
	}
	return nil
}

// newScheme validates p, derives its variant, and creates the codec descriptor
// for it. It does not assign an id or register the scheme; that is the
// Registry's job, so construction and bookkeeping stay separate.
func newScheme(ctx context.Context, p Params) (*Scheme, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	variant, err := deriveVariant(p.DataBlocks, p.ErasureBlocks)
	if err != nil {
		return nil, err
	}
	desc, err := codec.Create(ctx, variant, p.Group, p.ErasureBlocks)
	if err != nil {
		return nil, fmt.Errorf("create codec descriptor: %w", err)
	}
	return &Scheme{Params: p, Variant: variant, Desc: desc}, nil
}

// Registry owns every live scheme in a Library, keyed by a monotonically
// increasing id that is never reused (spec §3 invariant).
type Registry struct {
	mu      sync.Mutex
	nextID  int
	schemes map[int]*Scheme
}

func NewRegistry() *Registry {
	return &Registry{nextID: 1, schemes: make(map[int]*Scheme)}
}

// Create validates p, builds its codec descriptor, assigns it a fresh
// id, and registers it.
func (r *Registry) Create(ctx context.Context, p Params) (*Scheme, error) {
	s, err := newScheme(ctx, p)
	if err != nil {
		return nil, ercoorderr.Wrap(ercoorderr.KindInvalidArgument, "CreateScheme", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = r.nextID
	r.nextID++
	r.schemes[s.ID] = s
	return s, nil
}

// Get returns the scheme with the given id.
func (r *Registry) Get(id int) (*Scheme, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schemes[id]
	if !ok {
		return nil, ercoorderr.New(ercoorderr.KindMissingReference, "scheme lookup", fmt.Errorf("no such scheme id %d", id))
	}
	return s, nil
}

// Free releases the scheme's codec descriptor and removes it from the
// registry.
func (r *Registry) Free(ctx context.Context, id int) error {
	r.mu.Lock()
	s, ok := r.schemes[id]
	if !ok {
		r.mu.Unlock()
		return ercoorderr.New(ercoorderr.KindMissingReference, "FreeScheme", fmt.Errorf("no such scheme id %d", id))
	}
	delete(r.schemes, id)
	r.mu.Unlock()

	if err := codec.Delete(ctx, s.Desc); err != nil {
		return ercoorderr.Wrap(ercoorderr.KindCollaboratorFailure, "FreeScheme", err)
	}
	return nil
}

// Live reports how many schemes are still registered, for Finalize's
// "refuse with live handles" check (spec §7).
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.schemes)
}
