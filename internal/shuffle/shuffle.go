// Package shuffle implements the shuffle/migration collaborator (spec
// §6): it records which rank owns which files at encode time, and at
// rebuild time moves surviving files to wherever the current rank
// layout needs them before the codec runs. Association bookkeeping is a
// YAML file per storage group (mirroring the original's shuffile), and
// the per-file migration/removal work is fanned out with
// golang.org/x/sync/errgroup — the same tool the dispatch orchestrator's
// own collaborator calls use, grounded on how replication_logic.go
// parallelizes per-filesystem work across a job's participants.
package shuffle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	yaml "go.yaml.in/yaml/v4"
	"golang.org/x/sync/errgroup"

	"github.com/nmm0/ercoord/internal/procgroup"
)

// Association records, for one storage group and one set name, which
// rank originally owned which files.
type Association struct {
	Owners map[int][]string `yaml:"owners"`
}

// Descriptor is the opaque handle the shuffle collaborator hands back
// from Create, analogous to codec.Descriptor.
type Descriptor struct {
	Group *procgroup.View
	Path  string // association file path, shared by the whole storage group
}

func assocPath(dir, name string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.er.shuffile", name))
}

// Create records this rank's file ownership into the shared association
// file. Only rank 0 performs the filesystem write — every rank calls
// Create so the collective stays symmetric — after every rank has
// contributed its file list via an allgather, the same pattern
// state.Write uses for its leader-only write followed by a barrier.
func Create(ctx context.Context, group *procgroup.View, dir, name string, files []string) (Descriptor, error) {
	desc := Descriptor{Group: group, Path: assocPath(dir, name)}

	encoded, err := yaml.Marshal(files)
	if err != nil {
		return Descriptor{}, fmt.Errorf("shuffle: marshal own files: %w", err)
	}
	gathered, err := group.AllgatherBytes(ctx, encoded)
	if err != nil {
		return Descriptor{}, fmt.Errorf("shuffle: allgather: %w", err)
	}

	if group.Rank() == 0 {
		assoc := Association{Owners: make(map[int][]string, len(gathered))}
		for rank, raw := range gathered {
			var rankFiles []string
			if err := yaml.Unmarshal(raw, &rankFiles); err != nil {
				return Descriptor{}, fmt.Errorf("shuffle: unmarshal rank %d files: %w", rank, err)
			}
			assoc.Owners[rank] = rankFiles
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Descriptor{}, fmt.Errorf("shuffle: mkdir %s: %w", dir, err)
		}
		data, err := yaml.Marshal(assoc)
		if err != nil {
			return Descriptor{}, fmt.Errorf("shuffle: marshal association: %w", err)
		}
		if err := os.WriteFile(desc.Path, data, 0o644); err != nil {
			return Descriptor{}, fmt.Errorf("shuffle: write association: %w", err)
		}
	}

	if err := group.Barrier(ctx); err != nil {
		return Descriptor{}, fmt.Errorf("shuffle: barrier: %w", err)
	}
	return desc, nil
}

func readAssociation(path string) (Association, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Association{}, fmt.Errorf("shuffle: read association %s: %w", path, err)
	}
	var a Association
	if err := yaml.Unmarshal(data, &a); err != nil {
		return Association{}, fmt.Errorf("shuffle: unmarshal association: %w", err)
	}
	return a, nil
}

// Migrate copies every file this rank originally owned (per the
// association file) into destDir, renaming nothing — it's a migration
// of bytes to wherever the current rank's node-local storage is, not a
// rename of the logical path. Missing source files are skipped (the
// codec collaborator is what decides whether that's fatal, by trying to
// reconstruct from redundancy). Destination paths are returned so the
// codec can feed them back into its own bookkeeping if needed.
func Migrate(ctx context.Context, desc Descriptor, destDir string) ([]string, error) {
	assoc, err := readAssociation(desc.Path)
	if err != nil {
		return nil, err
	}
	owned := assoc.Owners[desc.Group.Rank()]
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("shuffle: mkdir %s: %w", destDir, err)
	}

	dests := make([]string, len(owned))
	g, _ := errgroup.WithContext(ctx)
	for i, src := range owned {
		i, src := i, src
		g.Go(func() error {
			dest := filepath.Join(destDir, filepath.Base(src))
			data, err := os.ReadFile(src)
			if err != nil {
				if os.IsNotExist(err) {
					dests[i] = ""
					return nil
				}
				return fmt.Errorf("shuffle: read %s: %w", src, err)
			}
			if err := os.WriteFile(dest, data, 0o644); err != nil {
				return fmt.Errorf("shuffle: write %s: %w", dest, err)
			}
			dests[i] = dest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := desc.Group.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("shuffle: barrier: %w", err)
	}

	out := dests[:0]
	for _, d := range dests {
		if d != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

// Remove deletes the association file and every file it references for
// this rank, fanning out the per-file removals the same way Migrate
// fans out copies. Batching by rank mirrors the
// group-by-filesystem-then-fan-out shape of
// internal/zfs/versions_destroy.go's batched destroy, generalized from
// "one filesystem's snapshots" to "one rank's owned files".
func Remove(ctx context.Context, desc Descriptor) error {
	assoc, err := readAssociation(desc.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	owned := assoc.Owners[desc.Group.Rank()]

	g, _ := errgroup.WithContext(ctx)
	for _, p := range owned {
		p := p
		g.Go(func() error {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("shuffle: remove %s: %w", p, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := desc.Group.Barrier(ctx); err != nil {
		return fmt.Errorf("shuffle: barrier: %w", err)
	}
	if desc.Group.Rank() == 0 {
		if err := os.Remove(desc.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("shuffle: remove association: %w", err)
		}
	}
	return nil
}
