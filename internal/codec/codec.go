// Package codec implements the redundancy codec collaborator (spec §6):
// given a scheme's derived Variant, it turns each rank's checkpoint
// files into a per-rank data blob plus a manifest, and produces the
// per-rank redundancy file that Variant calls for. It is explicitly
// out of the core's own correctness scope (§1) — the core only needs
// Create/Apply/Recover/Unapply/Delete/FileList to exist and agree
// rank-for-rank — but a real, working implementation lives here so the
// rest of the repository has something concrete to dispatch against.
//
// All ranks in a storage group are assumed to share one directory (the
// "group directory"): the per-rank files this package writes are named
// by rank within that directory, the same flat namespest spec §6
// describes for the state/shuffle/redundancy files.
package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/reedsolomon"
	yaml "go.yaml.in/yaml/v4"

	"github.com/nmm0/ercoord/internal/procgroup"
)

// Variant is the codec derived from a scheme's (data_blocks,
// erasure_blocks) pair, per the precedence rule in spec §3/§4.B.
type Variant int

const (
	Single Variant = iota + 1
	Partner
	XOR
)

func (v Variant) String() string {
	switch v {
	case Single:
		return "SINGLE"
	case Partner:
		return "PARTNER"
	case XOR:
		return "XOR"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Descriptor is the opaque handle a Scheme owns for the lifetime of its
// codec binding.
type Descriptor struct {
	Variant Variant
	Group   *procgroup.View
	Parity  int
}

func Create(_ context.Context, variant Variant, group *procgroup.View, parity int) (Descriptor, error) {
	if group == nil {
		return Descriptor{}, fmt.Errorf("codec: group must not be nil")
	}
	return Descriptor{Variant: variant, Group: group, Parity: parity}, nil
}

// Delete releases any resources a Descriptor owns. None of the variants
// implemented here hold anything beyond the process-group view, so this
// is a no-op kept for symmetry with the collaborator contract.
func Delete(_ context.Context, _ Descriptor) error { return nil }

type fileEntry struct {
	Path   string `yaml:"path"`
	Length int64  `yaml:"length"`
}

type manifest struct {
	Rank  int         `yaml:"rank"`
	Files []fileEntry `yaml:"files"`
}

func dataPath(dir, name string, rank int) string     { return filepath.Join(dir, fmt.Sprintf("%s.er.%d.data", name, rank)) }
func manifestPath(dir, name string, rank int) string { return filepath.Join(dir, fmt.Sprintf("%s.er.%d.data.manifest", name, rank)) }
func redundancyPath(dir, name string, rank int) string { return filepath.Join(dir, fmt.Sprintf("%s.er.%d", name, rank)) }

func buildBlobAndManifest(rank int, files []string) ([]byte, manifest, error) {
	var buf bytes.Buffer
	m := manifest{Rank: rank}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, manifest{}, fmt.Errorf("codec: read %s: %w", f, err)
		}
		m.Files = append(m.Files, fileEntry{Path: f, Length: int64(len(data))})
		buf.Write(data)
	}
	return buf.Bytes(), m, nil
}

func writeManifest(path string, m manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("codec: marshal manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readManifest(path string) (manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest{}, err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return manifest{}, fmt.Errorf("codec: unmarshal manifest %s: %w", path, err)
	}
	return m, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Apply encodes this rank's contribution (the given files) under desc's
// variant and writes every file the variant calls for into dir.
func Apply(ctx context.Context, desc Descriptor, dir, name string, files []string) error {
	rank := desc.Group.Rank()
	blob, m, err := buildBlobAndManifest(rank, files)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("codec: mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(dataPath(dir, name, rank), blob, 0o644); err != nil {
		return fmt.Errorf("codec: write data: %w", err)
	}
	if err := writeManifest(manifestPath(dir, name, rank), m); err != nil {
		return fmt.Errorf("codec: write manifest: %w", err)
	}

	switch desc.Variant {
	case Single:
		return nil
	case Partner:
		return applyPartner(ctx, desc, dir, name, blob, m)
	case XOR:
		return applyXOR(ctx, desc, dir, name, blob)
	default:
		return fmt.Errorf("codec: unknown variant %v", desc.Variant)
	}
}

func applyPartner(ctx context.Context, desc Descriptor, dir, name string, blob []byte, m manifest) error {
	gathered, err := desc.Group.AllgatherBytes(ctx, blob)
	if err != nil {
		return fmt.Errorf("codec: partner allgather data: %w", err)
	}
	mdata, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("codec: partner marshal manifest: %w", err)
	}
	mgathered, err := desc.Group.AllgatherBytes(ctx, mdata)
	if err != nil {
		return fmt.Errorf("codec: partner allgather manifest: %w", err)
	}

	n := desc.Group.Size()
	rank := desc.Group.Rank()
	predecessor := (rank - 1 + n) % n

	if err := os.WriteFile(redundancyPath(dir, name, rank), gathered[predecessor], 0o644); err != nil {
		return fmt.Errorf("codec: write partner redundancy: %w", err)
	}
	return os.WriteFile(redundancyPath(dir, name, rank)+".manifest", mgathered[predecessor], 0o644)
}

func applyXOR(ctx context.Context, desc Descriptor, dir, name string, blob []byte) error {
	n := desc.Group.Size()

	maxLen, err := maxInt(ctx, desc.Group, len(blob))
	if err != nil {
		return fmt.Errorf("codec: xor max length: %w", err)
	}
	padded := make([]byte, maxLen)
	copy(padded, blob)

	gathered, err := desc.Group.AllgatherBytes(ctx, padded)
	if err != nil {
		return fmt.Errorf("codec: xor allgather: %w", err)
	}

	enc, err := reedsolomon.New(n, 1)
	if err != nil {
		return fmt.Errorf("codec: reedsolomon.New(%d,1): %w", n, err)
	}
	shards := make([][]byte, n+1)
	copy(shards, gathered)
	shards[n] = make([]byte, maxLen)
	if err := enc.Encode(shards); err != nil {
		return fmt.Errorf("codec: reedsolomon encode: %w", err)
	}

	parity, err := compress(shards[n])
	if err != nil {
		return fmt.Errorf("codec: compress parity: %w", err)
	}
	rank := desc.Group.Rank()
	if err := os.WriteFile(redundancyPath(dir, name, rank), parity, 0o644); err != nil {
		return fmt.Errorf("codec: write xor redundancy: %w", err)
	}
	return nil
}

// maxInt computes the maximum of v across the group using the
// AllreduceMin primitive: max(x) = -min(-x). procgroup exposes only a
// min-reduction (the one the core itself needs); this local negation
// trick lets the codec collaborator reuse it instead of asking the core
// to grow a new collective just for this.
func maxInt(ctx context.Context, v *procgroup.View, val int) (int, error) {
	negMin, err := v.AllreduceMin(ctx, -val)
	if err != nil {
		return 0, err
	}
	return -negMin, nil
}

// Recover reconstructs this rank's original files from whatever Apply
// left in dir (possibly migrated there under a new rank layout by the
// shuffle collaborator) and returns their paths.
func Recover(ctx context.Context, desc Descriptor, dir, name string) ([]string, error) {
	rank := desc.Group.Rank()

	if _, err := os.Stat(dataPath(dir, name, rank)); err == nil {
		return restoreFromBlobManifest(dataPath(dir, name, rank), manifestPath(dir, name, rank))
	}

	switch desc.Variant {
	case Single:
		return nil, fmt.Errorf("codec: rank %d data missing and SINGLE has no redundancy to rebuild from", rank)
	case Partner:
		return recoverPartner(dir, name, rank)
	case XOR:
		return recoverXOR(ctx, desc, dir, name)
	default:
		return nil, fmt.Errorf("codec: unknown variant %v", desc.Variant)
	}
}

func recoverPartner(dir, name string, rank int) ([]string, error) {
	n, err := partnerGroupSize(dir, name)
	if err != nil {
		return nil, err
	}
	successor := (rank + 1) % n
	blob, err := os.ReadFile(redundancyPath(dir, name, successor))
	if err != nil {
		return nil, fmt.Errorf("codec: partner recover: read successor %d redundancy: %w", successor, err)
	}
	mdata, err := os.ReadFile(redundancyPath(dir, name, successor) + ".manifest")
	if err != nil {
		return nil, fmt.Errorf("codec: partner recover: read successor %d manifest: %w", successor, err)
	}
	var m manifest
	if err := yaml.Unmarshal(mdata, &m); err != nil {
		return nil, fmt.Errorf("codec: partner recover: unmarshal manifest: %w", err)
	}
	return splitBlob(blob, m)
}

// partnerGroupSize recovers the group size from however many redundancy
// files exist in dir, since a post-failure rebuild's group may be a
// fresh communicator whose Size() reflects the surviving process count,
// not the original scheme's.
func partnerGroupSize(dir, name string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("%s.er.*.manifest", name)))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		if !strings.HasSuffix(m, ".data.manifest") {
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("codec: no redundancy manifests found in %s", dir)
	}
	return n, nil
}

func recoverXOR(ctx context.Context, desc Descriptor, dir, name string) ([]string, error) {
	n := desc.Group.Size()
	rank := desc.Group.Rank()

	shards := make([][]byte, n+1)
	maxLen := 0
	for r := 0; r < n; r++ {
		if r == rank {
			continue
		}
		data, err := os.ReadFile(dataPath(dir, name, r))
		if err != nil {
			return nil, fmt.Errorf("codec: xor recover: missing peer %d data: %w", r, err)
		}
		shards[r] = data
		if len(data) > maxLen {
			maxLen = len(data)
		}
	}
	parityCompressed, err := os.ReadFile(redundancyPath(dir, name, rank))
	if err != nil {
		return nil, fmt.Errorf("codec: xor recover: missing parity: %w", err)
	}
	parity, err := decompress(parityCompressed)
	if err != nil {
		return nil, fmt.Errorf("codec: xor recover: decompress parity: %w", err)
	}
	if len(parity) > maxLen {
		maxLen = len(parity)
	}
	shards[n] = parity

	for r := range shards {
		if r == rank {
			shards[r] = nil
			continue
		}
		if len(shards[r]) < maxLen {
			padded := make([]byte, maxLen)
			copy(padded, shards[r])
			shards[r] = padded
		}
	}

	enc, err := reedsolomon.New(n, 1)
	if err != nil {
		return nil, fmt.Errorf("codec: reedsolomon.New(%d,1): %w", n, err)
	}
	if err := enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("codec: reedsolomon reconstruct: %w", err)
	}

	m, err := readManifest(manifestPath(dir, name, rank))
	if err != nil {
		return nil, fmt.Errorf("codec: xor recover: read own manifest: %w", err)
	}
	var total int64
	for _, f := range m.Files {
		total += f.Length
	}
	return splitBlob(shards[rank][:total], m)
}

func restoreFromBlobManifest(dataP, manifestP string) ([]string, error) {
	blob, err := os.ReadFile(dataP)
	if err != nil {
		return nil, err
	}
	m, err := readManifest(manifestP)
	if err != nil {
		return nil, err
	}
	return splitBlob(blob, m)
}

// splitBlob writes each manifest entry's slice of blob back out to its
// original path, creating parent directories as needed, and returns the
// restored paths in manifest order.
func splitBlob(blob []byte, m manifest) ([]string, error) {
	var offset int64
	paths := make([]string, 0, len(m.Files))
	for _, f := range m.Files {
		if offset+f.Length > int64(len(blob)) {
			return nil, fmt.Errorf("codec: manifest entry %q exceeds blob length", f.Path)
		}
		if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
			return nil, fmt.Errorf("codec: mkdir for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(f.Path, blob[offset:offset+f.Length], 0o644); err != nil {
			return nil, fmt.Errorf("codec: restore %s: %w", f.Path, err)
		}
		offset += f.Length
		paths = append(paths, f.Path)
	}
	return paths, nil
}

// Unapply removes every file this rank's Apply call wrote.
func Unapply(_ context.Context, desc Descriptor, dir, name string) error {
	rank := desc.Group.Rank()
	paths := []string{
		dataPath(dir, name, rank),
		manifestPath(dir, name, rank),
		redundancyPath(dir, name, rank),
		redundancyPath(dir, name, rank) + ".manifest",
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("codec: remove %s: %w", p, err)
		}
	}
	return nil
}

// FileList returns every codec-owned file for this rank, for the
// dispatch orchestrator's encode pipeline to record in the shuffle
// association alongside the application files.
func FileList(_ context.Context, desc Descriptor, dir, name string) ([]string, error) {
	rank := desc.Group.Rank()
	candidates := []string{
		dataPath(dir, name, rank),
		manifestPath(dir, name, rank),
		redundancyPath(dir, name, rank),
		redundancyPath(dir, name, rank) + ".manifest",
	}
	var out []string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}
