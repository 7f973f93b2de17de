// Package kvtree is a small typed key/value tree, modeled on the
// original ER implementation's kvtree: a nested string-keyed map of
// ints, strings, and opaque byte blobs, serialized to and from a single
// file. This implementation backs it with YAML instead of the original's
// custom text format, since that's how every other piece of
// configuration and metadata in this repository is serialized.
package kvtree

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v4"
)

// Tree is a node in a kvtree. Every node holds string/int/blob leaves
// plus named child nodes, mirroring the original's "hash of hashes".
type Tree struct {
	Ints     map[string]int             `yaml:"ints,omitempty"`
	Strs     map[string]string          `yaml:"strs,omitempty"`
	Blobs    map[string][]byte          `yaml:"blobs,omitempty"`
	Children map[string]*Tree           `yaml:"children,omitempty"`
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{
		Ints:     make(map[string]int),
		Strs:     make(map[string]string),
		Blobs:    make(map[string][]byte),
		Children: make(map[string]*Tree),
	}
}

func (t *Tree) SetInt(key string, v int) { t.Ints[key] = v }

func (t *Tree) GetInt(key string) (int, bool) {
	v, ok := t.Ints[key]
	return v, ok
}

func (t *Tree) SetStr(key, v string) { t.Strs[key] = v }

func (t *Tree) GetStr(key string) (string, bool) {
	v, ok := t.Strs[key]
	return v, ok
}

func (t *Tree) SetBlob(key string, v []byte) { t.Blobs[key] = v }

func (t *Tree) GetBlob(key string) ([]byte, bool) {
	v, ok := t.Blobs[key]
	return v, ok
}

// Child returns the named child node, creating it if absent — the
// kvtree idiom of addressing nested state by a dotted path of
// kvtree_set_kv calls.
func (t *Tree) Child(name string) *Tree {
	c, ok := t.Children[name]
	if !ok {
		c = New()
		t.Children[name] = c
	}
	return c
}

// ChildIfPresent returns the named child without creating it, for
// read-only traversal (the original's kvtree_get equivalent).
func (t *Tree) ChildIfPresent(name string) (*Tree, bool) {
	c, ok := t.Children[name]
	return c, ok
}

// WriteFile serializes t to path as YAML, overwriting any existing file.
func WriteFile(path string, t *Tree) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("kvtree: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("kvtree: write %s: %w", path, err)
	}
	return nil
}

// ReadFile deserializes a Tree previously written by WriteFile.
func ReadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kvtree: read %s: %w", path, err)
	}
	t := New()
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("kvtree: unmarshal %s: %w", path, err)
	}
	if t.Ints == nil {
		t.Ints = make(map[string]int)
	}
	if t.Strs == nil {
		t.Strs = make(map[string]string)
	}
	if t.Blobs == nil {
		t.Blobs = make(map[string][]byte)
	}
	if t.Children == nil {
		t.Children = make(map[string]*Tree)
	}
	return t, nil
}
