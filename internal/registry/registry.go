// Package registry discovers loadable diffusion models on disk and serves
// them from a concurrent store, so HTTP handlers and the builder can read
// while a rescan replaces entries.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	cmap "github.com/orcaman/concurrent-map/v2"

	"diffusiond/internal/common/fsutil"
	"diffusiond/pkg/types"
)

const (
	// LayoutDiffusers is a model directory containing model_index.json.
	LayoutDiffusers = "diffusers"
	// LayoutCheckpoint is a single-file *.safetensors checkpoint.
	LayoutCheckpoint = "checkpoint"
)

// Registry is a concurrent model store keyed by model id.
type Registry struct {
	models cmap.ConcurrentMap[string, types.Model]
}

func New() *Registry {
	return &Registry{models: cmap.New[types.Model]()}
}

// LoadDir scans dir and returns a populated registry.
func LoadDir(dir string) (*Registry, error) {
	r := New()
	if err := r.Rescan(dir); err != nil {
		return nil, err
	}
	return r, nil
}

// Rescan replaces the registry contents from a directory scan. A model is
// either a subdirectory with a model_index.json (diffusers layout, id = dir
// name) or a top-level *.safetensors file (single-file checkpoint, id = file
// name).
func (r *Registry) Rescan(dir string) error {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}

	found := make(map[string]types.Model)
	for _, e := range entries {
		name := e.Name()
		p := filepath.Join(abs, name)
		if e.IsDir() {
			if fsutil.PathExists(filepath.Join(p, "model_index.json")) {
				found[name] = types.Model{ID: name, Name: name, Path: p, Layout: LayoutDiffusers}
			}
			continue
		}
		if strings.HasSuffix(strings.ToLower(name), ".safetensors") {
			id := strings.TrimSuffix(name, filepath.Ext(name))
			found[id] = types.Model{ID: id, Name: id, Path: p, Layout: LayoutCheckpoint}
		}
	}

	for _, id := range r.models.Keys() {
		if _, ok := found[id]; !ok {
			r.models.Remove(id)
		}
	}
	for id, mdl := range found {
		r.models.Set(id, mdl)
	}
	return nil
}

// Get returns the model for id.
func (r *Registry) Get(id string) (types.Model, bool) {
	return r.models.Get(id)
}

// List returns all models sorted by id.
func (r *Registry) List() []types.Model {
	out := make([]types.Model, 0, r.models.Count())
	for item := range r.models.IterBuffered() {
		out = append(out, item.Val)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
