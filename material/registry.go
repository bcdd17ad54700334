// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package material provides material definitions registered by name,
// and material instances whose parameters are packed with std140 layout
// into a uniform buffer bound at uniform set 0.
package material

import (
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/lumen3d/lumen/base/errors"
	"github.com/lumen3d/lumen/gpu"
)

var (
	// ErrUnknownDefinition is returned for a material name that is not registered.
	ErrUnknownDefinition = errors.New("material: unknown definition")

	// ErrDuplicateDefinition is returned when registering a name twice.
	ErrDuplicateDefinition = errors.New("material: duplicate definition")
)

// Registry holds the material definitions of a renderer by name.
// It is populated at startup and cleared at shutdown, which frees
// the definition shaders and pipelines.
type Registry struct {
	backend gpu.Backend
	targets Targets

	// DefaultTexture is bound for texture parameters that have no value.
	DefaultTexture TextureBinder

	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns an empty registry creating pipelines
// for the given targets.
func NewRegistry(b gpu.Backend, targets Targets) *Registry {
	return &Registry{backend: b, targets: targets, defs: map[string]*Definition{}}
}

// Backend returns the backend definitions and instances are created with.
func (r *Registry) Backend() gpu.Backend { return r.backend }

// Register adds the definition under its name.
func (r *Registry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateDefinition, def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister is [Registry.Register] for startup code where a duplicate
// name is a programming error.
func (r *Registry) MustRegister(def *Definition) {
	errors.Must(r.Register(def))
}

// Load creates and registers a definition for each info,
// reading each shader from shaders.
func (r *Registry) Load(infos []DefinitionInfo, shaders fs.FS) error {
	for i := range infos {
		info := &infos[i]
		if err := info.Validate(); err != nil {
			return err
		}
		code, err := fs.ReadFile(shaders, info.Shader)
		if err != nil {
			return fmt.Errorf("material %q: %w", info.Name, err)
		}
		def := NewDefinition(r.backend, info, code, r.targets)
		if err := r.Register(def); err != nil {
			def.free(r.backend)
			return err
		}
		slog.Debug("material: registered definition", "name", info.Name, "uniforms", len(info.Uniforms))
	}
	return nil
}

// Definition returns the named definition.
func (r *Registry) Definition(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names returns the sorted definition names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.defs))
}

// Len returns the number of definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// CreateInstance returns a new instance of the named definition, with one
// reference. It returns [ErrUnknownDefinition] for an unknown name, so the
// caller can fall back to a default material.
func (r *Registry) CreateInstance(name string) (*Instance, error) {
	def, ok := r.Definition(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, name)
	}
	return newInstance(r, def), nil
}

// Clear frees every definition and empties the registry.
// Instances of the definitions must be released first.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.defs) == 0 {
		return
	}
	r.backend.DeviceWait()
	for _, d := range r.defs {
		d.free(r.backend)
	}
	clear(r.defs)
}
