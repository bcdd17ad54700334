// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package material

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/lumen3d/lumen/gpu"
	"gopkg.in/yaml.v3"
)

// Uniform set slots of material shaders.
const (
	// MaterialSet holds the material data buffer at binding 0
	// and the material textures.
	MaterialSet = 0

	// SceneSet holds the per frame scene data buffer at binding 0.
	SceneSet = 1

	// DataBinding is the binding of the material data buffer.
	DataBinding = 0
)

// Targets are the attachment formats pipelines render to.
type Targets struct {
	Color   gpu.DataFormat
	Depth   gpu.DataFormat
	Samples uint32
}

// DefinitionInfo describes a material definition, as read
// from a definition file.
type DefinitionInfo struct {
	Name string `yaml:"name"`

	// Shader is the path of the compiled shader, relative to the
	// shader file system given to [Registry.Load].
	Shader string `yaml:"shader"`

	VertexEntry   string `yaml:"vertex_entry,omitempty"`
	FragmentEntry string `yaml:"fragment_entry,omitempty"`

	Pipeline gpu.PipelineOptions `yaml:"pipeline"`

	// Uniforms are the parameters in shader declaration order,
	// which is the packing order of the material data buffer.
	Uniforms []UniformMetadata `yaml:"uniforms"`
}

// UnmarshalYAML decodes the info on top of the default pipeline options.
func (di *DefinitionInfo) UnmarshalYAML(node *yaml.Node) error {
	type plain DefinitionInfo
	p := plain{}
	p.Pipeline.Defaults()
	if err := node.Decode(&p); err != nil {
		return err
	}
	*di = DefinitionInfo(p)
	return nil
}

// Layout returns the shader layout of the definition: the material data
// buffer and textures in set 0, and the scene data buffer in set 1.
func (di *DefinitionInfo) Layout() gpu.ShaderLayout {
	set0 := []gpu.UniformBinding{{Binding: DataBinding, Type: gpu.UniformBuffer, Stages: gpu.StageAllGraphics}}
	for _, u := range di.Uniforms {
		if u.Type.IsTexture() {
			set0 = append(set0, gpu.UniformBinding{Binding: u.Binding, Type: gpu.UniformSamplerWithTexture, Stages: gpu.StageFragment})
		}
	}
	set1 := []gpu.UniformBinding{{Binding: 0, Type: gpu.UniformBuffer, Stages: gpu.StageAllGraphics}}
	return gpu.ShaderLayout{Sets: [][]gpu.UniformBinding{set0, set1}, PushConstantSize: gpu.PushConstantsSize}
}

// Validate checks for empty and duplicate uniform names,
// and textures bound at the data buffer binding.
func (di *DefinitionInfo) Validate() error {
	if di.Name == "" {
		return fmt.Errorf("material definition without a name")
	}
	seen := map[string]bool{}
	for _, u := range di.Uniforms {
		switch {
		case u.Name == "":
			return fmt.Errorf("material %q: uniform without a name", di.Name)
		case seen[u.Name]:
			return fmt.Errorf("material %q: duplicate uniform %q", di.Name, u.Name)
		case u.Type < 0 || u.Type >= UniformTypesN:
			return fmt.Errorf("material %q: uniform %q has invalid type %v", di.Name, u.Name, u.Type)
		case u.Type.IsTexture() && u.Binding == DataBinding:
			return fmt.Errorf("material %q: texture %q uses the data buffer binding", di.Name, u.Name)
		}
		seen[u.Name] = true
	}
	return nil
}

// Definition is a registered material: its shader, pipeline
// and parameter metadata. The shader and pipeline are owned by
// the definition and freed by [Registry.Clear].
type Definition struct {
	Name     string
	Shader   gpu.Shader
	Pipeline gpu.Pipeline
	Options  gpu.PipelineOptions
	Uniforms []UniformMetadata
}

// NewDefinition creates the shader and pipeline of a definition.
// Backend failures panic, as for all resource creation.
func NewDefinition(b gpu.Backend, info *DefinitionInfo, code []byte, targets Targets) *Definition {
	sh := b.ShaderCreateFromBytecode(code, info.Layout())
	pl := b.PipelineCreate(gpu.PipelineCreateInfo{
		Shader:        sh,
		VertexEntry:   info.VertexEntry,
		FragmentEntry: info.FragmentEntry,
		ColorFormat:   targets.Color,
		DepthFormat:   targets.Depth,
		Samples:       targets.Samples,
		Options:       info.Pipeline,
	})
	return &Definition{
		Name:     info.Name,
		Shader:   sh,
		Pipeline: pl,
		Options:  info.Pipeline,
		Uniforms: slices.Clone(info.Uniforms),
	}
}

// Uniform returns the metadata of the named parameter.
func (d *Definition) Uniform(name string) (UniformMetadata, bool) {
	for _, u := range d.Uniforms {
		if u.Name == name {
			return u, true
		}
	}
	return UniformMetadata{}, false
}

func (d *Definition) free(b gpu.Backend) {
	b.PipelineFree(d.Pipeline)
	b.ShaderFree(d.Shader)
	d.Pipeline, d.Shader = 0, 0
}

// definitionFile is the document form of a definition file.
type definitionFile struct {
	Materials []DefinitionInfo `yaml:"materials"`
}

// ReadDefinitions reads material definitions in YAML from r.
func ReadDefinitions(r io.Reader) ([]DefinitionInfo, error) {
	var df definitionFile
	if err := yaml.NewDecoder(r).Decode(&df); err != nil {
		return nil, fmt.Errorf("material definitions: %w", err)
	}
	for i := range df.Materials {
		if err := df.Materials[i].Validate(); err != nil {
			return nil, err
		}
	}
	return df.Materials, nil
}

// OpenDefinitions reads material definitions from the YAML file.
func OpenDefinitions(path string) ([]DefinitionInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDefinitions(f)
}

// WriteDefinitions writes material definitions in YAML to w.
func WriteDefinitions(w io.Writer, infos []DefinitionInfo) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(definitionFile{Materials: infos}); err != nil {
		return err
	}
	return enc.Close()
}
