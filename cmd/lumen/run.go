// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/base/errors"
	"github.com/lumen3d/lumen/base/logx"
	"github.com/lumen3d/lumen/config"
	"github.com/lumen3d/lumen/geom"
	"github.com/lumen3d/lumen/gpu"
	"github.com/lumen3d/lumen/gpu/softgpu"
	"github.com/lumen3d/lumen/gpu/vkgpu"
	"github.com/lumen3d/lumen/loader"
	"github.com/lumen3d/lumen/material"
	"github.com/lumen3d/lumen/mesh"
	"github.com/lumen3d/lumen/render"
	"github.com/lumen3d/lumen/scene"
	"github.com/lumen3d/lumen/texture"
	"github.com/spf13/cobra"
)

//go:embed assets
var assets embed.FS

// pbrDefinition is the material definition of the demo scene, which
// the loader also instances for glTF materials.
const pbrDefinition = "pbr"

// runFlags are the flags of the run command.
type runFlags struct {
	backend string
	config  []string
	frames  int
	model   string
	assets  string
	watch   bool
	animate bool
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Render frames of a scene headless",
		Long: "Run renders the built-in demo scene, or the default scene of a glTF model, " +
			"and prints the rendering statistics. With --frames 0 it renders until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	fl := cmd.Flags()
	fl.StringSliceVarP(&f.config, "config", "c", nil, "TOML configuration files, applied in order")
	fl.StringVarP(&f.backend, "backend", "b", "soft", "GPU backend: soft or vulkan (offscreen, needs --assets with SPIR-V shaders)")
	fl.IntVarP(&f.frames, "frames", "n", 60, "number of frames to render, or 0 to render until interrupted")
	fl.StringVarP(&f.model, "model", "m", "", "glTF model to render instead of the demo scene")
	fl.StringVar(&f.assets, "assets", "", "directory with a materials.yaml and its shaders, replacing the built-in materials")
	fl.BoolVarP(&f.watch, "watch", "w", false, "apply changes to the configuration files while running")
	fl.BoolVar(&f.animate, "animate", true, "spin the scene")
	return cmd
}

func run(ctx context.Context, out io.Writer, f *runFlags) error {
	if err := expandAll(f.config); err != nil {
		return err
	}
	if err := expandPaths(&f.model, &f.assets); err != nil {
		return err
	}
	cfg, err := config.Open(f.config...)
	if err != nil {
		return err
	}
	logx.SetDefault(cfg.Level())

	var shaders fs.FS
	if f.assets != "" {
		shaders = os.DirFS(f.assets)
	} else {
		shaders = errors.Must1(fs.Sub(assets, "assets"))
	}
	b, err := newBackend(f.backend, cfg, f.assets != "")
	if err != nil {
		return err
	}
	v, err := newViewer(ctx, cfg, b, shaders, f.model)
	if err != nil {
		return err
	}
	defer v.close()

	var updates <-chan *config.Config
	if f.watch && len(f.config) > 0 {
		cw, err := newConfigWatcher(f.config)
		if err != nil {
			return err
		}
		defer cw.Close()
		updates = cw.Updates()
	} else if f.watch {
		slog.Warn("lumen: --watch has no effect without --config")
	}

	var tick <-chan time.Time
	if cfg.VSync {
		t := time.NewTicker(time.Second / 60)
		defer t.Stop()
		tick = t.C
	}

	start := time.Now()
	skipped := 0
	for i := 0; f.frames == 0 || i < f.frames; i++ {
		select {
		case <-ctx.Done():
			slog.Info("lumen: interrupted", "frame", i)
		case nc := <-updates:
			v.apply(nc)
		default:
		}
		if ctx.Err() != nil {
			break
		}
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
			}
		}
		if f.animate {
			v.spin(float32(i))
		}
		if _, err := v.renderer.Render(v.pass); err != nil {
			if !errors.Is(err, gpu.ErrOutOfDate) && !errors.Is(err, render.ErrMinimized) {
				return err
			}
			skipped++
		}
	}
	v.backend.DeviceWait()
	elapsed := time.Since(start)

	st := v.renderer.Stats()
	fmt.Fprintln(out, logx.TitleColor("lumen")+" "+v.name)
	fmt.Fprintln(out, st.String())
	fps := 0.0
	if elapsed > 0 {
		fps = float64(st.Frames) / elapsed.Seconds()
	}
	fmt.Fprintln(out, logx.SuccessColor(fmt.Sprintf("rendered %d frames (%d skipped) in %v, %.1f fps", st.Frames, skipped, elapsed.Round(time.Millisecond), fps)))
	if ev, ok := v.backend.(interface{ Err() error }); ok {
		return ev.Err()
	}
	return nil
}

// newBackend returns the named backend configured from cfg.
// The built-in shaders are source text the software backend accepts,
// so Vulkan requires compiled shaders from an assets directory.
func newBackend(name string, cfg *config.Config, haveAssets bool) (gpu.Backend, error) {
	switch name {
	case "soft":
		opts := &softgpu.Options{}
		opts.FromConfig(cfg)
		return softgpu.New(opts), nil
	case "vulkan":
		if !haveAssets {
			return nil, fmt.Errorf("the vulkan backend needs --assets with SPIR-V shaders")
		}
		opts := &vkgpu.Options{}
		opts.FromConfig(cfg)
		b, err := vkgpu.New(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown backend %q (soft, vulkan)", name)
}

// viewer holds the engine objects of the run command.
type viewer struct {
	name      string
	backend   gpu.Backend
	renderer  *render.Renderer
	pass      *render.MeshPass
	materials *material.Registry
	white     *texture.Texture
	graph     *scene.Graph
	model     *loader.Model

	// pivot is spun about the Y axis by the animation.
	pivot *scene.Node

	// instances are the material references held by the demo scene.
	instances []*material.Instance
	size      [2]int
}

// newViewer builds the scene on b, which it takes over: closing the
// viewer shuts the backend down.
func newViewer(ctx context.Context, cfg *config.Config, b gpu.Backend, shaders fs.FS, model string) (v *viewer, err error) {
	ropts := &render.Options{}
	ropts.FromConfig(cfg)
	v = &viewer{
		name:     "demo",
		backend:  b,
		renderer: render.New(b, ropts),
		pass:     render.NewMeshPass(b),
		graph:    scene.NewGraph(),
		size:     [2]int{cfg.Width, cfg.Height},
	}
	defer func() {
		if err != nil {
			v.close()
		}
	}()
	v.materials = material.NewRegistry(b, material.Targets{Color: ropts.ColorFormat, Depth: ropts.DepthFormat, Samples: uint32(cfg.MSAA)})
	v.white = texture.White(b)
	v.materials.DefaultTexture = v.white

	defs, err := shaders.Open("materials.yaml")
	if err != nil {
		return v, err
	}
	infos, err := material.ReadDefinitions(defs)
	defs.Close()
	if err != nil {
		return v, err
	}
	if err := v.materials.Load(infos, shaders); err != nil {
		return v, err
	}

	cam := scene.NewPerspectiveCamera(cfg.Camera.FOV, cfg.Camera.Near, cfg.Camera.Far)
	cam.LookAt(mgl32.Vec3{0, 2, 6}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	v.pass.SetCamera(cam)
	v.pass.SetGraph(v.graph)
	v.pivot = v.graph.NewNode(nil, "pivot")

	if model != "" {
		if err := v.loadModel(ctx, model); err != nil {
			return v, err
		}
	} else if err := v.buildDemo(); err != nil {
		return v, err
	}
	slog.Info("lumen: scene ready", "scene", v.name, "nodes", v.graph.Len(), "materials", v.materials.Names())
	return v, nil
}

func (v *viewer) loadModel(ctx context.Context, path string) error {
	m, err := loader.LoadGLTF(ctx, v.backend, v.materials, path)
	if err != nil {
		return err
	}
	v.model = m
	v.name = path
	v.pivot.AddChild(m.Root)
	v.graph.UpdateTransforms()
	// the first camera of the model replaces the default one
	m.Root.Walk(func(n *scene.Node) bool {
		if n.Camera == nil {
			return true
		}
		tr := geom.Decompose(n.World())
		n.Camera.Position = tr.Position
		n.Camera.Rotation = tr.Quat()
		v.pass.SetCamera(n.Camera)
		return false
	})
	return nil
}

// buildDemo adds a floor, a ring of cubes around a torus, a sun
// and two point lights.
func (v *viewer) buildDemo() error {
	b := v.backend
	newMat := func(color mgl32.Vec4, metallic, roughness float32) (*material.Instance, error) {
		mi, err := v.materials.CreateInstance(pbrDefinition)
		if err != nil {
			return nil, err
		}
		mi.SetParam(loader.BaseColorParam, material.Vec4Value(color))
		mi.SetParam(loader.MetallicParam, material.FloatValue(metallic))
		mi.SetParam(loader.RoughnessParam, material.FloatValue(roughness))
		v.instances = append(v.instances, mi)
		return mi, nil
	}
	add := func(parent *scene.Node, name string, sh mesh.Shape, mat *material.Instance) (*scene.Node, error) {
		pr, err := mesh.NewShapePrimitive(b, sh, mat.Ref())
		if err != nil {
			mat.Release()
			return nil, err
		}
		m := mesh.New(b, name, pr)
		n := v.graph.NewNode(parent, name)
		n.SetMesh(m)
		m.Release()
		return n, nil
	}

	floorMat, err := newMat(mgl32.Vec4{0.5, 0.5, 0.5, 1}, 0, 0.9)
	if err != nil {
		return err
	}
	floor, err := add(nil, "floor", mesh.NewPlane(20, 20), floorMat)
	if err != nil {
		return err
	}
	floor.Transform.Position = mgl32.Vec3{0, -1, 0}

	gold, err := newMat(mgl32.Vec4{1, 0.77, 0.34, 1}, 1, 0.3)
	if err != nil {
		return err
	}
	if _, err := add(v.pivot, "torus", mesh.NewTorus(1, 0.3, 32), gold); err != nil {
		return err
	}
	red, err := newMat(mgl32.Vec4{0.8, 0.1, 0.1, 1}, 0, 0.5)
	if err != nil {
		return err
	}
	const ring = 8
	for i := range ring {
		c, err := add(v.pivot, fmt.Sprintf("cube%d", i), mesh.NewBox(0.5, 0.5, 0.5), red)
		if err != nil {
			return err
		}
		a := float32(i) * 360 / ring
		c.Transform.Rotation = mgl32.Vec3{0, a, 0}
		c.Transform.Position = mgl32.QuatRotate(mgl32.DegToRad(a), mgl32.Vec3{0, 1, 0}).Rotate(mgl32.Vec3{0, 0, 2.5})
	}

	sun := v.graph.NewNode(nil, "sun")
	sun.DirectionalLight = scene.NewDirectionalLight()
	for i, pos := range []mgl32.Vec3{{3, 2, 3}, {-3, 2, -3}} {
		n := v.graph.NewNode(v.pivot, fmt.Sprintf("light%d", i))
		n.Transform.Position = pos
		n.PointLight = scene.NewPointLight()
	}
	v.graph.UpdateTransforms()
	return nil
}

// spin rotates the scene by one degree per frame.
func (v *viewer) spin(frame float32) {
	v.pivot.Transform.Rotation = mgl32.Vec3{0, frame, 0}
}

// apply applies the settings of a reloaded configuration that can
// change while running.
func (v *viewer) apply(cfg *config.Config) {
	logx.UserLevel.Set(cfg.Level())
	v.renderer.SetClearColor(cfg.ClearColor)
	if size := [2]int{cfg.Width, cfg.Height}; size != v.size {
		v.size = size
		v.renderer.Resize(cfg.Width, cfg.Height)
	}
	if cam := v.pass.Camera(); cam.Projection == scene.Perspective && v.model == nil {
		cam.FOV, cam.Near, cam.Far = cfg.Camera.FOV, cfg.Camera.Near, cfg.Camera.Far
	}
	slog.Info("lumen: applied configuration", "clear_color", cfg.ClearColor, "log_level", cfg.LogLevel)
}

// close releases everything in dependency order: scene references
// before the materials they use, materials before their definitions.
func (v *viewer) close() {
	if v.backend == nil {
		return
	}
	v.backend.DeviceWait()
	v.pass.Free()
	v.graph.Root().ReleaseResources()
	if v.model != nil {
		v.model.Release()
	}
	for _, mi := range v.instances {
		mi.Release()
	}
	v.instances = nil
	if v.materials != nil {
		v.materials.Clear()
	}
	if v.white != nil {
		v.white.Release()
	}
	v.renderer.Shutdown()
	v.backend.Shutdown()
	v.backend = nil
}
