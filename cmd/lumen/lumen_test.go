// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lumen3d/lumen/base/logx"
	"github.com/lumen3d/lumen/config"
	"github.com/lumen3d/lumen/gpu/softgpu"
	"github.com/lumen3d/lumen/render"
	"github.com/mitchellh/go-homedir"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--no-color"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, dir, text string) string {
	path := filepath.Join(dir, "lumen.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func newSoftViewer(t *testing.T, cfg *config.Config, shaders fs.FS, model string) (*viewer, *softgpu.Backend, error) {
	b, err := newBackend("soft", cfg, false)
	require.NoError(t, err)
	v, err := newViewer(context.Background(), cfg, b, shaders, model)
	return v, b.(*softgpu.Backend), err
}

func builtinAssets(t *testing.T) fs.FS {
	sub, err := fs.Sub(assets, "assets")
	require.NoError(t, err)
	return sub
}

func TestRunDemo(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "width = 320\nheight = 240\nlog_level = \"warn\"\n")
	out, err := execute(t, "run", "--frames", "4", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "lumen demo")
	assert.Contains(t, out, "frames: 4 ")
	assert.Contains(t, out, "rendered 4 frames (0 skipped)")
}

func TestRunBackends(t *testing.T) {
	_, err := execute(t, "run", "--backend", "metal")
	assert.ErrorContains(t, err, "unknown backend")
	_, err = execute(t, "run", "--backend", "vulkan")
	assert.ErrorContains(t, err, "--assets")
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, t.TempDir(), "frames_in_flight = 0\n")
	_, err := execute(t, "run", "--config", cfg)
	assert.ErrorContains(t, err, "frames_in_flight")
}

func TestConfigCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "width = 320\n[camera]\nfov = 60.0\n")
	out, err := execute(t, "config", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "width = 320")
	assert.Contains(t, out, "height = 720")
	assert.Contains(t, out, "fov = 60.0")

	saved := filepath.Join(dir, "saved.toml")
	_, err = execute(t, "config", "--config", cfg, "--output", saved)
	require.NoError(t, err)
	c, err := config.Open(saved)
	require.NoError(t, err)
	assert.Equal(t, 320, c.Width)
	assert.Equal(t, float32(60), c.Camera.FOV)
}

func TestViewerReleasesEverything(t *testing.T) {
	cfg := config.New()
	cfg.Width, cfg.Height = 64, 48
	v, b, err := newSoftViewer(t, cfg, builtinAssets(t), "")
	require.NoError(t, err)
	for i := range 3 {
		v.spin(float32(i))
		st, err := v.renderer.Render(v.pass)
		require.NoError(t, err)
		assert.Equal(t, 10, st.DrawCalls, "floor, torus and cubes")
	}
	v.apply(&config.Config{Width: 32, Height: 32, ClearColor: [4]float32{1, 0, 0, 1}, LogLevel: "info", Camera: cfg.Camera})
	_, err = v.renderer.Render(v.pass)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), v.renderer.Extent().Width)

	v.close()
	assert.NoError(t, b.Err())
	for kind, n := range b.Live() {
		assert.Zero(t, n, kind)
	}
	v.close()
}

func TestViewerMissingDefinitions(t *testing.T) {
	_, b, err := newSoftViewer(t, config.New(), os.DirFS(t.TempDir()), "")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	for kind, n := range b.Live() {
		assert.Zero(t, n, kind)
	}
}

// writeModel writes a binary glTF file with one triangle and a camera.
func writeModel(t *testing.T) string {
	doc := gltf.NewDocument()
	attrs := map[string]uint32{
		"POSITION": modeler.WritePosition(doc, [][3]float32{{-1, 0, 0}, {1, 0, 0}, {0, 1, 0}}),
	}
	idx := modeler.WriteIndices(doc, []uint32{0, 1, 2})
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Name: "tri", Primitives: []*gltf.Primitive{{Indices: gltf.Index(idx), Attributes: attrs}}})
	far := float32(100)
	doc.Cameras = append(doc.Cameras, &gltf.Camera{Perspective: &gltf.Perspective{Yfov: mgl32.DegToRad(50), Znear: 0.1, Zfar: &far}})
	doc.Nodes = append(doc.Nodes,
		&gltf.Node{Name: "tri", Mesh: gltf.Index(0), Translation: [3]float32{0, 0, -4}, Rotation: [4]float32{0, 0, 0, 1}, Scale: [3]float32{1, 1, 1}},
		&gltf.Node{Name: "eye", Camera: gltf.Index(0), Translation: [3]float32{0, 0.5, 2}, Rotation: [4]float32{0, 0, 0, 1}, Scale: [3]float32{1, 1, 1}},
	)
	doc.Scenes[0].Nodes = []uint32{0, 1}
	path := filepath.Join(t.TempDir(), "tri.glb")
	require.NoError(t, gltf.SaveBinary(doc, path))
	return path
}

func TestViewerModel(t *testing.T) {
	cfg := config.New()
	cfg.Width, cfg.Height = 64, 48
	path := writeModel(t)
	v, _, err := newSoftViewer(t, cfg, builtinAssets(t), path)
	require.NoError(t, err)
	defer v.close()
	assert.Equal(t, path, v.name)

	cam := v.pass.Camera()
	assert.InDelta(t, 50, cam.FOV, 1e-3)
	assert.True(t, cam.Position.ApproxEqual(mgl32.Vec3{0, 0.5, 2}))

	st, err := v.renderer.Render(v.pass)
	require.NoError(t, err)
	assert.Equal(t, render.Stats{Frames: 1, DrawCalls: 1, IndexCount: 3, PipelineBinds: 1, SceneUploads: 1}, st)
}

func TestConfigWatcher(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_level = \"info\"\n")
	cw, err := newConfigWatcher([]string{path})
	require.NoError(t, err)
	defer cw.Close()

	// an invalid file is skipped and the next valid one is sent
	writeConfig(t, dir, "log_level = \"loud\"\n")
	writeConfig(t, dir, "log_level = \"debug\"\nclear_color = [1.0, 0.0, 0.0, 1.0]\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-cw.Updates():
			if c.LogLevel != "debug" {
				continue
			}
			assert.Equal(t, [4]float32{1, 0, 0, 1}, c.ClearColor)
			return
		case <-deadline:
			t.Fatal("no configuration update")
		}
	}
}

func TestWatchAppliesLogLevel(t *testing.T) {
	defer logx.UserLevel.Set(logx.UserLevel.Level())
	cfg := config.New()
	cfg.Width, cfg.Height = 16, 16
	v, _, err := newSoftViewer(t, cfg, builtinAssets(t), "")
	require.NoError(t, err)
	defer v.close()

	nc := config.New()
	nc.Width, nc.Height = 16, 16
	nc.LogLevel = "error"
	nc.Camera.FOV = 70
	v.apply(nc)
	assert.Equal(t, "ERROR", logx.UserLevel.Level().String())
	assert.Equal(t, float32(70), v.pass.Camera().FOV)
}

func TestExpandPaths(t *testing.T) {
	t.Setenv("HOME", "/home/lumen")
	homedir.Reset()
	t.Cleanup(homedir.Reset)
	p, empty := "~/scenes/a.glb", ""
	require.NoError(t, expandPaths(&p, &empty))
	assert.Equal(t, filepath.Join("/home/lumen", "scenes/a.glb"), p)
	assert.Empty(t, empty)

	files := []string{"~/a.toml", "b.toml"}
	require.NoError(t, expandAll(files))
	assert.Equal(t, []string{filepath.Join("/home/lumen", "a.toml"), "b.toml"}, files)
}
