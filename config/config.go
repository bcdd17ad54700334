// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config contains the engine settings, which are
// read from TOML files layered over [Config.Defaults].
package config

import (
	"fmt"
	"log/slog"

	"github.com/lumen3d/lumen/base/iox/tomlx"
	"github.com/lumen3d/lumen/base/logx"
)

// Config is the main engine configuration.
type Config struct {

	// Width is the initial width of the render surface in pixels.
	Width int `toml:"width"`

	// Height is the initial height of the render surface in pixels.
	Height int `toml:"height"`

	// FramesInFlight is the number of frames whose GPU work
	// may be outstanding while the host records the next one.
	FramesInFlight int `toml:"frames_in_flight"`

	// VSync selects a presentation mode synchronized with the display.
	VSync bool `toml:"vsync"`

	// MSAA is the number of samples per pixel.
	MSAA int `toml:"msaa"`

	// ClearColor is the RGBA color the frame is cleared to.
	ClearColor [4]float32 `toml:"clear_color"`

	// LogLevel is the minimum level of log messages (debug, info, warn, error).
	LogLevel string `toml:"log_level"`

	Descriptors Descriptors `toml:"descriptors"`

	Memory Memory `toml:"memory"`

	Camera Camera `toml:"camera"`
}

// Descriptors configures the growable uniform set pools.
type Descriptors struct {

	// InitialSets is the capacity of the first pool.
	InitialSets int `toml:"initial_sets"`

	// MaxSets caps the capacity of any single pool.
	MaxSets int `toml:"max_sets"`

	// GrowthFactor multiplies the capacity of each new pool.
	GrowthFactor float32 `toml:"growth_factor"`
}

// Memory configures GPU memory sub-allocation.
type Memory struct {

	// SmallAllocThreshold is the size in bytes at or below which
	// device-local buffers are sub-allocated from shared blocks.
	SmallAllocThreshold uint64 `toml:"small_alloc_threshold"`

	// BlockSize is the size in bytes of each shared block.
	BlockSize uint64 `toml:"block_size"`
}

// Camera holds the default perspective projection parameters.
type Camera struct {
	FOV  float32 `toml:"fov"`
	Near float32 `toml:"near"`
	Far  float32 `toml:"far"`
}

// Defaults sets the default values for all fields.
func (c *Config) Defaults() {
	c.Width = 1280
	c.Height = 720
	c.FramesInFlight = 2
	c.VSync = false
	c.MSAA = 1
	c.ClearColor = [4]float32{0.1, 0.1, 0.1, 1}
	c.LogLevel = "info"
	c.Descriptors.InitialSets = 16
	c.Descriptors.MaxSets = 4092
	c.Descriptors.GrowthFactor = 1.5
	c.Memory.SmallAllocThreshold = 64 << 10
	c.Memory.BlockSize = 1 << 20
	c.Camera.FOV = 45
	c.Camera.Near = 0.01
	c.Camera.Far = 1000
}

// New returns a new [Config] with default values.
func New() *Config {
	c := &Config{}
	c.Defaults()
	return c
}

// Open returns the configuration read from the given TOML files in order,
// layered over the defaults.
func Open(filenames ...string) (*Config, error) {
	c := New()
	if err := tomlx.OpenFiles(c, filenames...); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// Save writes the configuration to the given TOML file.
func (c *Config) Save(filename string) error {
	return tomlx.Save(c, filename)
}

// Validate checks that the values are usable.
func (c *Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("config: invalid size %dx%d", c.Width, c.Height)
	case c.FramesInFlight < 1:
		return fmt.Errorf("config: frames_in_flight must be at least 1, got %d", c.FramesInFlight)
	case c.Descriptors.InitialSets < 1 || c.Descriptors.MaxSets < c.Descriptors.InitialSets:
		return fmt.Errorf("config: invalid descriptor pool sizes %d..%d", c.Descriptors.InitialSets, c.Descriptors.MaxSets)
	case c.Descriptors.GrowthFactor < 1:
		return fmt.Errorf("config: growth_factor must be >= 1, got %g", c.Descriptors.GrowthFactor)
	case c.Memory.SmallAllocThreshold > c.Memory.BlockSize:
		return fmt.Errorf("config: small_alloc_threshold %d exceeds block_size %d", c.Memory.SmallAllocThreshold, c.Memory.BlockSize)
	}
	_, err := logx.ParseLevel(c.LogLevel)
	return err
}

// Level returns the parsed [Config.LogLevel].
func (c *Config) Level() slog.Level {
	lv, _ := logx.ParseLevel(c.LogLevel)
	return lv
}
