// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package vkgpu is the Vulkan [gpu.Backend], built on github.com/goki/vulkan.

It renders with one render pass per attachment format combination, created
on demand and cached, so that pipelines and rendering scopes only deal with
images. Small device local buffers are sub-allocated from shared memory
blocks, and uniform sets come from a growing list of descriptor pools.

Device addresses are assigned by the backend: a buffer created with
[gpu.BufferUsageDeviceAddress] gets a unique address, and a draw resolves
the address in its push constants to the buffer and binds it as the
vertex buffer, so shaders read vertices through the vertex input stage.
*/
package vkgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	vk "github.com/goki/vulkan"
	"github.com/lumen3d/lumen/config"
	"github.com/lumen3d/lumen/gpu"
)

var _ gpu.Backend = (*Backend)(nil)

// Options configures a [Backend].
type Options struct {

	// Descriptors configures the uniform set pools.
	Descriptors config.Descriptors

	// Memory configures small buffer sub-allocation.
	Memory config.Memory

	// Surface is the window surface to present to. Without one, swapchains
	// are rings of offscreen images and presentation only orders work.
	Surface vk.Surface

	// InstanceExtensions are extra instance extensions to enable,
	// as required by the window system that made Surface.
	InstanceExtensions []string

	// Debug enables the validation layers.
	Debug bool
}

// Defaults sets the options from the default engine [config.Config].
func (o *Options) Defaults() {
	o.FromConfig(config.New())
}

// FromConfig sets the options from the given engine configuration.
func (o *Options) FromConfig(cfg *config.Config) {
	o.Descriptors = cfg.Descriptors
	o.Memory = cfg.Memory
}

// Backend is the Vulkan [gpu.Backend].
type Backend struct {
	opts Options

	instance    vk.Instance
	physical    vk.PhysicalDevice
	device      vk.Device
	props       vk.PhysicalDeviceProperties
	memoryProps vk.PhysicalDeviceMemoryProperties
	queueFamily uint32

	mu          sync.RWMutex
	nextID      atomic.Uint64
	nextAddress uint64

	buffers    map[gpu.Buffer]*buffer
	addresses  map[gpu.DeviceAddress]gpu.Buffer
	images     map[gpu.Image]*image
	samplers   map[gpu.Sampler]vk.Sampler
	shaders    map[gpu.Shader]*shader
	pipelines  map[gpu.Pipeline]*pipeline
	sets       map[gpu.UniformSet]*uniformSet
	fences     map[gpu.Fence]vk.Fence
	semaphores map[gpu.Semaphore]vk.Semaphore
	swapchains map[gpu.Swapchain]*swapchain
	pools      map[gpu.CommandPool]*commandPool
	cmds       map[gpu.CommandBuffer]*commandBuffer

	// queueMu serializes use of the one device queue all queue types share.
	queueMu sync.Mutex
	queues  [gpu.QueueTypesN]*queue

	renderPasses map[renderPassKey]vk.RenderPass
	framebuffers map[framebufferKey]vk.Framebuffer

	descriptors *gpu.DescriptorAllocator[vk.DescriptorPool]
	small       *gpu.BlockPool[*memBlock]
	smallType   uint32

	immMu    sync.Mutex
	immPool  gpu.CommandPool
	immCmd   gpu.CommandBuffer
	immFence gpu.Fence
}

// NewError returns an error for a failed Vulkan result, or nil.
func NewError(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	return fmt.Errorf("vulkan error: %w (%d)", vk.Error(ret), ret)
}

// New loads the Vulkan library and creates a device on the first GPU
// with a graphics queue. Unlike resource creation, device creation
// returns an error, so callers can fall back to another backend.
func New(opts *Options) (b *Backend, err error) {
	defer gpu.CheckErr(&err)
	if opts == nil {
		opts = &Options{}
		opts.Defaults()
	}
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, err
	}
	if err := vk.Init(); err != nil {
		return nil, err
	}
	b = &Backend{
		opts:         *opts,
		nextAddress:  0x10000,
		buffers:      make(map[gpu.Buffer]*buffer),
		addresses:    make(map[gpu.DeviceAddress]gpu.Buffer),
		images:       make(map[gpu.Image]*image),
		samplers:     make(map[gpu.Sampler]vk.Sampler),
		shaders:      make(map[gpu.Shader]*shader),
		pipelines:    make(map[gpu.Pipeline]*pipeline),
		sets:         make(map[gpu.UniformSet]*uniformSet),
		fences:       make(map[gpu.Fence]vk.Fence),
		semaphores:   make(map[gpu.Semaphore]vk.Semaphore),
		swapchains:   make(map[gpu.Swapchain]*swapchain),
		pools:        make(map[gpu.CommandPool]*commandPool),
		cmds:         make(map[gpu.CommandBuffer]*commandBuffer),
		renderPasses: make(map[renderPassKey]vk.RenderPass),
		framebuffers: make(map[framebufferKey]vk.Framebuffer),
	}
	if err := b.initInstance(); err != nil {
		return nil, err
	}
	if err := b.initDevice(); err != nil {
		vk.DestroyInstance(b.instance, nil)
		return nil, err
	}

	da := gpu.NewDescriptorAllocator[vk.DescriptorPool](poolDriver{b}, opts.Descriptors.InitialSets)
	if opts.Descriptors.MaxSets > 0 {
		da.MaxSets = opts.Descriptors.MaxSets
	}
	if opts.Descriptors.GrowthFactor >= 1 {
		da.GrowthFactor = opts.Descriptors.GrowthFactor
	}
	b.descriptors = da
	b.initSmallPool()

	var q vk.Queue
	vk.GetDeviceQueue(b.device, b.queueFamily, 0, &q)
	for qt := range gpu.QueueTypesN {
		b.queues[qt] = &queue{qt: qt, handle: gpu.CommandQueue(b.newID()), queue: q}
	}

	b.immPool = b.CommandPoolCreate(b.queues[gpu.QueueGraphics].handle)
	b.immCmd = b.CommandPoolAllocate(b.immPool)
	b.immFence = b.FenceCreate()
	slog.Info("vkgpu: device created", "gpu", vk.ToString(b.props.DeviceName[:]))
	return b, nil
}

func (b *Backend) newID() uint64 {
	return b.nextID.Add(1)
}

func (b *Backend) initInstance() error {
	exts := append([]string(nil), b.opts.InstanceExtensions...)
	var layers []string
	if b.opts.Debug {
		layers = append(layers, "VK_LAYER_KHRONOS_validation\x00")
	}
	for i, e := range exts {
		exts[i] = safeString(e)
	}
	var inst vk.Instance
	err := NewError(vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(vk.MakeVersion(1, 2, 0)),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   "lumen\x00",
			PEngineName:        "lumen\x00",
		},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &inst))
	if err != nil {
		return err
	}
	b.instance = inst
	return vk.InitInstance(inst)
}

func (b *Backend) initDevice() error {
	var count uint32
	if err := NewError(vk.EnumeratePhysicalDevices(b.instance, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return errors.New("vulkan error: no GPU devices found")
	}
	gpus := make([]vk.PhysicalDevice, count)
	if err := NewError(vk.EnumeratePhysicalDevices(b.instance, &count, gpus)); err != nil {
		return err
	}
	for _, pd := range gpus {
		if fam, ok := graphicsFamily(pd, b.opts.Surface); ok {
			b.physical = pd
			b.queueFamily = fam
			break
		}
	}
	if b.physical == nil {
		return errors.New("vulkan error: no GPU with a graphics queue found")
	}
	vk.GetPhysicalDeviceProperties(b.physical, &b.props)
	b.props.Deref()
	b.props.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(b.physical, &b.memoryProps)
	b.memoryProps.Deref()

	var exts []string
	if b.opts.Surface != nil {
		exts = append(exts, "VK_KHR_swapchain\x00")
	}
	var dev vk.Device
	err := NewError(vk.CreateDevice(b.physical, &vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: b.queueFamily,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy: vk.True,
		}},
	}, nil, &dev))
	if err != nil {
		return err
	}
	b.device = dev
	return nil
}

// graphicsFamily returns the first queue family of pd supporting
// graphics, and presentation to surface if it is non-nil.
func graphicsFamily(pd vk.PhysicalDevice, surface vk.Surface) (uint32, bool) {
	var n uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &n, nil)
	props := make([]vk.QueueFamilyProperties, n)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &n, props)
	for i := range n {
		props[i].Deref()
		if props[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			continue
		}
		if surface != nil {
			var present vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(pd, i, surface, &present)
			if present != vk.True {
				continue
			}
		}
		return i, true
	}
	return 0, false
}

func safeString(s string) string {
	if len(s) > 0 && s[len(s)-1] == 0 {
		return s
	}
	return s + "\x00"
}

func (b *Backend) DeviceWait() {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	vk.DeviceWaitIdle(b.device)
}

// Shutdown waits for the device and destroys it. Leaked resources
// are logged, and destroyed with the device.
func (b *Backend) Shutdown() {
	if b.device == nil {
		return
	}
	b.DeviceWait()
	b.FenceFree(b.immFence)
	b.CommandPoolFree(b.immPool)
	leaks := map[string]int{
		"buffers":     len(b.buffers),
		"images":      len(b.images),
		"samplers":    len(b.samplers),
		"shaders":     len(b.shaders),
		"pipelines":   len(b.pipelines),
		"uniformSets": len(b.sets),
		"fences":      len(b.fences),
		"semaphores":  len(b.semaphores),
		"swapchains":  len(b.swapchains),
		"pools":       len(b.pools),
	}
	for kind, n := range leaks {
		if n > 0 {
			slog.Warn("vkgpu: resources leaked at shutdown", "kind", kind, "count", n)
		}
	}
	for _, fb := range b.framebuffers {
		vk.DestroyFramebuffer(b.device, fb, nil)
	}
	for _, rp := range b.renderPasses {
		vk.DestroyRenderPass(b.device, rp, nil)
	}
	b.descriptors.DestroyPools()
	b.small.Release()
	vk.DestroyDevice(b.device, nil)
	vk.DestroyInstance(b.instance, nil)
	b.device = nil
}
