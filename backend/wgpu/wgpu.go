// Package wgpu provides the GPU backend. Kernels are WGSL, compiled to
// SPIR-V through naga and executed through the wgpu hal on Vulkan.
//
// Importing the package registers the backend:
//
//	import _ "github.com/gogpu/rhi/backend/wgpu"
//
// By default the backend opens its own Vulkan device. Applications that
// already own a device (for example through gogpu) can share it with
// SetDeviceProvider before creating an rhi device.
package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/rhi"
)

func init() {
	rhi.RegisterBackend(rhi.BackendWGPU, func() rhi.Backend { return New() })
}

var (
	providerMu sync.RWMutex
	provider   gpucontext.DeviceProvider
)

// SetDeviceProvider shares an externally owned device with backends created
// afterwards. The provider must expose the underlying hal device via
// HalDevice() any and HalQueue() any methods. Pass nil to revert to
// standalone device creation.
func SetDeviceProvider(p gpucontext.DeviceProvider) {
	providerMu.Lock()
	provider = p
	providerMu.Unlock()
}

// Backend is the wgpu execution target.
type Backend struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// ownsDevice marks a standalone device that Close must tear down, as
	// opposed to one adopted from a DeviceProvider.
	ownsDevice bool
}

// New creates a wgpu backend.
func New() *Backend { return &Backend{} }

// Name returns "wgpu".
func (b *Backend) Name() string { return rhi.BackendWGPU }

// Init adopts the shared device if a provider is set, otherwise opens a
// standalone Vulkan device.
func (b *Backend) Init() error {
	if b.device != nil {
		return nil
	}
	providerMu.RLock()
	p := provider
	providerMu.RUnlock()
	if p != nil {
		return b.adoptDevice(p)
	}
	return b.initStandalone()
}

// adoptDevice extracts the hal device and queue from a provider exposing
// HalDevice() any and HalQueue() any.
func (b *Backend) adoptDevice(p gpucontext.DeviceProvider) error {
	hp, ok := p.(interface {
		HalDevice() any
		HalQueue() any
	})
	if !ok {
		return fmt.Errorf("wgpu: provider does not expose a hal device")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}
	b.device = device
	b.queue = queue
	b.ownsDevice = false
	return nil
}

func (b *Backend) initStandalone() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("wgpu: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("wgpu: open device: %w", err)
	}
	b.instance = instance
	b.device = openDev.Device
	b.queue = openDev.Queue
	b.ownsDevice = true
	return nil
}

// Close tears down a standalone device. Adopted devices stay with their
// owner.
func (b *Backend) Close() {
	if b.ownsDevice && b.instance != nil {
		b.instance.Destroy()
	}
	b.instance = nil
	b.device = nil
	b.queue = nil
}

// CompileKernel compiles WGSL to SPIR-V.
func (b *Backend) CompileKernel(label, source string) ([]byte, error) {
	code, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compiling %q: %w", label, err)
	}
	return code, nil
}

// spirvWords converts SPIR-V bytes to the word form hal consumes.
func spirvWords(code []byte) []uint32 {
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = uint32(code[i*4]) |
			uint32(code[i*4+1])<<8 |
			uint32(code[i*4+2])<<16 |
			uint32(code[i*4+3])<<24
	}
	return words
}

func (b *Backend) createModule(label string, code []byte) (hal.ShaderModule, error) {
	return b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: spirvWords(code)},
	})
}

// pipeline wraps the hal objects behind one rhi pipeline.
type pipeline struct {
	device hal.Device

	modules []hal.ShaderModule
	layout  hal.PipelineLayout

	compute hal.ComputePipeline
	render  hal.RenderPipeline
}

func (p *pipeline) Destroy() {
	if p.compute != nil {
		p.device.DestroyComputePipeline(p.compute)
		p.compute = nil
	}
	if p.render != nil {
		p.device.DestroyRenderPipeline(p.render)
		p.render = nil
	}
	if p.layout != nil {
		p.device.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	for i, m := range p.modules {
		p.device.DestroyShaderModule(m)
		p.modules[i] = nil
	}
	p.modules = nil
}

func (b *Backend) createEmptyLayout(label string) (hal.PipelineLayout, error) {
	return b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pl",
		BindGroupLayouts: nil,
	})
}

// CreateComputePipeline builds a hal compute pipeline from a compiled
// kernel.
func (b *Backend) CreateComputePipeline(desc *rhi.NativeComputePipelineDesc) (rhi.NativePipeline, error) {
	module, err := b.createModule(desc.Label, desc.Compute.Code)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compute module %q: %w", desc.Label, err)
	}
	p := &pipeline{device: b.device, modules: []hal.ShaderModule{module}}

	p.layout, err = b.createEmptyLayout(desc.Label)
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: pipeline layout %q: %w", desc.Label, err)
	}
	p.compute, err = b.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: desc.Compute.EntryPoint,
		},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: compute pipeline %q: %w", desc.Label, err)
	}
	return p, nil
}

// CreateRenderPipeline builds a hal render pipeline from compiled vertex and
// fragment kernels.
func (b *Backend) CreateRenderPipeline(desc *rhi.NativeRenderPipelineDesc) (rhi.NativePipeline, error) {
	vertex, err := b.createModule(desc.Label+"_vs", desc.Vertex.Code)
	if err != nil {
		return nil, fmt.Errorf("wgpu: vertex module %q: %w", desc.Label, err)
	}
	p := &pipeline{device: b.device, modules: []hal.ShaderModule{vertex}}

	fragment, err := b.createModule(desc.Label+"_fs", desc.Fragment.Code)
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: fragment module %q: %w", desc.Label, err)
	}
	p.modules = append(p.modules, fragment)

	p.layout, err = b.createEmptyLayout(desc.Label)
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: pipeline layout %q: %w", desc.Label, err)
	}

	target := gputypes.ColorTargetState{
		Format:    gputypes.TextureFormatBGRA8Unorm,
		WriteMask: gputypes.ColorWriteMaskAll,
	}
	if desc.BlendEnabled {
		blend := gputypes.BlendStatePremultiplied()
		target.Blend = &blend
	}
	var depthStencil *hal.DepthStencilState
	if desc.DepthTest {
		depthStencil = &hal.DepthStencilState{
			Format:            gputypes.TextureFormatDepth24PlusStencil8,
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionLess,
			StencilFront: hal.StencilFaceState{
				Compare:     gputypes.CompareFunctionAlways,
				FailOp:      hal.StencilOperationKeep,
				DepthFailOp: hal.StencilOperationKeep,
				PassOp:      hal.StencilOperationKeep,
			},
			StencilBack: hal.StencilFaceState{
				Compare:     gputypes.CompareFunctionAlways,
				FailOp:      hal.StencilOperationKeep,
				DepthFailOp: hal.StencilOperationKeep,
				PassOp:      hal.StencilOperationKeep,
			},
		}
	}

	p.render, err = b.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     vertex,
			EntryPoint: desc.Vertex.EntryPoint,
		},
		Fragment: &hal.FragmentState{
			Module:     fragment,
			EntryPoint: desc.Fragment.EntryPoint,
			Targets:    []gputypes.ColorTargetState{target},
		},
		DepthStencil: depthStencil,
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("wgpu: render pipeline %q: %w", desc.Label, err)
	}
	return p, nil
}

// CreateRayTracingPipeline is not supported; wgpu exposes no ray tracing.
func (b *Backend) CreateRayTracingPipeline(desc *rhi.NativeRayTracingPipelineDesc) (rhi.NativePipeline, error) {
	return nil, fmt.Errorf("wgpu: ray tracing pipeline %q not supported on this backend", desc.Label)
}

// buffer wraps a hal buffer.
type buffer struct {
	device hal.Device
	buf    hal.Buffer
}

func (b *buffer) Destroy() {
	if b.buf != nil {
		b.device.DestroyBuffer(b.buf)
		b.buf = nil
	}
}

// CreateBuffer allocates a device buffer and uploads initial data through
// the queue.
func (b *Backend) CreateBuffer(desc *rhi.BufferDesc, data []byte) (rhi.NativeBuffer, error) {
	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: buffer %q: %w", desc.Label, err)
	}
	if len(data) > 0 {
		b.queue.WriteBuffer(buf, 0, data)
	}
	return &buffer{device: b.device, buf: buf}, nil
}

// CreateShaderTableBuffer is not supported without ray tracing pipelines.
func (b *Backend) CreateShaderTableBuffer(desc *rhi.ShaderTableBufferDesc) (rhi.NativeBuffer, error) {
	return nil, fmt.Errorf("wgpu: shader table %q not supported on this backend", desc.Label)
}
