package rhi

import (
	"sync"

	"github.com/gogpu/rhi/refl"
)

// Backend names known to the registry.
const (
	// BackendWGPU executes on the GPU through wgpu.
	BackendWGPU = "wgpu"

	// BackendSoftware is the in-process fallback used for tests and
	// headless environments.
	BackendSoftware = "software"
)

// NativePipeline is a backend pipeline object.
type NativePipeline interface {
	// Destroy releases the backend object. Destroy is called at most once.
	Destroy()
}

// NativeBuffer is a backend buffer object.
type NativeBuffer interface {
	// Destroy releases the backend object. Destroy is called at most once.
	Destroy()
}

// KernelDesc hands one compiled entry-point kernel to the backend.
type KernelDesc struct {
	Label      string
	Stage      refl.Stage
	EntryPoint string

	// Code is the backend-compiled kernel, as produced by CompileKernel.
	Code []byte
}

// NativeRenderPipelineDesc describes a render pipeline to the backend.
type NativeRenderPipelineDesc struct {
	Label        string
	Vertex       KernelDesc
	Fragment     KernelDesc
	DepthTest    bool
	BlendEnabled bool
}

// NativeComputePipelineDesc describes a compute pipeline to the backend.
type NativeComputePipelineDesc struct {
	Label   string
	Compute KernelDesc
}

// NativeRayTracingPipelineDesc describes a ray tracing pipeline to the
// backend.
type NativeRayTracingPipelineDesc struct {
	Label        string
	Kernels      []KernelDesc
	HitGroups    []HitGroup
	MaxRecursion int
}

// ShaderTableBufferDesc describes a shader table buffer to the backend.
// Group names are concatenated in ray generation, miss, hit group, callable
// order; the counts partition the list.
type ShaderTableBufferDesc struct {
	Label string

	RayGenCount   uint32
	MissCount     uint32
	HitGroupCount uint32
	CallableCount uint32

	GroupNames []string

	// Overwrites patches shader record contents after identifier layout,
	// aligned with GroupNames.
	Overwrites []ShaderRecordOverwrite

	// Pipeline is the concrete ray tracing pipeline whose group handles
	// fill the records.
	Pipeline NativePipeline
}

// Backend is the device's execution target. A backend compiles entry-point
// source to its kernel format and owns the native pipeline and buffer
// objects.
type Backend interface {
	// Name returns the registry name.
	Name() string

	// Init prepares the backend for use. It is called once per device.
	Init() error

	// Close releases backend resources. Called during device teardown.
	Close()

	// CompileKernel compiles entry-point source to the backend's kernel
	// format.
	CompileKernel(label, source string) ([]byte, error)

	CreateRenderPipeline(desc *NativeRenderPipelineDesc) (NativePipeline, error)
	CreateComputePipeline(desc *NativeComputePipelineDesc) (NativePipeline, error)
	CreateRayTracingPipeline(desc *NativeRayTracingPipelineDesc) (NativePipeline, error)

	CreateBuffer(desc *BufferDesc, data []byte) (NativeBuffer, error)
	CreateShaderTableBuffer(desc *ShaderTableBufferDesc) (NativeBuffer, error)
}

// BackendFactory creates a new backend instance.
type BackendFactory func() Backend

var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
	// Priority order for backend selection (first available wins).
	backendPriority = []string{BackendWGPU, BackendSoftware}
)

// RegisterBackend registers a backend factory with the given name. This is
// typically called from init() functions in backend packages. A backend
// registered under an existing name replaces it.
func RegisterBackend(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// UnregisterBackend removes a backend from the registry. Useful for testing.
func UnregisterBackend(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// AvailableBackends returns the registered backend names.
func AvailableBackends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// GetBackend returns a backend instance by name, or nil if the name is not
// registered.
func GetBackend(name string) Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := backends[name]
	if !ok {
		return nil
	}
	return factory()
}

// DefaultBackend returns the best available backend based on priority.
// Priority order: wgpu > software. Returns nil if no backends are
// registered.
func DefaultBackend() Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range backendPriority {
		if factory, ok := backends[name]; ok {
			if b := factory(); b != nil {
				return b
			}
		}
	}
	for _, factory := range backends {
		if b := factory(); b != nil {
			return b
		}
	}
	return nil
}
