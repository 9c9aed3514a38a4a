// Package software provides the in-process fallback backend. It executes
// nothing: kernels pass through compilation verbatim and pipeline and buffer
// objects are plain in-memory records. It backs tests and headless
// environments where no GPU backend is available.
//
// Importing the package registers the backend:
//
//	import _ "github.com/gogpu/rhi/backend/software"
package software

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/rhi"
)

func init() {
	rhi.RegisterBackend(rhi.BackendSoftware, func() rhi.Backend { return New() })
}

// Backend is the software execution target.
type Backend struct {
	initialized bool

	// Creation counters, readable by tests to observe cache behavior.
	pipelinesCreated atomic.Int64
	buffersCreated   atomic.Int64
	kernelsCompiled  atomic.Int64
}

// New creates a software backend.
func New() *Backend { return &Backend{} }

// Name returns "software".
func (b *Backend) Name() string { return rhi.BackendSoftware }

// Init prepares the backend. It cannot fail.
func (b *Backend) Init() error {
	b.initialized = true
	return nil
}

// Close releases backend resources.
func (b *Backend) Close() { b.initialized = false }

// PipelinesCreated returns the number of native pipelines created.
func (b *Backend) PipelinesCreated() int64 { return b.pipelinesCreated.Load() }

// BuffersCreated returns the number of native buffers created.
func (b *Backend) BuffersCreated() int64 { return b.buffersCreated.Load() }

// KernelsCompiled returns the number of kernels compiled.
func (b *Backend) KernelsCompiled() int64 { return b.kernelsCompiled.Load() }

// CompileKernel passes the source through unchanged.
func (b *Backend) CompileKernel(label, source string) ([]byte, error) {
	if source == "" {
		return nil, fmt.Errorf("software: empty kernel source for %q", label)
	}
	b.kernelsCompiled.Add(1)
	return []byte(source), nil
}

// Pipeline is the software pipeline object.
type Pipeline struct {
	Label     string
	Kernels   [][]byte
	destroyed bool
}

// Destroy marks the pipeline destroyed.
func (p *Pipeline) Destroy() { p.destroyed = true }

// Destroyed reports whether Destroy has run.
func (p *Pipeline) Destroyed() bool { return p.destroyed }

// CreateRenderPipeline records a render pipeline.
func (b *Backend) CreateRenderPipeline(desc *rhi.NativeRenderPipelineDesc) (rhi.NativePipeline, error) {
	if len(desc.Vertex.Code) == 0 || len(desc.Fragment.Code) == 0 {
		return nil, fmt.Errorf("software: render pipeline %q needs vertex and fragment kernels", desc.Label)
	}
	b.pipelinesCreated.Add(1)
	return &Pipeline{Label: desc.Label, Kernels: [][]byte{desc.Vertex.Code, desc.Fragment.Code}}, nil
}

// CreateComputePipeline records a compute pipeline.
func (b *Backend) CreateComputePipeline(desc *rhi.NativeComputePipelineDesc) (rhi.NativePipeline, error) {
	if len(desc.Compute.Code) == 0 {
		return nil, fmt.Errorf("software: compute pipeline %q needs a kernel", desc.Label)
	}
	b.pipelinesCreated.Add(1)
	return &Pipeline{Label: desc.Label, Kernels: [][]byte{desc.Compute.Code}}, nil
}

// CreateRayTracingPipeline records a ray tracing pipeline.
func (b *Backend) CreateRayTracingPipeline(desc *rhi.NativeRayTracingPipelineDesc) (rhi.NativePipeline, error) {
	if len(desc.Kernels) == 0 {
		return nil, fmt.Errorf("software: ray tracing pipeline %q needs kernels", desc.Label)
	}
	kernels := make([][]byte, len(desc.Kernels))
	for i, k := range desc.Kernels {
		kernels[i] = k.Code
	}
	b.pipelinesCreated.Add(1)
	return &Pipeline{Label: desc.Label, Kernels: kernels}, nil
}

// Buffer is the software buffer object.
type Buffer struct {
	Label     string
	Data      []byte
	Stride    uint64
	destroyed bool
}

// Destroy marks the buffer destroyed.
func (b *Buffer) Destroy() { b.destroyed = true }

// Destroyed reports whether Destroy has run.
func (b *Buffer) Destroyed() bool { return b.destroyed }

// CreateBuffer allocates an in-memory buffer.
func (b *Backend) CreateBuffer(desc *rhi.BufferDesc, data []byte) (rhi.NativeBuffer, error) {
	buf := &Buffer{
		Label:  desc.Label,
		Data:   make([]byte, desc.Size),
		Stride: desc.ElementStride,
	}
	copy(buf.Data, data)
	b.buffersCreated.Add(1)
	return buf, nil
}

// CreateShaderTableBuffer lays out shader records in an in-memory buffer.
// Each record starts with the group name, zero-padded to the record stride,
// then overwrites are applied.
func (b *Backend) CreateShaderTableBuffer(desc *rhi.ShaderTableBufferDesc) (rhi.NativeBuffer, error) {
	const recordSize = 64
	want := int(desc.RayGenCount + desc.MissCount + desc.HitGroupCount + desc.CallableCount)
	if len(desc.GroupNames) != want {
		return nil, fmt.Errorf("software: shader table %q has %d group names, counts say %d",
			desc.Label, len(desc.GroupNames), want)
	}
	buf := &Buffer{
		Label:  desc.Label,
		Data:   make([]byte, want*recordSize),
		Stride: recordSize,
	}
	for i, name := range desc.GroupNames {
		record := buf.Data[i*recordSize : (i+1)*recordSize]
		copy(record, name)
		if i < len(desc.Overwrites) {
			ow := desc.Overwrites[i]
			if int(ow.Offset)+len(ow.Data) <= recordSize {
				copy(record[ow.Offset:], ow.Data)
			}
		}
	}
	b.buffersCreated.Add(1)
	return buf, nil
}
