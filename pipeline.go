package rhi

import "sync/atomic"

// PipelineType discriminates the pipeline families.
type PipelineType int

const (
	// PipelineRender is a raster render pipeline.
	PipelineRender PipelineType = iota

	// PipelineCompute is a compute pipeline.
	PipelineCompute

	// PipelineRayTracing is a ray tracing pipeline.
	PipelineRayTracing
)

// String returns the pipeline type name for diagnostics.
func (t PipelineType) String() string {
	switch t {
	case PipelineCompute:
		return "compute"
	case PipelineRayTracing:
		return "ray-tracing"
	default:
		return "render"
	}
}

// Pipeline is a render, compute or ray tracing pipeline.
//
// A pipeline is either concrete, carrying a backend pipeline object ready to
// bind, or virtual: created from a specializable program, holding no backend
// state, and resolved to a concrete pipeline per shader object tree through
// Device.ConcretePipeline.
type Pipeline interface {
	// Type returns the pipeline family.
	Type() PipelineType

	// Program returns the shader program the pipeline was created from.
	Program() *ShaderProgram

	// IsVirtual reports whether the pipeline must be specialized before use.
	IsVirtual() bool

	// Handle returns the backend pipeline object, or nil for a virtual
	// pipeline.
	Handle() NativePipeline

	// AddRef acquires a public reference.
	AddRef()

	// Release drops a public reference.
	Release()

	pipelineID() uint64
	retain()
	release()
}

// pipelineIDs issues process-unique identity tokens. A pipeline's identity
// participates in specialization cache keys, so tokens are never reused.
var pipelineIDs atomic.Uint64

type pipelineBase struct {
	refCounted

	id      uint64
	program *ShaderProgram // owned
	handle  NativePipeline
	label   string
}

func (p *pipelineBase) initPipeline(program *ShaderProgram, handle NativePipeline, label string) {
	p.id = pipelineIDs.Add(1)
	p.program = program
	p.handle = handle
	p.label = label
	program.retain()
}

func (p *pipelineBase) destroy() {
	if p.handle != nil {
		p.handle.Destroy()
		p.handle = nil
	}
	if p.program != nil {
		p.program.release()
		p.program = nil
	}
}

func (p *pipelineBase) Program() *ShaderProgram { return p.program }
func (p *pipelineBase) Handle() NativePipeline  { return p.handle }
func (p *pipelineBase) IsVirtual() bool         { return p.handle == nil }
func (p *pipelineBase) Label() string           { return p.label }
func (p *pipelineBase) pipelineID() uint64      { return p.id }

// RenderPipelineDesc describes a render pipeline.
type RenderPipelineDesc struct {
	Label   string
	Program *ShaderProgram

	// VertexEntry and FragmentEntry index the program's entry points.
	VertexEntry   int
	FragmentEntry int

	DepthTest    bool
	BlendEnabled bool
}

// RenderPipeline is a raster pipeline. Virtual instances carry only the
// descriptor; Device.ConcretePipeline resolves them per shader object tree.
type RenderPipeline struct {
	pipelineBase
	desc RenderPipelineDesc
}

func newRenderPipeline(desc *RenderPipelineDesc, program *ShaderProgram, handle NativePipeline) *RenderPipeline {
	p := &RenderPipeline{desc: *desc}
	p.initRef(p, nil)
	p.initPipeline(program, handle, desc.Label)
	return p
}

// Type returns PipelineRender.
func (p *RenderPipeline) Type() PipelineType { return PipelineRender }

// Desc returns the creation descriptor.
func (p *RenderPipeline) Desc() RenderPipelineDesc { return p.desc }

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label   string
	Program *ShaderProgram

	// Entry indexes the program's entry points.
	Entry int
}

// ComputePipeline is a compute pipeline.
type ComputePipeline struct {
	pipelineBase
	desc ComputePipelineDesc
}

func newComputePipeline(desc *ComputePipelineDesc, program *ShaderProgram, handle NativePipeline) *ComputePipeline {
	p := &ComputePipeline{desc: *desc}
	p.initRef(p, nil)
	p.initPipeline(program, handle, desc.Label)
	return p
}

// Type returns PipelineCompute.
func (p *ComputePipeline) Type() PipelineType { return PipelineCompute }

// Desc returns the creation descriptor.
func (p *ComputePipeline) Desc() ComputePipelineDesc { return p.desc }

// HitGroup names the entry points of one ray tracing hit group. Empty names
// leave the corresponding stage unused.
type HitGroup struct {
	Name       string
	ClosestHit string
	AnyHit     string
}

// RayTracingPipelineDesc describes a ray tracing pipeline.
type RayTracingPipelineDesc struct {
	Label   string
	Program *ShaderProgram

	HitGroups []HitGroup

	// MaxRecursion bounds recursive trace calls.
	MaxRecursion int

	// MaxRayPayloadSize is the largest ray payload, in bytes.
	MaxRayPayloadSize int
}

// RayTracingPipeline is a ray tracing pipeline. Shader tables resolve their
// records against it.
type RayTracingPipeline struct {
	pipelineBase
	desc RayTracingPipelineDesc
}

func newRayTracingPipeline(desc *RayTracingPipelineDesc, program *ShaderProgram, handle NativePipeline) *RayTracingPipeline {
	p := &RayTracingPipeline{desc: *desc}
	p.initRef(p, nil)
	p.initPipeline(program, handle, desc.Label)
	return p
}

// Type returns PipelineRayTracing.
func (p *RayTracingPipeline) Type() PipelineType { return PipelineRayTracing }

// Desc returns the creation descriptor.
func (p *RayTracingPipeline) Desc() RayTracingPipelineDesc { return p.desc }
