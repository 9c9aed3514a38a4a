package rhi

import (
	"fmt"

	"github.com/gogpu/rhi/refl"
)

// DeviceDesc describes a device to create.
type DeviceDesc struct {
	// Session is the reflection and specialization service. Required.
	Session refl.Session

	// Backend selects a registered backend by name. Empty selects the best
	// available backend by priority.
	Backend string

	// KernelCache optionally persists compiled kernels across devices and
	// processes.
	KernelCache KernelCache

	Label string
}

// Device owns the shader object, program and pipeline machinery for one
// backend instance.
//
// A Device and the objects created from it are not safe for concurrent use;
// callers serialize access. The KernelCache is the exception: implementations
// define their own concurrency guarantees.
type Device struct {
	refCounted

	session refl.Session
	backend Backend
	label   string

	shaderCache ShaderCache
	layoutCache map[*refl.TypeLayout]*ShaderObjectLayout

	// specializedPrograms caches program specializations by
	// (program name, ordered argument ids).
	specializedPrograms map[uint64][]programEntry

	kernelCache KernelCache
	queue       *Queue

	// queueHandleHeld marks the construction reference to the queue as not
	// yet surrendered.
	queueHandleHeld bool
}

type programEntry struct {
	key     ComponentKey
	program *ShaderProgram
}

// NewDevice creates a device on the selected backend.
func NewDevice(desc *DeviceDesc) (*Device, error) {
	if desc == nil || desc.Session == nil {
		return nil, fmt.Errorf("rhi: device descriptor requires a session: %w", ErrInvalidArgument)
	}
	var b Backend
	if desc.Backend != "" {
		if b = GetBackend(desc.Backend); b == nil {
			return nil, fmt.Errorf("rhi: backend %q not registered: %w", desc.Backend, ErrNotAvailable)
		}
	} else if b = DefaultBackend(); b == nil {
		return nil, fmt.Errorf("rhi: no backend available: %w", ErrNotAvailable)
	}
	if err := b.Init(); err != nil {
		return nil, fmt.Errorf("rhi: initializing %s backend: %w", b.Name(), err)
	}

	d := &Device{
		session:             desc.Session,
		backend:             b,
		label:               desc.Label,
		layoutCache:         make(map[*refl.TypeLayout]*ShaderObjectLayout),
		specializedPrograms: make(map[uint64][]programEntry),
		kernelCache:         desc.KernelCache,
	}
	d.shaderCache.init()
	d.initRef(d, d.onZeroPublicRefs)
	d.queue = newQueue(d)
	d.queue.retain()
	d.queueHandleHeld = true

	Logger().Info("rhi: device created", "backend", b.Name(), "label", desc.Label)
	return d, nil
}

// onZeroPublicRefs surrenders the construction reference to the queue once
// user code drops its last device handle. If nobody else holds the queue,
// this breaks the queue's strong reference back to the device and lets
// teardown complete; a user-held queue keeps the device alive until it is
// released.
func (d *Device) onZeroPublicRefs() {
	if d.queueHandleHeld {
		d.queueHandleHeld = false
		d.queue.Release()
	}
}

func (d *Device) destroy() {
	if d.queue != nil {
		d.queue.release()
		d.queue = nil
	}
	for _, bucket := range d.specializedPrograms {
		for _, e := range bucket {
			e.program.release()
		}
	}
	d.specializedPrograms = nil
	d.shaderCache.Free()
	d.layoutCache = nil
	d.backend.Close()
	Logger().Info("rhi: device destroyed", "backend", d.backend.Name(), "label", d.label)
}

// Session returns the device's reflection session.
func (d *Device) Session() refl.Session { return d.session }

// Backend returns the device's backend.
func (d *Device) Backend() Backend { return d.backend }

// ShaderCache returns the device's specialization cache.
func (d *Device) ShaderCache() *ShaderCache { return &d.shaderCache }

// Queue returns the device's queue.
func (d *Device) Queue() *Queue { return d.queue }

// shaderObjectLayout returns the cached runtime layout for a reflection
// layout, creating it on first use.
func (d *Device) shaderObjectLayout(tl *refl.TypeLayout) *ShaderObjectLayout {
	if l, ok := d.layoutCache[tl]; ok {
		return l
	}
	elem, container := unwrapContainer(tl)
	l := &ShaderObjectLayout{
		device:        d,
		session:       d.session,
		elementLayout: elem,
		componentID:   d.shaderCache.ComponentIDForType(elem.Type()),
		container:     container,
	}
	d.layoutCache[tl] = l
	return l
}

// CreateShaderObject creates a shader object for a reflected type. Wrapper
// types unwrap to their element: an array or structured buffer type yields a
// container object, constant buffers and parameter blocks yield an object of
// their element type.
func (d *Device) CreateShaderObject(t *refl.Type) (*ShaderObject, error) {
	if t == nil {
		return nil, fmt.Errorf("rhi: nil type: %w", ErrInvalidArgument)
	}
	tl, err := d.session.TypeLayout(t)
	if err != nil {
		return nil, fmt.Errorf("rhi: layout for %s: %w", t.Name(), err)
	}
	return d.createShaderObjectFromTypeLayout(tl)
}

func (d *Device) createShaderObjectFromTypeLayout(tl *refl.TypeLayout) (*ShaderObject, error) {
	return newShaderObject(d, d.shaderObjectLayout(tl))
}

// CreateShaderProgram wraps a linked reflection program.
func (d *Device) CreateShaderProgram(desc *ShaderProgramDesc) (*ShaderProgram, error) {
	if desc == nil || desc.Program == nil {
		return nil, fmt.Errorf("rhi: program descriptor requires a linked program: %w", ErrInvalidArgument)
	}
	return newShaderProgram(d, desc.Program, desc.Label), nil
}

// SpecializeProgram binds the collected argument signature to a program,
// caching the result by (program name, ordered argument ids). Requesting the
// same specialization twice returns the same *ShaderProgram.
func (d *Device) SpecializeProgram(program *ShaderProgram, args *TypeList) (*ShaderProgram, error) {
	if program == nil {
		return nil, fmt.Errorf("rhi: nil program: %w", ErrInvalidArgument)
	}
	if args == nil || args.Count() == 0 {
		return program, nil
	}
	ids := make([]ComponentID, args.Count())
	copy(ids, args.ComponentIDs())
	key := NewComponentKey(program.Name(), ids)

	for _, e := range d.specializedPrograms[key.hash] {
		if e.key.equal(key) {
			return e.program, nil
		}
	}

	linked, err := d.session.SpecializeProgram(program.Linked(), args.Args())
	if err != nil {
		return nil, fmt.Errorf("rhi: specializing %s: %w", program.Name(), err)
	}
	sp := newShaderProgram(d, linked, program.Label())
	d.specializedPrograms[key.hash] = append(d.specializedPrograms[key.hash],
		programEntry{key: key, program: sp})
	sp.retain()
	sp.Release()

	Logger().Debug("rhi: program specialized", "base", program.Name(), "specialized", sp.Name())
	return sp, nil
}

// ConcretePipeline resolves a pipeline for a shader object tree. Concrete
// pipelines pass through untouched. Virtual pipelines are specialized: the
// tree's signature is collected, the program is specialized against it and
// a backend pipeline is built, with both levels cached so that repeated
// binds of equivalent trees reuse the same objects. The returned reference
// is owned by the device.
func (d *Device) ConcretePipeline(p Pipeline, root *ShaderObject) (Pipeline, error) {
	if p == nil {
		return nil, fmt.Errorf("rhi: nil pipeline: %w", ErrInvalidArgument)
	}
	if !p.IsVirtual() {
		return p, nil
	}

	var args TypeList
	if root != nil {
		if err := root.CollectSpecializationArgs(&args); err != nil {
			return nil, err
		}
	}
	ids := make([]ComponentID, args.Count())
	copy(ids, args.ComponentIDs())
	key := NewPipelineKey(p, ids)

	if cached, ok := d.shaderCache.SpecializedPipeline(key); ok {
		return cached, nil
	}

	sp, err := d.SpecializeProgram(p.Program(), &args)
	if err != nil {
		return nil, err
	}
	if sp.IsSpecializable() {
		return nil, fmt.Errorf("rhi: %s still specializable after binding %d arguments: %w",
			sp.Name(), args.Count(), ErrInvalidOperation)
	}
	concrete, err := d.materializePipeline(p, sp)
	if err != nil {
		return nil, err
	}
	d.shaderCache.AddSpecializedPipeline(key, concrete)
	concrete.Release()

	Logger().Debug("rhi: pipeline specialized",
		"type", p.Type().String(), "program", sp.Name(), "args", args.Count())
	return concrete, nil
}

func (d *Device) materializePipeline(virtual Pipeline, program *ShaderProgram) (Pipeline, error) {
	switch v := virtual.(type) {
	case *RenderPipeline:
		desc := v.Desc()
		desc.Program = program
		return d.buildRenderPipeline(&desc)
	case *ComputePipeline:
		desc := v.Desc()
		desc.Program = program
		return d.buildComputePipeline(&desc)
	case *RayTracingPipeline:
		desc := v.Desc()
		desc.Program = program
		return d.buildRayTracingPipeline(&desc)
	default:
		return nil, fmt.Errorf("rhi: unknown pipeline type %s: %w", virtual.Type(), ErrInvalidArgument)
	}
}

// CreateRenderPipeline creates a render pipeline. A specializable program
// yields a virtual pipeline with no backend state; it is resolved per shader
// object tree by ConcretePipeline.
func (d *Device) CreateRenderPipeline(desc *RenderPipelineDesc) (*RenderPipeline, error) {
	if desc == nil || desc.Program == nil {
		return nil, fmt.Errorf("rhi: render pipeline requires a program: %w", ErrInvalidArgument)
	}
	if desc.Program.IsSpecializable() {
		return newRenderPipeline(desc, desc.Program, nil), nil
	}
	return d.buildRenderPipeline(desc)
}

func (d *Device) buildRenderPipeline(desc *RenderPipelineDesc) (*RenderPipeline, error) {
	vertex, err := d.entryPointKernelDesc(desc.Program, desc.VertexEntry)
	if err != nil {
		return nil, err
	}
	fragment, err := d.entryPointKernelDesc(desc.Program, desc.FragmentEntry)
	if err != nil {
		return nil, err
	}
	handle, err := d.backend.CreateRenderPipeline(&NativeRenderPipelineDesc{
		Label:        desc.Label,
		Vertex:       vertex,
		Fragment:     fragment,
		DepthTest:    desc.DepthTest,
		BlendEnabled: desc.BlendEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: creating render pipeline %q: %w", desc.Label, err)
	}
	return newRenderPipeline(desc, desc.Program, handle), nil
}

// CreateComputePipeline creates a compute pipeline, virtual when the program
// is specializable.
func (d *Device) CreateComputePipeline(desc *ComputePipelineDesc) (*ComputePipeline, error) {
	if desc == nil || desc.Program == nil {
		return nil, fmt.Errorf("rhi: compute pipeline requires a program: %w", ErrInvalidArgument)
	}
	if desc.Program.IsSpecializable() {
		return newComputePipeline(desc, desc.Program, nil), nil
	}
	return d.buildComputePipeline(desc)
}

func (d *Device) buildComputePipeline(desc *ComputePipelineDesc) (*ComputePipeline, error) {
	compute, err := d.entryPointKernelDesc(desc.Program, desc.Entry)
	if err != nil {
		return nil, err
	}
	handle, err := d.backend.CreateComputePipeline(&NativeComputePipelineDesc{
		Label:   desc.Label,
		Compute: compute,
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: creating compute pipeline %q: %w", desc.Label, err)
	}
	return newComputePipeline(desc, desc.Program, handle), nil
}

// CreateRayTracingPipeline creates a ray tracing pipeline, virtual when the
// program is specializable.
func (d *Device) CreateRayTracingPipeline(desc *RayTracingPipelineDesc) (*RayTracingPipeline, error) {
	if desc == nil || desc.Program == nil {
		return nil, fmt.Errorf("rhi: ray tracing pipeline requires a program: %w", ErrInvalidArgument)
	}
	if desc.Program.IsSpecializable() {
		return newRayTracingPipeline(desc, desc.Program, nil), nil
	}
	return d.buildRayTracingPipeline(desc)
}

func (d *Device) buildRayTracingPipeline(desc *RayTracingPipelineDesc) (*RayTracingPipeline, error) {
	eps := desc.Program.Linked().EntryPoints
	kernels := make([]KernelDesc, 0, len(eps))
	for i := range eps {
		kd, err := d.entryPointKernelDesc(desc.Program, i)
		if err != nil {
			return nil, err
		}
		kernels = append(kernels, kd)
	}
	handle, err := d.backend.CreateRayTracingPipeline(&NativeRayTracingPipelineDesc{
		Label:        desc.Label,
		Kernels:      kernels,
		HitGroups:    desc.HitGroups,
		MaxRecursion: desc.MaxRecursion,
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: creating ray tracing pipeline %q: %w", desc.Label, err)
	}
	return newRayTracingPipeline(desc, desc.Program, handle), nil
}

func (d *Device) entryPointKernelDesc(program *ShaderProgram, entry int) (KernelDesc, error) {
	code, err := d.EntryPointKernel(program, entry)
	if err != nil {
		return KernelDesc{}, err
	}
	ep := program.Linked().EntryPoints[entry]
	return KernelDesc{
		Label:      program.Label(),
		Stage:      ep.Stage,
		EntryPoint: ep.Name,
		Code:       code,
	}, nil
}

// EntryPointKernel compiles one entry point of a fully specialized program
// to the backend's kernel format. Results are memoized on the program and,
// when a KernelCache is configured, persisted under a
// (program, entry point, target) key.
func (d *Device) EntryPointKernel(program *ShaderProgram, entry int) ([]byte, error) {
	if program == nil {
		return nil, fmt.Errorf("rhi: nil program: %w", ErrInvalidArgument)
	}
	if entry < 0 || entry >= len(program.Linked().EntryPoints) {
		return nil, fmt.Errorf("rhi: entry point %d out of range for %s: %w",
			entry, program.Name(), ErrInvalidArgument)
	}
	if code, ok := program.kernels[entry]; ok {
		return code, nil
	}

	key := KernelKey{Program: program.Name(), EntryPoint: entry, Target: d.backend.Name()}
	if d.kernelCache != nil {
		if code, ok := d.kernelCache.Kernel(key); ok {
			Logger().Debug("rhi: kernel cache hit", "program", program.Name(), "entry", entry)
			if program.kernels == nil {
				program.kernels = make(map[int][]byte)
			}
			program.kernels[entry] = code
			return code, nil
		}
	}

	src, err := d.session.EntryPointSource(program.Linked(), entry)
	if err != nil {
		return nil, fmt.Errorf("rhi: source for %s entry %d: %w", program.Name(), entry, err)
	}
	code, err := d.backend.CompileKernel(program.Label(), src)
	if err != nil {
		return nil, fmt.Errorf("rhi: compiling %s entry %d: %w", program.Name(), entry, err)
	}

	if program.kernels == nil {
		program.kernels = make(map[int][]byte)
	}
	program.kernels[entry] = code
	if d.kernelCache != nil {
		if err := d.kernelCache.Store(key, code); err != nil {
			Logger().Warn("rhi: kernel cache store failed",
				"program", program.Name(), "entry", entry, "error", err)
		}
	}
	return code, nil
}

// Queue submits work to the device. The device creates its queue at
// initialization and keeps a strong reference to it for its whole lifetime,
// while the queue holds a strong reference back to the device; the cycle is
// broken from the queue side when user code drops its last public queue
// reference.
type Queue struct {
	refCounted

	device BreakableRef[*Device]
}

func newQueue(d *Device) *Queue {
	q := &Queue{}
	q.initRef(q, q.onZeroPublicRefs)
	q.device.Set(d)
	return q
}

func (q *Queue) onZeroPublicRefs() { q.device.BreakStrong() }

func (q *Queue) destroy() { q.device.BreakStrong() }

// Device returns the owning device.
func (q *Queue) Device() *Device { return q.device.Get() }
