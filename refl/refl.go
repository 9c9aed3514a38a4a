// Package refl defines the reflection contract between the rhi core and a
// shading-language compiler.
//
// The compiler collaborator supplies type-layout trees (binding ranges,
// sub-object ranges, container classification, element strides) and performs
// type and program specialization. The rhi core treats it as an opaque
// service behind the Session interface; pointer identity of *Type and
// *TypeLayout values is stable for the lifetime of their Session and is used
// as a cache key throughout the core.
//
// The package also ships StaticSession, an in-memory Session over
// hand-registered types. It backs the software backend and the core's tests;
// native toolchain sessions plug in behind the same interface.
package refl

// TypeKind classifies a reflected shader type.
type TypeKind int

const (
	// KindNone is the zero TypeKind.
	KindNone TypeKind = iota

	// KindScalar is a scalar or other plain value type with a fixed byte size.
	KindScalar

	// KindVector is a vector of scalars.
	KindVector

	// KindStruct is an ordinary aggregate of named fields.
	KindStruct

	// KindArray is a fixed-count array.
	KindArray

	// KindResource is a resource type such as a structured buffer or texture.
	KindResource

	// KindConstantBuffer is a ConstantBuffer<T> wrapper.
	KindConstantBuffer

	// KindParameterBlock is a ParameterBlock<T> wrapper.
	KindParameterBlock

	// KindInterface is an interface (existential) type.
	KindInterface
)

// String returns the kind name for diagnostics.
func (k TypeKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindStruct:
		return "struct"
	case KindArray:
		return "array"
	case KindResource:
		return "resource"
	case KindConstantBuffer:
		return "constant-buffer"
	case KindParameterBlock:
		return "parameter-block"
	case KindInterface:
		return "interface"
	default:
		return "none"
	}
}

// ResourceShape classifies a KindResource type.
type ResourceShape int

const (
	// ShapeNone is the zero ResourceShape.
	ShapeNone ResourceShape = iota

	// ShapeStructuredBuffer is a structured buffer of typed elements.
	ShapeStructuredBuffer

	// ShapeTexture is a sampled texture.
	ShapeTexture

	// ShapeSampler is a sampler state.
	ShapeSampler
)

// BindingType classifies how a binding range is bound by the runtime.
type BindingType int

const (
	// BindingUnknown is the zero BindingType.
	BindingUnknown BindingType = iota

	// BindingConstantBuffer binds a nested constant buffer object.
	BindingConstantBuffer

	// BindingParameterBlock binds a nested parameter block object.
	BindingParameterBlock

	// BindingExistentialValue binds an interface-typed leaf value laid out
	// as a (type id, witness id, payload) tuple in ordinary data.
	BindingExistentialValue

	// BindingRawBuffer binds a read-only structured buffer resource.
	BindingRawBuffer

	// BindingMutableRawBuffer binds a read-write structured buffer resource.
	BindingMutableRawBuffer

	// BindingTexture binds a texture resource.
	BindingTexture

	// BindingSampler binds a sampler.
	BindingSampler
)

// Type is a reflected shader type. Types are interned by their Session, so
// two equal types are the same pointer and *Type is usable as a map key.
type Type struct {
	name    string
	kind    TypeKind
	elem    *Type // arrays, resources, wrappers
	count   int   // arrays
	shape   ResourceShape
	mutable bool // read-write resources
	fields  []Field
	size    int // ordinary data footprint in bytes
	payload int // existential payload capacity, interfaces only

	base *Type   // generic base when this is a specialized type
	args []*Type // bound specialization arguments
}

// Field is a named member of a struct type.
type Field struct {
	Name string
	Type *Type
}

// Name returns the fully qualified type name, including any bound
// specialization arguments.
func (t *Type) Name() string { return t.name }

// Kind returns the type's kind.
func (t *Type) Kind() TypeKind { return t.kind }

// Elem returns the element type of an array, resource or wrapper type,
// or nil.
func (t *Type) Elem() *Type { return t.elem }

// Count returns the element count of an array type.
func (t *Type) Count() int { return t.count }

// Shape returns the resource shape of a KindResource type.
func (t *Type) Shape() ResourceShape { return t.shape }

// Mutable reports whether a resource type is read-write.
func (t *Type) Mutable() bool { return t.mutable }

// Fields returns the struct fields, in declaration order.
func (t *Type) Fields() []Field { return t.fields }

// Base returns the generic base type when t is a specialized type, or nil.
func (t *Type) Base() *Type { return t.base }

// Args returns the bound specialization arguments when t is a specialized
// type.
func (t *Type) Args() []*Type { return t.args }

// Offset addresses a value within a shader object: a byte offset into
// ordinary data plus a binding range index and an array index within that
// range. Offsets are derived from a TypeLayout, typically via FieldOffset.
type Offset struct {
	// Uniform is the byte offset into the object's ordinary data.
	Uniform int

	// BindingRange indexes the layout's binding ranges. Negative when the
	// offset addresses plain data only.
	BindingRange int

	// BindingArray indexes an element within an array-like binding range.
	BindingArray int
}

// BindingRange describes where a run of like-typed bindings lives within a
// type layout.
type BindingRange struct {
	// Binding is how the runtime binds this range.
	Binding BindingType

	// Count is the number of consecutive bindings in the range.
	Count int

	// SubObjectIndex is the first sub-object slot owned by this range, for
	// ranges that hold sub-objects.
	SubObjectIndex int

	// Specializable reports whether binding a sub-object here contributes
	// the sub-object's specialized type as a specialization argument (for
	// example ParameterBlock<IFoo>).
	Specializable bool

	// Leaf is the type layout of the bound value.
	Leaf *TypeLayout

	// UniformOffset is the byte offset of the range's data in ordinary
	// data, for ranges with an ordinary-data footprint.
	UniformOffset int
}

// SubObjectRange identifies a binding range that holds nested shader
// objects. All fields requiring specialization surface as sub-object
// ranges, so a scan of these ranges finds every specialization argument.
type SubObjectRange struct {
	// BindingRangeIndex indexes the owning layout's binding ranges.
	BindingRangeIndex int
}

// FieldLayout records where a struct field landed in the computed layout.
type FieldLayout struct {
	Name   string
	Offset Offset
}

// TypeLayout describes the memory and binding layout of a Type. Layouts are
// interned per Session; the *TypeLayout pointer is a stable identity token
// suitable for map keys.
type TypeLayout struct {
	typ             *Type
	size            int // ordinary data size in bytes
	stride          int // element stride for containers
	elem            *TypeLayout
	bindingRanges   []BindingRange
	subObjectRanges []SubObjectRange
	fields          []FieldLayout
	subObjectSlots  int
}

// Type returns the reflected type this layout describes.
func (l *TypeLayout) Type() *Type { return l.typ }

// Kind returns the underlying type's kind.
func (l *TypeLayout) Kind() TypeKind { return l.typ.kind }

// Size returns the ordinary data size in bytes.
func (l *TypeLayout) Size() int { return l.size }

// Stride returns the element stride for array and structured buffer
// layouts.
func (l *TypeLayout) Stride() int { return l.stride }

// ElementLayout returns the element layout of an array, structured buffer
// or wrapper layout, or nil.
func (l *TypeLayout) ElementLayout() *TypeLayout { return l.elem }

// BindingRangeCount returns the number of binding ranges.
func (l *TypeLayout) BindingRangeCount() int { return len(l.bindingRanges) }

// BindingRange returns the i-th binding range.
func (l *TypeLayout) BindingRange(i int) BindingRange { return l.bindingRanges[i] }

// SubObjectRanges returns the layout's sub-object ranges.
func (l *TypeLayout) SubObjectRanges() []SubObjectRange { return l.subObjectRanges }

// SubObjectSlotCount returns the total number of sub-object slots across
// all binding ranges.
func (l *TypeLayout) SubObjectSlotCount() int { return l.subObjectSlots }

// FieldOffset returns the offset of a named struct field.
func (l *TypeLayout) FieldOffset(name string) (Offset, bool) {
	for _, f := range l.fields {
		if f.Name == name {
			return f.Offset, true
		}
	}
	return Offset{}, false
}

// SpecializationArgKind discriminates SpecializationArg values. Type
// arguments are the only kind currently defined.
type SpecializationArgKind int

const (
	// ArgKindNone is the zero SpecializationArgKind.
	ArgKindNone SpecializationArgKind = iota

	// ArgKindType is a type specialization argument.
	ArgKindType
)

// SpecializationArg is one argument to a generic type or program
// specialization.
type SpecializationArg struct {
	Kind SpecializationArgKind
	Type *Type
}

// TypeArg returns a type specialization argument.
func TypeArg(t *Type) SpecializationArg {
	return SpecializationArg{Kind: ArgKindType, Type: t}
}

// Stage identifies a shader entry point stage.
type Stage int

const (
	// StageCompute is a compute entry point.
	StageCompute Stage = iota

	// StageVertex is a vertex entry point.
	StageVertex

	// StageFragment is a fragment entry point.
	StageFragment

	// StageRayGeneration is a ray generation entry point.
	StageRayGeneration

	// StageMiss is a ray miss entry point.
	StageMiss

	// StageClosestHit is a closest-hit entry point.
	StageClosestHit

	// StageCallable is a callable entry point.
	StageCallable
)

// EntryPoint describes one entry point of a linked program.
type EntryPoint struct {
	// Name is the entry point function name.
	Name string

	// Stage is the pipeline stage the entry point executes in.
	Stage Stage

	// SpecializationParams is the number of generic parameters declared by
	// the entry point itself.
	SpecializationParams int
}

// Program is a linked, possibly generic shader program produced by a
// Session. A program with a non-zero specialization parameter count cannot
// be compiled directly; it must be specialized with concrete type arguments
// first.
type Program struct {
	// Name identifies the program, including any bound specialization
	// arguments.
	Name string

	// GlobalScope is the layout of the program's global parameter scope.
	GlobalScope *TypeLayout

	// EntryPoints lists the program's entry points.
	EntryPoints []EntryPoint

	// SpecializationParams is the number of unbound generic parameters in
	// the global scope.
	SpecializationParams int

	// Args holds the specialization arguments this program was specialized
	// with, if any.
	Args []*Type

	// Source is the target-language source the backend compiles, for
	// example WGSL for the wgpu backend.
	Source string
}

// IsSpecializable reports whether the program or any of its entry points
// still has unbound specialization parameters.
func (p *Program) IsSpecializable() bool {
	if p.SpecializationParams != 0 {
		return true
	}
	for _, ep := range p.EntryPoints {
		if ep.SpecializationParams != 0 {
			return true
		}
	}
	return false
}

// Session is the reflection and specialization service of a shading-language
// compiler. All methods are synchronous; implementations define their own
// concurrency guarantees (StaticSession is not safe for concurrent
// mutation).
type Session interface {
	// TypeByName resolves a type by its fully qualified name.
	TypeByName(name string) (*Type, bool)

	// TypeLayout returns the interned layout for a type.
	TypeLayout(t *Type) (*TypeLayout, error)

	// SpecializeType binds concrete type arguments to a generic or
	// interface-constrained base type, returning the interned specialized
	// type.
	SpecializeType(base *Type, args []*Type) (*Type, error)

	// DynamicType returns the sentinel type standing for "any type, use
	// runtime dispatch". Positions in a specialization signature that
	// cannot be specialized uniformly are replaced with it.
	DynamicType() *Type

	// SpecializeProgram binds type arguments to a generic program,
	// returning a new linked program.
	SpecializeProgram(p *Program, args []SpecializationArg) (*Program, error)

	// EntryPointSource returns compilable source for one entry point of a
	// fully specialized program.
	EntryPointSource(p *Program, entryPoint int) (string, error)
}
