package refl

import (
	"errors"
	"fmt"
	"strings"
)

// existentialHeaderSize is the byte size of the (type id, witness id) header
// preceding an existential value's payload. The header layout is a contract
// between the compiler and the runtime.
const existentialHeaderSize = 16

// defaultExistentialPayload is the payload capacity reserved for interface
// types declared without an explicit size.
const defaultExistentialPayload = 16

// ErrUnknownType is returned when a session is asked about a type it does
// not own.
var ErrUnknownType = errors.New("refl: unknown type")

// StaticSession is an in-memory Session over hand-registered types.
//
// It derives type layouts structurally: struct fields are laid out in
// declaration order, interface-typed fields occupy a 16-byte header plus
// their declared payload, and fields of constant buffer, parameter block,
// structured buffer or interface type produce binding ranges and sub-object
// ranges. Specialization is performed by name mangling; the specialized
// types exist only as identities, which is all the specialization caches
// consume.
//
// StaticSession is not safe for concurrent mutation. Register all types
// up front, then share it freely between devices.
type StaticSession struct {
	types   map[string]*Type
	layouts map[*Type]*TypeLayout
	dynamic *Type
}

// NewStaticSession creates an empty session with the dynamic sentinel type
// pre-registered.
func NewStaticSession() *StaticSession {
	s := &StaticSession{
		types:   make(map[string]*Type),
		layouts: make(map[*Type]*TypeLayout),
	}
	s.dynamic = s.intern(&Type{name: "__Dynamic", kind: KindInterface, payload: defaultExistentialPayload})
	return s
}

// intern registers t under its name, returning the previously registered
// type if the name is already taken.
func (s *StaticSession) intern(t *Type) *Type {
	if existing, ok := s.types[t.name]; ok {
		return existing
	}
	s.types[t.name] = t
	return t
}

// Scalar registers a plain value type of the given byte size.
func (s *StaticSession) Scalar(name string, size int) *Type {
	return s.intern(&Type{name: name, kind: KindScalar, size: size})
}

// Struct registers an aggregate type with the given fields.
func (s *StaticSession) Struct(name string, fields ...Field) *Type {
	return s.intern(&Type{name: name, kind: KindStruct, fields: fields})
}

// Interface registers an interface type with the default existential
// payload capacity.
func (s *StaticSession) Interface(name string) *Type {
	return s.InterfaceSized(name, defaultExistentialPayload)
}

// InterfaceSized registers an interface type reserving payload bytes for
// existential values of the type.
func (s *StaticSession) InterfaceSized(name string, payload int) *Type {
	return s.intern(&Type{name: name, kind: KindInterface, payload: payload})
}

// Array registers a fixed-count array type.
func (s *StaticSession) Array(elem *Type, count int) *Type {
	return s.intern(&Type{
		name:  fmt.Sprintf("%s[%d]", elem.name, count),
		kind:  KindArray,
		elem:  elem,
		count: count,
	})
}

// ConstantBuffer registers a ConstantBuffer<T> wrapper type.
func (s *StaticSession) ConstantBuffer(elem *Type) *Type {
	return s.intern(&Type{name: "ConstantBuffer<" + elem.name + ">", kind: KindConstantBuffer, elem: elem})
}

// ParameterBlock registers a ParameterBlock<T> wrapper type.
func (s *StaticSession) ParameterBlock(elem *Type) *Type {
	return s.intern(&Type{name: "ParameterBlock<" + elem.name + ">", kind: KindParameterBlock, elem: elem})
}

// StructuredBuffer registers a read-only StructuredBuffer<T> resource type.
func (s *StaticSession) StructuredBuffer(elem *Type) *Type {
	return s.intern(&Type{
		name:  "StructuredBuffer<" + elem.name + ">",
		kind:  KindResource,
		shape: ShapeStructuredBuffer,
		elem:  elem,
	})
}

// RWStructuredBuffer registers a read-write RWStructuredBuffer<T> resource
// type.
func (s *StaticSession) RWStructuredBuffer(elem *Type) *Type {
	return s.intern(&Type{
		name:    "RWStructuredBuffer<" + elem.name + ">",
		kind:    KindResource,
		shape:   ShapeStructuredBuffer,
		elem:    elem,
		mutable: true,
	})
}

// TypeByName implements Session.
func (s *StaticSession) TypeByName(name string) (*Type, bool) {
	t, ok := s.types[name]
	return t, ok
}

// DynamicType implements Session.
func (s *StaticSession) DynamicType() *Type { return s.dynamic }

// SpecializeType implements Session. The specialized type shares the base
// type's structure under a mangled name.
func (s *StaticSession) SpecializeType(base *Type, args []*Type) (*Type, error) {
	if base == nil {
		return nil, ErrUnknownType
	}
	if len(args) == 0 {
		return base, nil
	}
	t := *base
	t.name = mangle(base.name, args)
	t.base = base
	t.args = append([]*Type(nil), args...)
	return s.intern(&t), nil
}

func mangle(base string, args []*Type) string {
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = a.name
	}
	return base + "<" + strings.Join(names, ",") + ">"
}

// TypeLayout implements Session. Layouts are computed once per type and
// interned, so the returned pointer is a stable identity token.
func (s *StaticSession) TypeLayout(t *Type) (*TypeLayout, error) {
	if t == nil {
		return nil, ErrUnknownType
	}
	if l, ok := s.layouts[t]; ok {
		return l, nil
	}
	l, err := s.computeLayout(t)
	if err != nil {
		return nil, err
	}
	s.layouts[t] = l
	return l, nil
}

func (s *StaticSession) computeLayout(t *Type) (*TypeLayout, error) {
	l := &TypeLayout{typ: t}
	switch t.kind {
	case KindScalar, KindVector:
		l.size = t.size
		l.stride = t.size

	case KindInterface:
		l.size = existentialHeaderSize + t.payload
		l.stride = l.size

	case KindStruct:
		if err := s.layoutStruct(t, l); err != nil {
			return nil, err
		}

	case KindArray:
		elem, err := s.TypeLayout(t.elem)
		if err != nil {
			return nil, err
		}
		l.elem = elem
		l.stride = elem.stride
		l.size = t.count * elem.stride

	case KindConstantBuffer, KindParameterBlock:
		elem, err := s.TypeLayout(t.elem)
		if err != nil {
			return nil, err
		}
		l.elem = elem

	case KindResource:
		if t.elem != nil {
			elem, err := s.TypeLayout(t.elem)
			if err != nil {
				return nil, err
			}
			l.elem = elem
			l.stride = elem.stride
		}

	default:
		return nil, fmt.Errorf("refl: cannot lay out type %q of kind %s", t.name, t.kind)
	}
	return l, nil
}

// layoutStruct lays out fields in declaration order. Plain fields pack into
// ordinary data with 4-byte alignment; sub-object fields produce binding
// ranges and consume sub-object slots.
func (s *StaticSession) layoutStruct(t *Type, l *TypeLayout) error {
	cur := 0
	for _, f := range t.fields {
		ft := f.Type
		fl, err := s.TypeLayout(ft)
		if err != nil {
			return err
		}

		switch {
		case ft.kind == KindInterface:
			cur = align(cur, 8)
			l.addSubObjectField(f.Name, BindingRange{
				Binding:       BindingExistentialValue,
				Count:         1,
				Leaf:          fl,
				UniformOffset: cur,
			}, cur)
			cur += fl.size

		case ft.kind == KindConstantBuffer || ft.kind == KindParameterBlock:
			binding := BindingConstantBuffer
			if ft.kind == KindParameterBlock {
				binding = BindingParameterBlock
			}
			l.addSubObjectField(f.Name, BindingRange{
				Binding:       binding,
				Count:         1,
				Specializable: ft.elem.kind == KindInterface,
				Leaf:          fl,
			}, 0)

		case ft.kind == KindResource && ft.shape == ShapeStructuredBuffer:
			binding := BindingRawBuffer
			if ft.mutable {
				binding = BindingMutableRawBuffer
			}
			l.addSubObjectField(f.Name, BindingRange{
				Binding:       binding,
				Count:         1,
				Specializable: ft.elem != nil && ft.elem.kind == KindInterface,
				Leaf:          fl,
			}, 0)

		case ft.kind == KindResource:
			binding := BindingTexture
			if ft.shape == ShapeSampler {
				binding = BindingSampler
			}
			l.fields = append(l.fields, FieldLayout{Name: f.Name, Offset: Offset{
				BindingRange: len(l.bindingRanges),
			}})
			l.bindingRanges = append(l.bindingRanges, BindingRange{Binding: binding, Count: 1, Leaf: fl})

		case ft.kind == KindArray && isSubObjectKind(ft.elem):
			elem := ft.elem
			el := fl.elem
			binding, specializable := arrayElementBinding(elem)
			uniform := 0
			if elem.kind == KindInterface {
				cur = align(cur, 8)
				uniform = cur
				cur += ft.count * el.stride
			}
			l.addSubObjectArrayField(f.Name, BindingRange{
				Binding:       binding,
				Count:         ft.count,
				Specializable: specializable,
				Leaf:          el,
				UniformOffset: uniform,
			}, uniform)

		default:
			if fl.BindingRangeCount() > 0 {
				return fmt.Errorf("refl: field %s.%s: nested struct with bindings must be wrapped in ConstantBuffer or ParameterBlock", t.name, f.Name)
			}
			cur = align(cur, 4)
			l.fields = append(l.fields, FieldLayout{Name: f.Name, Offset: Offset{
				Uniform:      cur,
				BindingRange: -1,
			}})
			cur += fl.size
		}
	}
	l.size = cur
	l.stride = cur
	return nil
}

// addSubObjectField appends a binding range holding one sub-object plus the
// matching sub-object range and field record.
func (l *TypeLayout) addSubObjectField(name string, br BindingRange, uniform int) {
	br.SubObjectIndex = l.subObjectSlots
	l.fields = append(l.fields, FieldLayout{Name: name, Offset: Offset{
		Uniform:      uniform,
		BindingRange: len(l.bindingRanges),
	}})
	l.subObjectRanges = append(l.subObjectRanges, SubObjectRange{BindingRangeIndex: len(l.bindingRanges)})
	l.bindingRanges = append(l.bindingRanges, br)
	l.subObjectSlots += br.Count
}

// addSubObjectArrayField is addSubObjectField for array-like ranges; the
// field offset addresses element zero.
func (l *TypeLayout) addSubObjectArrayField(name string, br BindingRange, uniform int) {
	l.addSubObjectField(name, br, uniform)
}

func isSubObjectKind(t *Type) bool {
	if t == nil {
		return false
	}
	switch t.kind {
	case KindInterface, KindConstantBuffer, KindParameterBlock:
		return true
	case KindResource:
		return t.shape == ShapeStructuredBuffer
	}
	return false
}

func arrayElementBinding(elem *Type) (BindingType, bool) {
	switch elem.kind {
	case KindInterface:
		return BindingExistentialValue, false
	case KindConstantBuffer:
		return BindingConstantBuffer, elem.elem.kind == KindInterface
	case KindParameterBlock:
		return BindingParameterBlock, elem.elem.kind == KindInterface
	default:
		if elem.mutable {
			return BindingMutableRawBuffer, elem.elem != nil && elem.elem.kind == KindInterface
		}
		return BindingRawBuffer, elem.elem != nil && elem.elem.kind == KindInterface
	}
}

func align(v, to int) int {
	return (v + to - 1) &^ (to - 1)
}

// NewProgram links a program over the given global parameter scope.
// specializationParams is the number of unbound generic parameters in the
// global scope; a non-zero count marks the program specializable.
func (s *StaticSession) NewProgram(name string, globalScope *Type, specializationParams int, source string, entryPoints ...EntryPoint) (*Program, error) {
	layout, err := s.TypeLayout(globalScope)
	if err != nil {
		return nil, err
	}
	return &Program{
		Name:                 name,
		GlobalScope:          layout,
		EntryPoints:          append([]EntryPoint(nil), entryPoints...),
		SpecializationParams: specializationParams,
		Source:               source,
	}, nil
}

// SpecializeProgram implements Session. The specialized program is a fresh
// link with all parameters bound; its source carries a specialization
// banner so distinct specializations compile to distinct kernels.
func (s *StaticSession) SpecializeProgram(p *Program, args []SpecializationArg) (*Program, error) {
	types := make([]*Type, 0, len(args))
	for _, a := range args {
		if a.Kind != ArgKindType || a.Type == nil {
			return nil, fmt.Errorf("refl: program %q: unsupported specialization argument kind %d", p.Name, a.Kind)
		}
		types = append(types, a.Type)
	}
	eps := make([]EntryPoint, len(p.EntryPoints))
	for i, ep := range p.EntryPoints {
		ep.SpecializationParams = 0
		eps[i] = ep
	}
	name := p.Name
	if len(types) > 0 {
		name = mangle(p.Name, types)
	}
	return &Program{
		Name:        name,
		GlobalScope: p.GlobalScope,
		EntryPoints: eps,
		Args:        types,
		Source:      "// specialized: " + name + "\n" + p.Source,
	}, nil
}

// EntryPointSource implements Session.
func (s *StaticSession) EntryPointSource(p *Program, entryPoint int) (string, error) {
	if p.IsSpecializable() {
		return "", fmt.Errorf("refl: program %q still has unbound specialization parameters", p.Name)
	}
	if entryPoint < 0 || entryPoint >= len(p.EntryPoints) {
		return "", fmt.Errorf("refl: program %q has no entry point %d", p.Name, entryPoint)
	}
	return p.Source, nil
}
