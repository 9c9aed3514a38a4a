package rhi

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/rhi/refl"
)

// existentialHeaderSize is the byte size of the (type id, witness id) header
// written in front of an interface-typed value in ordinary data.
const existentialHeaderSize = 16

// ObjectState tracks a shader object's position in its write lifecycle.
type ObjectState int

const (
	// StateInitial is the construction phase, before default sub-objects
	// exist. Unfinalized sub-objects may still be attached.
	StateInitial ObjectState = iota

	// StateInitialized accepts writes, but any sub-object attached from
	// here on must itself be finalized first.
	StateInitialized

	// StateFinalized is immutable. Every write returns ErrFinalized.
	StateFinalized
)

// String returns the state name for diagnostics.
func (s ObjectState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateInitialized:
		return "initialized"
	default:
		return "finalized"
	}
}

// ShaderObject is a runtime value of one shader parameter type: a block of
// ordinary data plus nested sub-objects for constant buffers, parameter
// blocks, interface-typed fields and buffer resources.
//
// Objects form trees. The tree as a whole carries the specialization
// signature of the shader it will be bound to; CollectSpecializationArgs
// derives that signature recursively.
//
// A ShaderObject is not safe for concurrent use.
type ShaderObject struct {
	refCounted

	device BreakableRef[*Device]
	layout *ShaderObjectLayout
	state  ObjectState

	data    []byte
	objects []*ShaderObject // owned; indexed by sub-object slot, or by element for containers

	// userArgs holds caller-provided specialization arguments per sub-object
	// slot. When set for a slot, it overrides derivation from the attached
	// object entirely.
	userArgs []*TypeList

	// containerArgs is the shared element signature of a container object,
	// merged across elements as they are written.
	containerArgs TypeList

	// cachedType memoizes the specialized type once the object is finalized
	// and therefore immutable.
	cachedType ExtendedShaderObjectType

	structuredBuffer *Buffer         // lazily created resource backing for buffer-typed objects
	bindings         map[int]*Buffer // resolved buffer bindings by binding range index

	tracked bool // device currently holds a strong reference to this object
}

func newShaderObject(device *Device, layout *ShaderObjectLayout) (*ShaderObject, error) {
	o := &ShaderObject{
		layout: layout,
		state:  StateInitial,
	}
	o.cachedType.ComponentID = InvalidComponentID
	o.initRef(o, o.onZeroPublicRefs)
	o.device.Set(device)

	el := layout.ElementTypeLayout()
	if layout.Container() == ContainerNone {
		o.data = make([]byte, el.Size())
		o.objects = make([]*ShaderObject, el.SubObjectSlotCount())
		if err := o.createDefaultSubObjects(device, el); err != nil {
			o.Release()
			return nil, err
		}
	}
	o.state = StateInitialized
	return o, nil
}

// createDefaultSubObjects populates constant-buffer and parameter-block slots
// with fresh objects of the declared element type, recursively. Interface
// element types are skipped: no concrete value exists to default to.
func (o *ShaderObject) createDefaultSubObjects(device *Device, el *refl.TypeLayout) error {
	for i := 0; i < el.BindingRangeCount(); i++ {
		br := el.BindingRange(i)
		if br.Binding != refl.BindingConstantBuffer && br.Binding != refl.BindingParameterBlock {
			continue
		}
		if br.Leaf.ElementLayout() != nil && br.Leaf.ElementLayout().Kind() == refl.KindInterface {
			continue
		}
		for j := 0; j < br.Count; j++ {
			sub, err := device.createShaderObjectFromTypeLayout(br.Leaf)
			if err != nil {
				return err
			}
			o.setSubObject(br.SubObjectIndex+j, sub)
			sub.Release()
		}
	}
	return nil
}

// onZeroPublicRefs breaks the strong reference back to the device, but only
// when the device is known to hold a strong reference to this object. See
// BreakableRef for why an unconditional break would be unsound.
func (o *ShaderObject) onZeroPublicRefs() {
	if o.tracked {
		o.device.BreakStrong()
	}
}

func (o *ShaderObject) destroy() {
	for i, sub := range o.objects {
		if sub != nil {
			sub.release()
			o.objects[i] = nil
		}
	}
	for k, b := range o.bindings {
		b.release()
		delete(o.bindings, k)
	}
	if o.structuredBuffer != nil {
		o.structuredBuffer.release()
		o.structuredBuffer = nil
	}
	o.device.BreakStrong()
}

// Layout returns the object's layout.
func (o *ShaderObject) Layout() *ShaderObjectLayout { return o.layout }

// ElementTypeLayout returns the layout of the object's element type.
func (o *ShaderObject) ElementTypeLayout() *refl.TypeLayout {
	return o.layout.ElementTypeLayout()
}

// State returns the object's lifecycle state.
func (o *ShaderObject) State() ObjectState { return o.state }

// IsFinalized reports whether the object has been finalized.
func (o *ShaderObject) IsFinalized() bool { return o.state == StateFinalized }

// Data returns the object's ordinary data. The slice aliases internal
// storage; callers must treat it as read-only.
func (o *ShaderObject) Data() []byte { return o.data }

// EntryPointCount returns the number of entry-point sub-objects. Only root
// objects have them.
func (o *ShaderObject) EntryPointCount() int { return 0 }

// EntryPoint returns the i-th entry-point sub-object, or nil.
func (o *ShaderObject) EntryPoint(int) *ShaderObject { return nil }

// SetData copies data into ordinary storage at offset.
func (o *ShaderObject) SetData(offset refl.Offset, data []byte) error {
	if o.state == StateFinalized {
		return fmt.Errorf("rhi: SetData on %s object: %w", o.typeName(), ErrFinalized)
	}
	return o.writeData(offset, data)
}

func (o *ShaderObject) writeData(offset refl.Offset, data []byte) error {
	if offset.Uniform < 0 || offset.Uniform+len(data) > len(o.data) {
		return fmt.Errorf("rhi: write of %d bytes at offset %d exceeds %d-byte object: %w",
			len(data), offset.Uniform, len(o.data), ErrInvalidArgument)
	}
	copy(o.data[offset.Uniform:], data)
	return nil
}

// GetObject returns the sub-object at offset, or nil when none is set.
func (o *ShaderObject) GetObject(offset refl.Offset) (*ShaderObject, error) {
	if o.layout.Container() != ContainerNone {
		if offset.BindingArray < 0 || offset.BindingArray >= len(o.objects) {
			return nil, fmt.Errorf("rhi: element index %d out of range: %w",
				offset.BindingArray, ErrInvalidArgument)
		}
		return o.objects[offset.BindingArray], nil
	}
	br, err := o.bindingRangeAt(offset)
	if err != nil {
		return nil, err
	}
	return o.objects[br.SubObjectIndex+offset.BindingArray], nil
}

// SetObject attaches a sub-object at offset.
//
// For container objects, offset.BindingArray selects the element index and
// offset.Uniform must be the element's byte position (index times element
// stride); the container grows to cover the index and the element's
// specialization signature is merged into the container's shared signature.
//
// For ordinary objects the binding range at offset decides the treatment:
// existential leaves get a 16-byte type header plus an inline payload copy,
// raw buffer leaves get the sub-object's buffer resource bound, and
// constant buffers and parameter blocks are attached as-is.
func (o *ShaderObject) SetObject(offset refl.Offset, sub *ShaderObject) error {
	switch o.state {
	case StateFinalized:
		return fmt.Errorf("rhi: SetObject on %s object: %w", o.typeName(), ErrFinalized)
	case StateInitialized:
		if sub != nil && !sub.IsFinalized() {
			return fmt.Errorf("rhi: attaching unfinalized sub-object to initialized %s object: %w",
				o.typeName(), ErrInvalidOperation)
		}
	}
	if sub == nil {
		return fmt.Errorf("rhi: nil sub-object: %w", ErrInvalidArgument)
	}

	if o.layout.Container() != ContainerNone {
		return o.setContainerElement(offset, sub)
	}

	br, err := o.bindingRangeAt(offset)
	if err != nil {
		return err
	}
	o.setSubObject(br.SubObjectIndex+offset.BindingArray, sub)

	switch br.Binding {
	case refl.BindingExistentialValue:
		concrete := sub.ElementTypeLayout()
		existential := br.Leaf
		if err := o.writeExistentialHeader(existential.Type(), concrete.Type(), offset); err != nil {
			return err
		}
		if concrete.Size() > existential.Size()-existentialHeaderSize {
			return fmt.Errorf("rhi: %s (%d bytes) exceeds the %d-byte payload of existential %s: %w",
				concrete.Type().Name(), concrete.Size(),
				existential.Size()-existentialHeaderSize, existential.Type().Name(),
				ErrNotImplemented)
		}
		payload := offset
		payload.Uniform += existentialHeaderSize
		if err := o.writeData(payload, sub.data); err != nil {
			return err
		}

	case refl.BindingRawBuffer, refl.BindingMutableRawBuffer:
		buf, err := sub.bufferResource(o.deviceRef(), br.Binding)
		if err != nil {
			return err
		}
		if buf != nil {
			o.setBufferBinding(offset.BindingRange, buf)
		}
	}
	return nil
}

func (o *ShaderObject) setContainerElement(offset refl.Offset, sub *ShaderObject) error {
	el := o.layout.ElementTypeLayout()
	if offset.BindingArray < 0 {
		return fmt.Errorf("rhi: negative element index: %w", ErrInvalidArgument)
	}
	if offset.BindingArray >= len(o.objects) {
		count := offset.BindingArray + 1
		grown := make([]*ShaderObject, count)
		copy(grown, o.objects)
		o.objects = grown

		data := make([]byte, count*el.Stride())
		copy(data, o.data)
		o.data = data
	}
	o.setSubObject(offset.BindingArray, sub)

	var args TypeList
	payload := offset
	if el.Kind() == refl.KindInterface {
		concrete, err := sub.SpecializedType()
		if err != nil {
			return err
		}
		if err := o.writeExistentialHeader(el.Type(), concrete.Type, offset); err != nil {
			return err
		}
		payload.Uniform += existentialHeaderSize
		args.Add(concrete)
	} else {
		if err := sub.CollectSpecializationArgs(&args); err != nil {
			return err
		}
	}
	if err := o.writeData(payload, sub.data); err != nil {
		return err
	}
	o.mergeContainerElementArgs(&args)
	return nil
}

// mergeContainerElementArgs merges one element's specialization signature
// into the container's shared signature. The first element establishes the
// signature; later elements that disagree at a position demote that position
// to the dynamic-dispatch sentinel.
func (o *ShaderObject) mergeContainerElementArgs(args *TypeList) {
	if o.containerArgs.Count() == 0 {
		o.containerArgs.AddRange(args)
		return
	}
	n := o.containerArgs.Count()
	if args.Count() < n {
		n = args.Count()
	}
	dev := o.deviceRef()
	for i := 0; i < n; i++ {
		if o.containerArgs.At(i).ComponentID == args.At(i).ComponentID {
			continue
		}
		dyn := dev.session.DynamicType()
		o.containerArgs.setAt(i, ExtendedShaderObjectType{
			Type:        dyn,
			ComponentID: dev.shaderCache.ComponentIDForType(dyn),
		})
		Logger().Debug("rhi: container element signatures diverge, using dynamic dispatch",
			"type", o.typeName(), "position", i)
	}
}

// SetSpecializationArgs overrides the specialization arguments reported for
// the sub-object at offset. For container objects the arguments are merged
// into the shared element signature instead. Overrides always take
// precedence over derivation from the attached object.
func (o *ShaderObject) SetSpecializationArgs(offset refl.Offset, args []refl.SpecializationArg) error {
	if o.state == StateFinalized {
		return fmt.Errorf("rhi: SetSpecializationArgs on %s object: %w", o.typeName(), ErrFinalized)
	}
	list, err := o.internArgs(args)
	if err != nil {
		return err
	}
	if o.layout.Container() != ContainerNone {
		o.mergeContainerElementArgs(list)
		return nil
	}
	br, err := o.bindingRangeAt(offset)
	if err != nil {
		return err
	}
	slot := br.SubObjectIndex + offset.BindingArray
	if len(o.userArgs) <= slot {
		grown := make([]*TypeList, len(o.objects))
		copy(grown, o.userArgs)
		o.userArgs = grown
	}
	o.userArgs[slot] = list
	return nil
}

func (o *ShaderObject) internArgs(args []refl.SpecializationArg) (*TypeList, error) {
	dev := o.deviceRef()
	list := &TypeList{}
	for _, a := range args {
		if a.Kind != refl.ArgKindType || a.Type == nil {
			return nil, fmt.Errorf("rhi: specialization argument must be a type: %w", ErrInvalidArgument)
		}
		list.Add(ExtendedShaderObjectType{
			Type:        a.Type,
			ComponentID: dev.shaderCache.ComponentIDForType(a.Type),
		})
	}
	return list, nil
}

// CollectSpecializationArgs appends the object's specialization signature to
// args: the shared element signature for containers, otherwise a walk over
// the sub-object ranges in layout order. User overrides win over derivation;
// interface-typed leaves contribute the attached object's specialized type;
// constant buffers, parameter blocks and raw buffers contribute their own
// specialized type when the range is specializable and always recurse.
// When elements of an array range disagree at a signature position, the
// position degrades to the dynamic-dispatch sentinel.
func (o *ShaderObject) CollectSpecializationArgs(args *TypeList) error {
	if o.layout.Container() != ContainerNone {
		args.AddRange(&o.containerArgs)
		return nil
	}
	el := o.layout.ElementTypeLayout()
	for _, sor := range el.SubObjectRanges() {
		br := el.BindingRange(sor.BindingRangeIndex)
		before := args.Count()
		for j := 0; j < br.Count; j++ {
			slot := br.SubObjectIndex + j
			sub := o.objects[slot]
			if sub == nil {
				continue
			}
			if slot < len(o.userArgs) && o.userArgs[slot] != nil {
				args.AddRange(o.userArgs[slot])
				continue
			}
			var elemArgs TypeList
			switch br.Binding {
			case refl.BindingExistentialValue:
				st, err := sub.SpecializedType()
				if err != nil {
					return err
				}
				elemArgs.Add(st)
			case refl.BindingConstantBuffer, refl.BindingParameterBlock,
				refl.BindingRawBuffer, refl.BindingMutableRawBuffer:
				if br.Specializable {
					st, err := sub.SpecializedType()
					if err != nil {
						return err
					}
					elemArgs.Add(st)
				}
				if err := sub.CollectSpecializationArgs(&elemArgs); err != nil {
					return err
				}
			default:
				continue
			}
			if args.Count() == before {
				args.AddRange(&elemArgs)
				continue
			}
			o.mergeRangeArgs(args, before, &elemArgs)
		}
	}
	return nil
}

// mergeRangeArgs reconciles one array element's signature against the
// signature already collected for the range, demoting mismatched positions
// to the dynamic-dispatch sentinel.
func (o *ShaderObject) mergeRangeArgs(args *TypeList, from int, elemArgs *TypeList) {
	n := args.Count() - from
	if elemArgs.Count() < n {
		n = elemArgs.Count()
	}
	dev := o.deviceRef()
	for i := 0; i < n; i++ {
		if args.At(from+i).ComponentID == elemArgs.At(i).ComponentID {
			continue
		}
		dyn := dev.session.DynamicType()
		args.setAt(from+i, ExtendedShaderObjectType{
			Type:        dyn,
			ComponentID: dev.shaderCache.ComponentIDForType(dyn),
		})
	}
}

// SpecializedType returns the object's element type with its collected
// specialization arguments bound, along with the interned identity of that
// signature. For a finalized object the result is computed once and cached.
func (o *ShaderObject) SpecializedType() (ExtendedShaderObjectType, error) {
	if o.cachedType.ComponentID != InvalidComponentID {
		return o.cachedType, nil
	}
	dev := o.deviceRef()
	base := o.layout.ElementTypeLayout().Type()

	var args TypeList
	if err := o.CollectSpecializationArgs(&args); err != nil {
		return ExtendedShaderObjectType{}, err
	}

	var ext ExtendedShaderObjectType
	if args.Count() == 0 {
		ext = ExtendedShaderObjectType{Type: base, ComponentID: o.layout.ComponentID()}
	} else {
		types := make([]*refl.Type, args.Count())
		for i := range types {
			types[i] = args.At(i).Type
		}
		spec, err := dev.session.SpecializeType(base, types)
		if err != nil {
			return ExtendedShaderObjectType{}, err
		}
		ids := make([]ComponentID, args.Count())
		copy(ids, args.ComponentIDs())
		ext = ExtendedShaderObjectType{
			Type:        spec,
			ComponentID: dev.shaderCache.ComponentID(NewComponentKey(base.Name(), ids)),
		}
	}
	if o.state == StateFinalized {
		o.cachedType = ext
	}
	return ext, nil
}

// Finalize makes the object and its sub-objects immutable. A failure midway
// leaves the tree partially finalized; callers must treat the tree as
// poisoned and discard it.
func (o *ShaderObject) Finalize() error {
	if o.state == StateFinalized {
		return fmt.Errorf("rhi: %s object already finalized: %w", o.typeName(), ErrFinalized)
	}
	for _, sub := range o.objects {
		if sub == nil || sub.IsFinalized() {
			continue
		}
		if err := sub.Finalize(); err != nil {
			return err
		}
	}
	o.state = StateFinalized
	return nil
}

// writeExistentialHeader encodes the 16-byte runtime type header at offset:
// the concrete type's component id, then the witness identity of the
// (existential, concrete) conformance, both little-endian 64-bit.
func (o *ShaderObject) writeExistentialHeader(existential, concrete *refl.Type, offset refl.Offset) error {
	if offset.Uniform < 0 || offset.Uniform+existentialHeaderSize > len(o.data) {
		return fmt.Errorf("rhi: existential header at offset %d exceeds %d-byte object: %w",
			offset.Uniform, len(o.data), ErrInvalidArgument)
	}
	cache := &o.deviceRef().shaderCache
	rtti := uint64(cache.ComponentIDForType(concrete))
	witness := uint64(cache.ComponentIDForName(existential.Name() + ":" + concrete.Name()))
	binary.LittleEndian.PutUint64(o.data[offset.Uniform:], rtti)
	binary.LittleEndian.PutUint64(o.data[offset.Uniform+8:], witness)
	return nil
}

// bufferResource returns a device buffer holding the object's ordinary data,
// creating it on first use. Objects with no data yield no buffer.
func (o *ShaderObject) bufferResource(device *Device, binding refl.BindingType) (*Buffer, error) {
	if o.structuredBuffer != nil {
		return o.structuredBuffer, nil
	}
	if len(o.data) == 0 {
		return nil, nil
	}
	usage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	if binding == refl.BindingRawBuffer {
		usage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc
	}
	buf, err := device.CreateBuffer(&BufferDesc{
		Label:         o.typeName(),
		Size:          uint64(len(o.data)),
		ElementStride: uint64(o.layout.ElementTypeLayout().Stride()),
		Usage:         usage,
	}, o.data)
	if err != nil {
		return nil, err
	}
	// The object keeps the only long-lived reference.
	o.structuredBuffer = buf
	buf.retain()
	buf.Release()
	return o.structuredBuffer, nil
}

func (o *ShaderObject) setBufferBinding(bindingRange int, b *Buffer) {
	if o.bindings == nil {
		o.bindings = make(map[int]*Buffer)
	}
	b.retain()
	if old := o.bindings[bindingRange]; old != nil {
		old.release()
	}
	o.bindings[bindingRange] = b
}

// BufferBinding returns the buffer bound at a binding range, or nil.
func (o *ShaderObject) BufferBinding(bindingRange int) *Buffer {
	return o.bindings[bindingRange]
}

func (o *ShaderObject) setSubObject(slot int, sub *ShaderObject) {
	if sub != nil {
		sub.retain()
	}
	if old := o.objects[slot]; old != nil {
		old.release()
	}
	o.objects[slot] = sub
}

func (o *ShaderObject) bindingRangeAt(offset refl.Offset) (refl.BindingRange, error) {
	el := o.layout.ElementTypeLayout()
	if offset.BindingRange < 0 || offset.BindingRange >= el.BindingRangeCount() {
		return refl.BindingRange{}, fmt.Errorf("rhi: binding range %d out of range for %s: %w",
			offset.BindingRange, o.typeName(), ErrInvalidArgument)
	}
	br := el.BindingRange(offset.BindingRange)
	if offset.BindingArray < 0 || offset.BindingArray >= br.Count {
		return refl.BindingRange{}, fmt.Errorf("rhi: array index %d out of range for %s: %w",
			offset.BindingArray, o.typeName(), ErrInvalidArgument)
	}
	return br, nil
}

func (o *ShaderObject) deviceRef() *Device { return o.device.Get() }

func (o *ShaderObject) typeName() string {
	if t := o.layout.ElementTypeLayout().Type(); t != nil {
		return t.Name()
	}
	return "?"
}
