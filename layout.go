package rhi

import (
	"github.com/gogpu/rhi/refl"
)

// ContainerKind classifies what a shader object holds: a single value, or a
// collection of elements.
type ContainerKind int

const (
	// ContainerNone marks an ordinary, single-valued shader object.
	ContainerNone ContainerKind = iota

	// ContainerArray marks a shader object representing an array of
	// elements.
	ContainerArray

	// ContainerStructuredBuffer marks a shader object representing a
	// structured buffer of elements.
	ContainerStructuredBuffer
)

// String returns the kind name for diagnostics.
func (k ContainerKind) String() string {
	switch k {
	case ContainerArray:
		return "array"
	case ContainerStructuredBuffer:
		return "structured-buffer"
	default:
		return "none"
	}
}

// ShaderObjectLayout describes the runtime layout of one shader parameter
// type: its element type layout, container classification and interned
// component identity.
//
// Layouts are created on demand and cached per reflection type layout by
// the owning device; callers hold non-owning references. The device
// reference here is deliberately weak: a ShaderObject holds a strong
// reference to the device whenever its layout might be read, so the layout
// never outlives the device's reflection session.
type ShaderObjectLayout struct {
	device        *Device
	session       refl.Session
	elementLayout *refl.TypeLayout
	componentID   ComponentID
	container     ContainerKind
}

// Device returns the owning device.
func (l *ShaderObjectLayout) Device() *Device { return l.device }

// ElementTypeLayout returns the layout of the element type: for container
// layouts, the per-element layout; otherwise the unwrapped value layout.
func (l *ShaderObjectLayout) ElementTypeLayout() *refl.TypeLayout { return l.elementLayout }

// ComponentID returns the interned identity of the element type.
func (l *ShaderObjectLayout) ComponentID() ComponentID { return l.componentID }

// Container returns the container classification.
func (l *ShaderObjectLayout) Container() ContainerKind { return l.container }

// unwrapContainer peels constant-buffer and parameter-block wrappers off a
// type layout, then classifies the result: an array descends to its element
// layout and yields ContainerArray, a structured buffer descends to its
// element layout and yields ContainerStructuredBuffer, anything else stops
// with ContainerNone. At most one container classification applies; the
// walk returns at the first one found.
func unwrapContainer(tl *refl.TypeLayout) (*refl.TypeLayout, ContainerKind) {
	for {
		if tl.Type() == nil {
			if elem := tl.ElementLayout(); elem != nil {
				tl = elem
			}
		}
		switch tl.Kind() {
		case refl.KindArray:
			return tl.ElementLayout(), ContainerArray
		case refl.KindResource:
			if tl.Type().Shape() != refl.ShapeStructuredBuffer {
				return tl, ContainerNone
			}
			return tl.ElementLayout(), ContainerStructuredBuffer
		case refl.KindConstantBuffer, refl.KindParameterBlock:
			tl = tl.ElementLayout()
		default:
			return tl, ContainerNone
		}
	}
}
