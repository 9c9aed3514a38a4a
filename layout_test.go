package rhi

import (
	"testing"

	"github.com/gogpu/rhi/refl"
)

func TestUnwrapContainer(t *testing.T) {
	s := refl.NewStaticSession()
	f32 := s.Scalar("f32", 4)
	params := s.Struct("Params", refl.Field{Name: "x", Type: f32})

	layoutOf := func(typ *refl.Type) *refl.TypeLayout {
		t.Helper()
		l, err := s.TypeLayout(typ)
		if err != nil {
			t.Fatalf("TypeLayout(%s): %v", typ.Name(), err)
		}
		return l
	}
	paramsLayout := layoutOf(params)

	tests := []struct {
		name string
		typ  *refl.Type
		elem *refl.TypeLayout
		kind ContainerKind
	}{
		{"plain struct", params, paramsLayout, ContainerNone},
		{"array", s.Array(params, 4), paramsLayout, ContainerArray},
		{"structured buffer", s.StructuredBuffer(params), paramsLayout, ContainerStructuredBuffer},
		{"constant buffer unwraps", s.ConstantBuffer(params), paramsLayout, ContainerNone},
		{"parameter block unwraps", s.ParameterBlock(params), paramsLayout, ContainerNone},
		{"buffer inside constant buffer", s.ConstantBuffer(s.StructuredBuffer(params)), paramsLayout, ContainerStructuredBuffer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			elem, kind := unwrapContainer(layoutOf(tc.typ))
			if kind != tc.kind {
				t.Errorf("kind = %s, want %s", kind, tc.kind)
			}
			if elem != tc.elem {
				t.Errorf("element layout = %v, want layout of Params", elem.Type().Name())
			}
		})
	}
}

func TestShaderObjectLayoutCachedPerTypeLayout(t *testing.T) {
	dev, session, _ := newTestDevice(t)
	f32 := session.Scalar("f32", 4)
	params := session.Struct("Params", refl.Field{Name: "x", Type: f32})

	tl, err := session.TypeLayout(params)
	if err != nil {
		t.Fatalf("TypeLayout: %v", err)
	}

	l1 := dev.shaderObjectLayout(tl)
	l2 := dev.shaderObjectLayout(tl)
	if l1 != l2 {
		t.Fatal("layout not cached per type layout")
	}
	if l1.ComponentID() == InvalidComponentID {
		t.Fatal("layout has no interned component id")
	}
	if l1.Container() != ContainerNone {
		t.Fatalf("plain struct classified as %s", l1.Container())
	}
}
