package rhi

import (
	"fmt"
	"testing"

	"github.com/gogpu/rhi/refl"
)

// fakeBackend is an in-memory Backend for tests. It counts creations so
// cache behavior is observable.
type fakeBackend struct {
	pipelines int
	buffers   int
	compiles  int

	failCompile bool
}

type fakePipeline struct {
	label     string
	destroyed bool
}

func (p *fakePipeline) Destroy() { p.destroyed = true }

type fakeBuffer struct {
	label     string
	data      []byte
	destroyed bool
}

func (b *fakeBuffer) Destroy() { b.destroyed = true }

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Init() error  { return nil }
func (f *fakeBackend) Close()       {}

func (f *fakeBackend) CompileKernel(label, source string) ([]byte, error) {
	if f.failCompile {
		return nil, fmt.Errorf("fake: compile failure for %q", label)
	}
	f.compiles++
	return []byte(source), nil
}

func (f *fakeBackend) CreateRenderPipeline(desc *NativeRenderPipelineDesc) (NativePipeline, error) {
	f.pipelines++
	return &fakePipeline{label: desc.Label}, nil
}

func (f *fakeBackend) CreateComputePipeline(desc *NativeComputePipelineDesc) (NativePipeline, error) {
	f.pipelines++
	return &fakePipeline{label: desc.Label}, nil
}

func (f *fakeBackend) CreateRayTracingPipeline(desc *NativeRayTracingPipelineDesc) (NativePipeline, error) {
	f.pipelines++
	return &fakePipeline{label: desc.Label}, nil
}

func (f *fakeBackend) CreateBuffer(desc *BufferDesc, data []byte) (NativeBuffer, error) {
	f.buffers++
	b := &fakeBuffer{label: desc.Label, data: make([]byte, desc.Size)}
	copy(b.data, data)
	return b, nil
}

func (f *fakeBackend) CreateShaderTableBuffer(desc *ShaderTableBufferDesc) (NativeBuffer, error) {
	f.buffers++
	size := int(desc.RayGenCount+desc.MissCount+desc.HitGroupCount+desc.CallableCount) * rayGenRecordSize
	return &fakeBuffer{label: desc.Label, data: make([]byte, size)}, nil
}

// newTestDevice creates a device over a fresh session and fake backend.
func newTestDevice(t *testing.T) (*Device, *refl.StaticSession, *fakeBackend) {
	t.Helper()
	session := refl.NewStaticSession()
	backend := &fakeBackend{}
	RegisterBackend("fake", func() Backend { return backend })
	t.Cleanup(func() { UnregisterBackend("fake") })

	dev, err := NewDevice(&DeviceDesc{Session: session, Backend: "fake", Label: t.Name()})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	t.Cleanup(dev.Release)
	return dev, session, backend
}

// materialScene registers the type vocabulary most shader object tests use:
// an IMaterial interface with two conforming structs, and a scene struct
// mixing plain data, a constant buffer, a parameter block holding an
// existential field and a structured buffer.
type materialScene struct {
	float   *refl.Type
	iMat    *refl.Type
	lambert *refl.Type
	mirror  *refl.Type

	materialHolder *refl.Type // struct { mat IMaterial }
	sceneParams    *refl.Type // struct { exposure f32; lights CB<LightEnv>; material PB<MaterialHolder>; samples SB<f32> }
	lightEnv       *refl.Type
	globals        *refl.Type // CB<SceneParams>, typical root scope
}

func newMaterialScene(s *refl.StaticSession) *materialScene {
	m := &materialScene{}
	m.float = s.Scalar("f32", 4)
	m.iMat = s.InterfaceSized("IMaterial", 16)
	m.lambert = s.Struct("LambertMaterial", refl.Field{Name: "albedo", Type: m.float})
	m.mirror = s.Struct("MirrorMaterial",
		refl.Field{Name: "tint", Type: m.float},
		refl.Field{Name: "roughness", Type: m.float},
	)
	m.lightEnv = s.Struct("LightEnv",
		refl.Field{Name: "intensity", Type: m.float},
	)
	m.materialHolder = s.Struct("MaterialHolder",
		refl.Field{Name: "mat", Type: m.iMat},
	)
	m.sceneParams = s.Struct("SceneParams",
		refl.Field{Name: "exposure", Type: m.float},
		refl.Field{Name: "lights", Type: s.ConstantBuffer(m.lightEnv)},
		refl.Field{Name: "material", Type: s.ParameterBlock(m.materialHolder)},
		refl.Field{Name: "samples", Type: s.StructuredBuffer(m.float)},
	)
	m.globals = s.ConstantBuffer(m.sceneParams)
	return m
}

// mustOffset resolves a field offset or fails the test.
func mustOffset(t *testing.T, l *refl.TypeLayout, name string) refl.Offset {
	t.Helper()
	off, ok := l.FieldOffset(name)
	if !ok {
		t.Fatalf("field %q not found in layout of %s", name, l.Type().Name())
	}
	return off
}
