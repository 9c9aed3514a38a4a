package software

import (
	"bytes"
	"testing"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/refl"
)

func TestRegisteredInRegistry(t *testing.T) {
	b := rhi.GetBackend(rhi.BackendSoftware)
	if b == nil {
		t.Fatal("software backend not registered")
	}
	if b.Name() != rhi.BackendSoftware {
		t.Fatalf("name = %q", b.Name())
	}
}

func TestCompileKernelPassthrough(t *testing.T) {
	b := New()
	if err := b.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer b.Close()

	code, err := b.CompileKernel("k", "fn main() {}")
	if err != nil {
		t.Fatalf("CompileKernel: %v", err)
	}
	if string(code) != "fn main() {}" {
		t.Fatalf("code = %q", code)
	}
	if _, err := b.CompileKernel("k", ""); err == nil {
		t.Fatal("empty source accepted")
	}
}

func TestShaderTableRecordLayout(t *testing.T) {
	b := New()
	buf, err := b.CreateShaderTableBuffer(&rhi.ShaderTableBufferDesc{
		Label:       "table",
		RayGenCount: 1,
		MissCount:   1,
		GroupNames:  []string{"rayGen", "miss"},
		Overwrites: []rhi.ShaderRecordOverwrite{
			{Offset: 32, Data: []byte{0xAA, 0xBB}},
		},
	})
	if err != nil {
		t.Fatalf("CreateShaderTableBuffer: %v", err)
	}
	sb := buf.(*Buffer)
	if len(sb.Data) != 2*64 {
		t.Fatalf("table size = %d, want 128", len(sb.Data))
	}
	if !bytes.HasPrefix(sb.Data, []byte("rayGen")) {
		t.Error("first record does not carry its group name")
	}
	if sb.Data[32] != 0xAA || sb.Data[33] != 0xBB {
		t.Error("record overwrite not applied")
	}
	if !bytes.HasPrefix(sb.Data[64:], []byte("miss")) {
		t.Error("second record does not carry its group name")
	}

	if _, err := b.CreateShaderTableBuffer(&rhi.ShaderTableBufferDesc{
		Label:       "bad",
		RayGenCount: 2,
		GroupNames:  []string{"onlyOne"},
	}); err == nil {
		t.Fatal("mismatched group counts accepted")
	}
}

// TestEndToEndSpecialization drives the full path: device over the software
// backend, a specializable compute pipeline, and per-tree resolution.
func TestEndToEndSpecialization(t *testing.T) {
	session := refl.NewStaticSession()
	f32 := session.Scalar("f32", 4)
	iMat := session.InterfaceSized("IMaterial", 16)
	lambert := session.Struct("Lambert", refl.Field{Name: "albedo", Type: f32})
	holder := session.Struct("Holder", refl.Field{Name: "mat", Type: iMat})

	dev, err := rhi.NewDevice(&rhi.DeviceDesc{
		Session: session,
		Backend: rhi.BackendSoftware,
		Label:   "e2e",
	})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer dev.Release()

	linked, err := session.NewProgram("shade", session.ParameterBlock(holder), 1,
		"@compute @workgroup_size(64) fn main() {}",
		refl.EntryPoint{Name: "main", Stage: refl.StageCompute})
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	sp, err := dev.CreateShaderProgram(&rhi.ShaderProgramDesc{Program: linked})
	if err != nil {
		t.Fatalf("CreateShaderProgram: %v", err)
	}
	defer sp.Release()

	virtual, err := dev.CreateComputePipeline(&rhi.ComputePipelineDesc{Label: "shade", Program: sp})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	defer virtual.Release()
	if !virtual.IsVirtual() {
		t.Fatal("expected a virtual pipeline")
	}

	root, err := sp.CreateRootObject()
	if err != nil {
		t.Fatalf("CreateRootObject: %v", err)
	}
	defer root.Release()

	mat, err := dev.CreateShaderObject(lambert)
	if err != nil {
		t.Fatalf("CreateShaderObject: %v", err)
	}
	defer mat.Release()
	if err := mat.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	off, ok := root.ElementTypeLayout().FieldOffset("mat")
	if !ok {
		t.Fatal("field mat not found")
	}
	if err := root.SetObject(off, mat); err != nil {
		t.Fatalf("SetObject: %v", err)
	}
	if err := root.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	concrete, err := dev.ConcretePipeline(virtual, root)
	if err != nil {
		t.Fatalf("ConcretePipeline: %v", err)
	}
	if concrete.IsVirtual() {
		t.Fatal("resolution returned a virtual pipeline")
	}
	if concrete.Program().Name() != "shade<Lambert>" {
		t.Fatalf("resolved program %s", concrete.Program().Name())
	}

	p := concrete.Handle().(*Pipeline)
	if len(p.Kernels) != 1 || len(p.Kernels[0]) == 0 {
		t.Fatal("software pipeline carries no kernel")
	}
}
