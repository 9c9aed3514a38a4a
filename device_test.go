package rhi

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi/refl"
)

const testKernelWGSL = "@compute @workgroup_size(64) fn main() {}"

// specializableProgram links a program over ParameterBlock<MaterialHolder>
// with one unbound specialization parameter.
func specializableProgram(t *testing.T, dev *Device, session *refl.StaticSession, m *materialScene) *ShaderProgram {
	t.Helper()
	linked, err := session.NewProgram("shade", session.ParameterBlock(m.materialHolder), 1, testKernelWGSL,
		refl.EntryPoint{Name: "main", Stage: refl.StageCompute})
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	sp, err := dev.CreateShaderProgram(&ShaderProgramDesc{Program: linked})
	if err != nil {
		t.Fatalf("CreateShaderProgram: %v", err)
	}
	t.Cleanup(sp.Release)
	return sp
}

func concreteProgram(t *testing.T, dev *Device, session *refl.StaticSession) *ShaderProgram {
	t.Helper()
	scope := session.Scalar("f32", 4)
	linked, err := session.NewProgram("blit", scope, 0, testKernelWGSL,
		refl.EntryPoint{Name: "main", Stage: refl.StageCompute})
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	sp, err := dev.CreateShaderProgram(&ShaderProgramDesc{Program: linked})
	if err != nil {
		t.Fatalf("CreateShaderProgram: %v", err)
	}
	t.Cleanup(sp.Release)
	return sp
}

func TestNewDeviceRequiresSession(t *testing.T) {
	_, err := NewDevice(&DeviceDesc{})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("NewDevice without session: %v, want ErrInvalidArgument", err)
	}
}

func TestNewDeviceUnknownBackend(t *testing.T) {
	_, err := NewDevice(&DeviceDesc{Session: refl.NewStaticSession(), Backend: "no-such"})
	if !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("NewDevice with unknown backend: %v, want ErrNotAvailable", err)
	}
}

func TestSpecializeProgramReturnsSameInstance(t *testing.T) {
	dev, session, _ := newTestDevice(t)
	m := newMaterialScene(session)
	sp := specializableProgram(t, dev, session, m)

	var args TypeList
	args.Add(ExtendedShaderObjectType{
		Type:        m.lambert,
		ComponentID: dev.ShaderCache().ComponentIDForType(m.lambert),
	})

	first, err := dev.SpecializeProgram(sp, &args)
	if err != nil {
		t.Fatalf("SpecializeProgram: %v", err)
	}
	second, err := dev.SpecializeProgram(sp, &args)
	if err != nil {
		t.Fatalf("SpecializeProgram: %v", err)
	}
	if first != second {
		t.Fatal("equal specializations yielded distinct programs")
	}
	if first == sp {
		t.Fatal("specialization returned the base program")
	}
	if first.IsSpecializable() {
		t.Fatal("specialized program still has unbound parameters")
	}
	if first.Name() != "shade<LambertMaterial>" {
		t.Fatalf("specialized name %s", first.Name())
	}
}

func TestSpecializeProgramNoArgsPassesThrough(t *testing.T) {
	dev, session, _ := newTestDevice(t)
	sp := concreteProgram(t, dev, session)

	got, err := dev.SpecializeProgram(sp, &TypeList{})
	if err != nil {
		t.Fatalf("SpecializeProgram: %v", err)
	}
	if got != sp {
		t.Fatal("empty argument list should return the program unchanged")
	}
}

func TestConcretePipelinePassthrough(t *testing.T) {
	dev, session, backend := newTestDevice(t)
	sp := concreteProgram(t, dev, session)

	p, err := dev.CreateComputePipeline(&ComputePipelineDesc{Label: "blit", Program: sp})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	defer p.Release()
	if p.IsVirtual() {
		t.Fatal("concrete program produced a virtual pipeline")
	}
	if backend.pipelines != 1 {
		t.Fatalf("backend created %d pipelines, want 1", backend.pipelines)
	}

	got, err := dev.ConcretePipeline(p, nil)
	if err != nil {
		t.Fatalf("ConcretePipeline: %v", err)
	}
	if got != Pipeline(p) {
		t.Fatal("concrete pipeline did not pass through unchanged")
	}
	if backend.pipelines != 1 {
		t.Fatal("passthrough created a backend pipeline")
	}
}

// shadeRoot builds a finalized root object for the shade program with the
// given material attached.
func shadeRoot(t *testing.T, dev *Device, sp *ShaderProgram, m *materialScene, material *refl.Type) *ShaderObject {
	t.Helper()
	root, err := sp.CreateRootObject()
	if err != nil {
		t.Fatalf("CreateRootObject: %v", err)
	}
	t.Cleanup(root.Release)

	mat := finalizedObject(t, dev, material, nil)
	if err := root.SetObject(mustOffset(t, root.ElementTypeLayout(), "mat"), mat); err != nil {
		t.Fatalf("SetObject: %v", err)
	}
	if err := root.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return root
}

func TestConcretePipelineSpecializesAndCaches(t *testing.T) {
	dev, session, backend := newTestDevice(t)
	m := newMaterialScene(session)
	sp := specializableProgram(t, dev, session, m)

	virtual, err := dev.CreateComputePipeline(&ComputePipelineDesc{Label: "shade", Program: sp})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	defer virtual.Release()
	if !virtual.IsVirtual() {
		t.Fatal("specializable program did not produce a virtual pipeline")
	}
	if backend.pipelines != 0 {
		t.Fatal("virtual pipeline touched the backend")
	}

	rootA := shadeRoot(t, dev, sp, m, m.lambert)
	first, err := dev.ConcretePipeline(virtual, rootA)
	if err != nil {
		t.Fatalf("ConcretePipeline: %v", err)
	}
	if first.IsVirtual() {
		t.Fatal("resolved pipeline is still virtual")
	}
	if backend.pipelines != 1 {
		t.Fatalf("backend created %d pipelines, want 1", backend.pipelines)
	}
	if first.Program().Name() != "shade<LambertMaterial>" {
		t.Fatalf("resolved against %s", first.Program().Name())
	}

	// An equivalent tree reuses the cached pipeline.
	rootB := shadeRoot(t, dev, sp, m, m.lambert)
	second, err := dev.ConcretePipeline(virtual, rootB)
	if err != nil {
		t.Fatalf("ConcretePipeline: %v", err)
	}
	if second != first {
		t.Fatal("equivalent tree resolved to a different pipeline")
	}
	if backend.pipelines != 1 {
		t.Fatalf("cache miss on equivalent tree (%d pipelines)", backend.pipelines)
	}

	// A different material is a different signature.
	rootC := shadeRoot(t, dev, sp, m, m.mirror)
	third, err := dev.ConcretePipeline(virtual, rootC)
	if err != nil {
		t.Fatalf("ConcretePipeline: %v", err)
	}
	if third == first {
		t.Fatal("distinct signatures shared a pipeline")
	}
	if backend.pipelines != 2 {
		t.Fatalf("backend created %d pipelines, want 2", backend.pipelines)
	}
}

func TestConcretePipelineUnboundParameters(t *testing.T) {
	dev, session, _ := newTestDevice(t)
	m := newMaterialScene(session)
	sp := specializableProgram(t, dev, session, m)

	virtual, err := dev.CreateComputePipeline(&ComputePipelineDesc{Label: "shade", Program: sp})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}
	defer virtual.Release()

	// An empty tree binds nothing, leaving the parameter unbound.
	root, err := sp.CreateRootObject()
	if err != nil {
		t.Fatalf("CreateRootObject: %v", err)
	}
	defer root.Release()
	if err := root.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	_, err = dev.ConcretePipeline(virtual, root)
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("ConcretePipeline with unbound parameters: %v, want ErrInvalidOperation", err)
	}
}

func TestEntryPointKernelMemoized(t *testing.T) {
	dev, session, backend := newTestDevice(t)
	sp := concreteProgram(t, dev, session)

	first, err := dev.EntryPointKernel(sp, 0)
	if err != nil {
		t.Fatalf("EntryPointKernel: %v", err)
	}
	if string(first) != testKernelWGSL {
		t.Fatalf("kernel = %q", first)
	}
	if _, err := dev.EntryPointKernel(sp, 0); err != nil {
		t.Fatalf("EntryPointKernel: %v", err)
	}
	if backend.compiles != 1 {
		t.Fatalf("backend compiled %d times, want 1", backend.compiles)
	}

	if _, err := dev.EntryPointKernel(sp, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("out-of-range entry point: %v, want ErrInvalidArgument", err)
	}
}

func TestEntryPointKernelPersistentCache(t *testing.T) {
	session := refl.NewStaticSession()
	kernels := NewMemoryKernelCache(0)

	backend := &fakeBackend{}
	RegisterBackend("fake", func() Backend { return backend })
	t.Cleanup(func() { UnregisterBackend("fake") })

	newDev := func() *Device {
		dev, err := NewDevice(&DeviceDesc{Session: session, Backend: "fake", KernelCache: kernels})
		if err != nil {
			t.Fatalf("NewDevice: %v", err)
		}
		t.Cleanup(dev.Release)
		return dev
	}

	devA := newDev()
	spA := concreteProgram(t, devA, session)
	if _, err := devA.EntryPointKernel(spA, 0); err != nil {
		t.Fatalf("EntryPointKernel: %v", err)
	}
	if backend.compiles != 1 {
		t.Fatalf("backend compiled %d times, want 1", backend.compiles)
	}

	// A second device over the same persistent cache skips compilation.
	devB := newDev()
	spB := concreteProgram(t, devB, session)
	code, err := devB.EntryPointKernel(spB, 0)
	if err != nil {
		t.Fatalf("EntryPointKernel: %v", err)
	}
	if string(code) != testKernelWGSL {
		t.Fatalf("kernel = %q", code)
	}
	if backend.compiles != 1 {
		t.Fatalf("backend compiled %d times after cache hit, want 1", backend.compiles)
	}
}

func TestQueueBreaksDeviceCycle(t *testing.T) {
	session := refl.NewStaticSession()
	backend := &fakeBackend{}
	RegisterBackend("fake", func() Backend { return backend })
	t.Cleanup(func() { UnregisterBackend("fake") })

	dev, err := NewDevice(&DeviceDesc{Session: session, Backend: "fake"})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	q := dev.Queue()
	if q == nil || q.Device() != dev {
		t.Fatal("queue does not reference its device")
	}

	// Dropping the last public device handle tears the cycle down even
	// though the queue held a strong device reference.
	dev.Release()
	if dev.refs.Load() != 0 {
		t.Fatalf("device has %d references after release", dev.refs.Load())
	}
}

func TestQueueHandleKeepsDeviceAlive(t *testing.T) {
	session := refl.NewStaticSession()
	backend := &fakeBackend{}
	RegisterBackend("fake", func() Backend { return backend })
	t.Cleanup(func() { UnregisterBackend("fake") })

	dev, err := NewDevice(&DeviceDesc{Session: session, Backend: "fake"})
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	q := dev.Queue()
	q.AddRef()

	dev.Release()
	if dev.refs.Load() == 0 {
		t.Fatal("device destroyed while a queue handle is held")
	}

	q.Release()
	if dev.refs.Load() != 0 {
		t.Fatalf("device has %d references after queue release", dev.refs.Load())
	}
}
