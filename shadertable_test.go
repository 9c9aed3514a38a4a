package rhi

import (
	"errors"
	"testing"

	"github.com/gogpu/rhi/refl"
)

func rayProgram(t *testing.T, dev *Device, session *refl.StaticSession) *ShaderProgram {
	t.Helper()
	linked, err := session.NewProgram("trace", session.Scalar("f32", 4), 0, testKernelWGSL,
		refl.EntryPoint{Name: "rayGen", Stage: refl.StageRayGeneration},
		refl.EntryPoint{Name: "miss", Stage: refl.StageMiss},
		refl.EntryPoint{Name: "closestHit", Stage: refl.StageClosestHit},
	)
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

func TestShaderTableRequiresRayGen(t *testing.T) {
	dev, _, _ := newTestDevice(t)

	_, err := dev.CreateShaderTable(&ShaderTableDesc{Label: "empty"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("CreateShaderTable without ray generation: %v, want ErrInvalidArgument", err)
	}
}

func TestShaderTableBufferPerPipeline(t *testing.T) {
	dev, session, backend := newTestDevice(t)
	sp := rayProgram(t, dev, session)

	table, err := dev.CreateShaderTable(&ShaderTableDesc{
		Label:         "scene",
		RayGenNames:   []string{"rayGen"},
		MissNames:     []string{"miss"},
		HitGroupNames: []string{"hitGroup"},
	})
	if err != nil {
		t.Fatalf("CreateShaderTable: %v", err)
	}
	defer table.Release()

	newPipeline := func() *RayTracingPipeline {
		p, err := dev.CreateRayTracingPipeline(&RayTracingPipelineDesc{
			Label:   "trace",
			Program: sp,
			HitGroups: []HitGroup{
				{Name: "hitGroup", ClosestHit: "closestHit"},
			},
			MaxRecursion: 1,
		})
		if err != nil {
			t.Fatalf("CreateRayTracingPipeline: %v", err)
		}
		t.Cleanup(p.Release)
		return p
	}
	pipeA := newPipeline()
	pipeB := newPipeline()
	buffersBefore := backend.buffers

	bufA, err := table.GetOrCreateBuffer(pipeA)
	if err != nil {
		t.Fatalf("GetOrCreateBuffer: %v", err)
	}
	if size := uint64(3 * rayGenRecordSize); bufA.Size() != size {
		t.Fatalf("buffer size %d, want %d", bufA.Size(), size)
	}

	again, err := table.GetOrCreateBuffer(pipeA)
	if err != nil {
		t.Fatalf("GetOrCreateBuffer: %v", err)
	}
	if again != bufA {
		t.Fatal("repeat lookup built a new buffer")
	}
	if backend.buffers != buffersBefore+1 {
		t.Fatalf("backend created %d table buffers, want 1", backend.buffers-buffersBefore)
	}

	bufB, err := table.GetOrCreateBuffer(pipeB)
	if err != nil {
		t.Fatalf("GetOrCreateBuffer: %v", err)
	}
	if bufB == bufA {
		t.Fatal("distinct pipelines shared a table buffer")
	}
	if backend.buffers != buffersBefore+2 {
		t.Fatalf("backend created %d table buffers, want 2", backend.buffers-buffersBefore)
	}
}

func TestShaderTableRejectsVirtualPipeline(t *testing.T) {
	dev, session, _ := newTestDevice(t)
	m := newMaterialScene(session)

	linked, err := session.NewProgram("traceGeneric", session.ParameterBlock(m.materialHolder), 1, testKernelWGSL,
		refl.EntryPoint{Name: "rayGen", Stage: refl.StageRayGeneration})
	if err != nil {
		t.Fatalf("NewProgram: %v", err)
	}
	sp, err := dev.CreateShaderProgram(&ShaderProgramDesc{Program: linked})
	if err != nil {
		t.Fatalf("CreateShaderProgram: %v", err)
	}
	defer sp.Release()

	virtual, err := dev.CreateRayTracingPipeline(&RayTracingPipelineDesc{Label: "trace", Program: sp})
	if err != nil {
		t.Fatalf("CreateRayTracingPipeline: %v", err)
	}
	defer virtual.Release()

	table, err := dev.CreateShaderTable(&ShaderTableDesc{
		Label:       "scene",
		RayGenNames: []string{"rayGen"},
	})
	if err != nil {
		t.Fatalf("CreateShaderTable: %v", err)
	}
	defer table.Release()

	if _, err := table.GetOrCreateBuffer(virtual); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("GetOrCreateBuffer(virtual): %v, want ErrInvalidArgument", err)
	}
}
