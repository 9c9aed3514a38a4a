package rhi

import (
	"fmt"
)

// rayGenRecordSize is the stride of a ray generation shader record in a
// shader table buffer.
const rayGenRecordSize = 64

// ShaderRecordOverwrite patches bytes of one shader record after the group
// identifier has been laid out.
type ShaderRecordOverwrite struct {
	// Offset is the byte offset within the record.
	Offset uint32

	Data []byte
}

// ShaderTableDesc describes a shader table.
type ShaderTableDesc struct {
	Label string

	RayGenNames   []string
	MissNames     []string
	HitGroupNames []string
	CallableNames []string

	// Overwrites aligns with the concatenation of the name lists above, in
	// ray generation, miss, hit group, callable order. Nil entries leave
	// the record as laid out.
	Overwrites []ShaderRecordOverwrite
}

// ShaderTable maps shader group names to records in a backend buffer. The
// name lists are fixed at creation; the buffer content depends on the
// concrete pipeline the table is used with, so one buffer is built lazily
// per pipeline and cached in insertion order.
//
// GetOrCreateBuffer and Release are not safe for concurrent use; callers
// serialize all access to a table, typically on the thread that records
// command work.
type ShaderTable struct {
	refCounted

	device BreakableRef[*Device]
	label  string

	rayGenCount   uint32
	missCount     uint32
	hitGroupCount uint32
	callableCount uint32

	groupNames []string
	overwrites []ShaderRecordOverwrite

	buffers map[*RayTracingPipeline]*Buffer
	order   []*RayTracingPipeline
}

// CreateShaderTable creates a shader table.
func (d *Device) CreateShaderTable(desc *ShaderTableDesc) (*ShaderTable, error) {
	if desc == nil {
		return nil, fmt.Errorf("rhi: nil shader table descriptor: %w", ErrInvalidArgument)
	}
	if len(desc.RayGenNames) == 0 {
		return nil, fmt.Errorf("rhi: shader table %q needs a ray generation group: %w",
			desc.Label, ErrInvalidArgument)
	}
	t := &ShaderTable{
		label:         desc.Label,
		rayGenCount:   uint32(len(desc.RayGenNames)),
		missCount:     uint32(len(desc.MissNames)),
		hitGroupCount: uint32(len(desc.HitGroupNames)),
		callableCount: uint32(len(desc.CallableNames)),
		buffers:       make(map[*RayTracingPipeline]*Buffer),
	}
	t.groupNames = append(t.groupNames, desc.RayGenNames...)
	t.groupNames = append(t.groupNames, desc.MissNames...)
	t.groupNames = append(t.groupNames, desc.HitGroupNames...)
	t.groupNames = append(t.groupNames, desc.CallableNames...)
	t.overwrites = append(t.overwrites, desc.Overwrites...)
	t.initRef(t, nil)
	t.device.Set(d)
	return t, nil
}

func (t *ShaderTable) destroy() {
	for _, p := range t.order {
		t.buffers[p].release()
		p.release()
	}
	t.buffers = nil
	t.order = nil
	t.device.BreakStrong()
}

// RayGenCount returns the number of ray generation groups.
func (t *ShaderTable) RayGenCount() uint32 { return t.rayGenCount }

// MissCount returns the number of miss groups.
func (t *ShaderTable) MissCount() uint32 { return t.missCount }

// HitGroupCount returns the number of hit groups.
func (t *ShaderTable) HitGroupCount() uint32 { return t.hitGroupCount }

// CallableCount returns the number of callable groups.
func (t *ShaderTable) CallableCount() uint32 { return t.callableCount }

// GetOrCreateBuffer returns the table's buffer for a concrete ray tracing
// pipeline, building it on first use. The returned reference is owned by
// the table. Not safe for concurrent use.
func (t *ShaderTable) GetOrCreateBuffer(pipeline *RayTracingPipeline) (*Buffer, error) {
	if pipeline == nil || pipeline.IsVirtual() {
		return nil, fmt.Errorf("rhi: shader table %q needs a concrete pipeline: %w",
			t.label, ErrInvalidArgument)
	}
	if b, ok := t.buffers[pipeline]; ok {
		return b, nil
	}
	dev := t.device.Get()
	native, err := dev.backend.CreateShaderTableBuffer(&ShaderTableBufferDesc{
		Label:         t.label,
		RayGenCount:   t.rayGenCount,
		MissCount:     t.missCount,
		HitGroupCount: t.hitGroupCount,
		CallableCount: t.callableCount,
		GroupNames:    t.groupNames,
		Overwrites:    t.overwrites,
		Pipeline:      pipeline.Handle(),
	})
	if err != nil {
		return nil, fmt.Errorf("rhi: building shader table %q: %w", t.label, err)
	}
	size := uint64(len(t.groupNames)) * rayGenRecordSize
	buf := dev.wrapBuffer(&BufferDesc{Label: t.label, Size: size}, native)
	buf.retain()
	buf.Release()

	pipeline.retain()
	t.buffers[pipeline] = buf
	t.order = append(t.order, pipeline)

	Logger().Debug("rhi: shader table buffer built",
		"table", t.label, "pipeline", pipeline.Label(), "groups", len(t.groupNames))
	return buf, nil
}
