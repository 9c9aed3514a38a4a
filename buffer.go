package rhi

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// BufferDesc describes a device buffer.
type BufferDesc struct {
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// ElementStride is the element stride for structured buffers, zero
	// otherwise.
	ElementStride uint64

	Usage gputypes.BufferUsage
}

// Buffer is a device buffer resource.
type Buffer struct {
	refCounted

	device BreakableRef[*Device]
	desc   BufferDesc
	native NativeBuffer
}

// CreateBuffer creates a buffer, optionally uploading initial data.
func (d *Device) CreateBuffer(desc *BufferDesc, data []byte) (*Buffer, error) {
	if desc == nil || desc.Size == 0 {
		return nil, fmt.Errorf("rhi: buffer descriptor with zero size: %w", ErrInvalidArgument)
	}
	if uint64(len(data)) > desc.Size {
		return nil, fmt.Errorf("rhi: %d bytes of initial data exceed %d-byte buffer: %w",
			len(data), desc.Size, ErrInvalidArgument)
	}
	native, err := d.backend.CreateBuffer(desc, data)
	if err != nil {
		return nil, fmt.Errorf("rhi: creating buffer %q: %w", desc.Label, err)
	}
	return d.wrapBuffer(desc, native), nil
}

func (d *Device) wrapBuffer(desc *BufferDesc, native NativeBuffer) *Buffer {
	b := &Buffer{desc: *desc, native: native}
	b.initRef(b, nil)
	b.device.Set(d)
	return b
}

func (b *Buffer) destroy() {
	if b.native != nil {
		b.native.Destroy()
		b.native = nil
	}
	b.device.BreakStrong()
}

// Desc returns the creation descriptor.
func (b *Buffer) Desc() BufferDesc { return b.desc }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.desc.Size }

// Native returns the backend buffer object.
func (b *Buffer) Native() NativeBuffer { return b.native }
