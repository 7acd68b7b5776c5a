package ecs

import (
	"fmt"
	"sync/atomic"
)

// CpuFrameData owns every CPU-side data buffer: one per archetype plus one
// single-slot buffer per resource. Buffers are identified by index and are
// never freed.
type CpuFrameData struct {
	buffers []*CpuDataBuffer
}

func NewCpuFrameData() *CpuFrameData {
	return &CpuFrameData{}
}

// NewBuffer allocates an empty strided buffer and returns its index.
func (d *CpuFrameData) NewBuffer(stride, align int) int {
	d.buffers = append(d.buffers, newCpuDataBuffer(stride, align))
	return len(d.buffers) - 1
}

func (d *CpuFrameData) BuffersLen() int {
	return len(d.buffers)
}

// Borrow takes a shared borrow of a buffer. Panics if the buffer is currently
// borrowed mutably.
func (d *CpuFrameData) Borrow(index int) *BufferRef {
	return d.buffers[index].borrowShared(index)
}

// BorrowMut takes an exclusive borrow of a buffer. Panics if the buffer is
// currently borrowed at all.
func (d *CpuFrameData) BorrowMut(index int) *BufferRefMut {
	return d.buffers[index].borrowMut(index)
}

// bufferUnchecked bypasses borrow accounting, for engine phases that own the
// data exclusively (command application, transform propagation).
func (d *CpuFrameData) bufferUnchecked(index int) *CpuDataBuffer {
	return d.buffers[index]
}

// CpuDataBuffer is a growable array of fixed-stride entries. Borrows are
// tracked at runtime: any number of readers or a single writer, with
// violations reported as panics at the borrow site.
type CpuDataBuffer struct {
	data   []byte
	stride int
	align  int
	length int
	borrow atomic.Int32 // >0 readers, -1 writer
}

func newCpuDataBuffer(stride, align int) *CpuDataBuffer {
	if stride <= 0 {
		stride = 1
	}
	if align <= 0 {
		align = 1
	}
	return &CpuDataBuffer{stride: stride, align: align}
}

func (b *CpuDataBuffer) borrowShared(index int) *BufferRef {
	for {
		c := b.borrow.Load()
		if c < 0 {
			panic(fmt.Sprintf("ecs: buffer %d already mutably borrowed", index))
		}
		if b.borrow.CompareAndSwap(c, c+1) {
			return &BufferRef{buf: b}
		}
	}
}

func (b *CpuDataBuffer) borrowMut(index int) *BufferRefMut {
	if !b.borrow.CompareAndSwap(0, -1) {
		panic(fmt.Sprintf("ecs: buffer %d already borrowed", index))
	}
	return &BufferRefMut{buf: b}
}

func (b *CpuDataBuffer) entry(index int) []byte {
	if index >= b.length {
		panic(fmt.Sprintf("ecs: buffer entry %d out of range (len %d)", index, b.length))
	}
	offset := index * b.stride
	return b.data[offset : offset+b.stride : offset+b.stride]
}

func (b *CpuDataBuffer) entryOffset(index, offset, size int) []byte {
	if index >= b.length {
		panic(fmt.Sprintf("ecs: buffer entry %d out of range (len %d)", index, b.length))
	}
	start := index*b.stride + offset
	return b.data[start : start+size : start+size]
}

func (b *CpuDataBuffer) grow() []byte {
	offset := b.length * b.stride
	b.length++

	need := b.length * b.stride
	if cap(b.data) < need {
		grown := make([]byte, need, need*2)
		copy(grown, b.data)
		b.data = grown
	} else {
		b.data = b.data[:need]
		clear(b.data[offset:need])
	}

	return b.data[offset:need:need]
}

func (b *CpuDataBuffer) swapRemove(index int) {
	if index >= b.length {
		panic(fmt.Sprintf("ecs: swap remove index %d out of range (len %d)", index, b.length))
	}

	b.length--
	last := b.length * b.stride
	if index < b.length {
		offset := index * b.stride
		copy(b.data[offset:offset+b.stride], b.data[last:last+b.stride])
	}
	b.data = b.data[:last]
}

// BufferRef is an active shared borrow of a CpuDataBuffer.
type BufferRef struct {
	buf *CpuDataBuffer
}

func (r *BufferRef) Len() int {
	return r.buf.length
}

// Entry returns the raw bytes of one stride-sized entry.
func (r *BufferRef) Entry(index int) []byte {
	return r.buf.entry(index)
}

// EntryOffset returns size bytes at a byte offset within an entry.
func (r *BufferRef) EntryOffset(index, offset, size int) []byte {
	return r.buf.entryOffset(index, offset, size)
}

// Release ends the borrow. The ref must not be used afterwards.
func (r *BufferRef) Release() {
	r.buf.borrow.Add(-1)
	r.buf = nil
}

// BufferRefMut is an active exclusive borrow of a CpuDataBuffer.
type BufferRefMut struct {
	buf *CpuDataBuffer
}

func (r *BufferRefMut) Len() int {
	return r.buf.length
}

func (r *BufferRefMut) Entry(index int) []byte {
	return r.buf.entry(index)
}

func (r *BufferRefMut) EntryOffset(index, offset, size int) []byte {
	return r.buf.entryOffset(index, offset, size)
}

// Grow appends one zeroed entry and returns its bytes for in-place writes.
func (r *BufferRefMut) Grow() []byte {
	return r.buf.grow()
}

// Write copies data into an entry at a byte offset.
func (r *BufferRefMut) Write(index, offset int, data []byte) {
	copy(r.buf.entryOffset(index, offset, len(data)), data)
}

// SwapRemove removes an entry by moving the last entry into its place. The
// caller is responsible for fixing up any index bookkeeping for the moved
// entry.
func (r *BufferRefMut) SwapRemove(index int) {
	r.buf.swapRemove(index)
}

// Release ends the borrow. The ref must not be used afterwards.
func (r *BufferRefMut) Release() {
	r.buf.borrow.Add(1)
	r.buf = nil
}

// WithResource borrows a resource's buffer slot and passes a typed pointer to
// f. The pointer is only valid for the duration of the call.
func WithResource[T any](cpu *CpuFrameData, registry *ComponentRegistry, name string, f func(*T)) error {
	index, err := resourceBufferIndex(registry, name)
	if err != nil {
		return err
	}
	buf := cpu.Borrow(index)
	defer buf.Release()
	f(ComponentAs[T](buf.Entry(0)))
	return nil
}

// WithResourceMut is WithResource with an exclusive borrow.
func WithResourceMut[T any](cpu *CpuFrameData, registry *ComponentRegistry, name string, f func(*T)) error {
	index, err := resourceBufferIndex(registry, name)
	if err != nil {
		return err
	}
	buf := cpu.BorrowMut(index)
	defer buf.Release()
	f(ComponentAs[T](buf.Entry(0)))
	return nil
}

func resourceBufferIndex(registry *ComponentRegistry, name string) (int, error) {
	_, info, ok := registry.GetByName(name)
	if !ok {
		return 0, fmt.Errorf("resource access: unknown string id %q", name)
	}
	ri, ok := info.TypeInfo.(ResourceInfo)
	if !ok {
		return 0, fmt.Errorf("resource access: %q is not a resource", name)
	}
	return ri.BufferIndex, nil
}
