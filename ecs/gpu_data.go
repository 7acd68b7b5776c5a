package ecs

// PartitionIndex selects an archetype's slice of a shared GPU buffer. Buffers
// not shared between archetypes always use partition 0.
type PartitionIndex = int

// GpuFrameData abstracts the GPU-side component storage. Component groupings
// from the engine config decide how an archetype's GPU-compatible components
// are split across buffers; single-buffer components share one buffer across
// all archetypes, partitioned per archetype.
//
// Implementations need no internal locking. The engine grows, shrinks, and
// writes partitions only during command application, and system reads of
// distinct entries never overlap writes.
type GpuFrameData interface {
	// NewBuffer allocates a buffer with the given entry stride and returns
	// its index. The buffer starts with a single empty partition.
	NewBuffer(stride int) int

	// AllocatePartition adds an empty partition to an existing buffer.
	AllocatePartition(bufferIndex int) PartitionIndex

	// Grow appends one zeroed entry to a partition and returns its bytes.
	Grow(bufferIndex int, partition PartitionIndex) []byte

	// SwapRemove removes an entry by moving the partition's last entry into
	// its place.
	SwapRemove(bufferIndex int, partition PartitionIndex, index int)

	Len(bufferIndex int, partition PartitionIndex) int

	// Entry returns the raw bytes of one entry.
	Entry(bufferIndex int, partition PartitionIndex, index int) []byte

	// Write copies data into an entry at a byte offset.
	Write(bufferIndex int, partition PartitionIndex, index, offset int, data []byte)
}

// BasicGpuData is an in-memory GpuFrameData, used by tests and headless
// drivers. A real renderer backs the same interface with staging buffers.
type BasicGpuData struct {
	buffers []*basicGpuBuffer
}

type basicGpuBuffer struct {
	stride     int
	partitions []*basicGpuPartition
}

type basicGpuPartition struct {
	data   []byte
	length int
}

func NewBasicGpuData() *BasicGpuData {
	return &BasicGpuData{}
}

func (g *BasicGpuData) NewBuffer(stride int) int {
	if stride <= 0 {
		stride = 1
	}
	g.buffers = append(g.buffers, &basicGpuBuffer{
		stride:     stride,
		partitions: []*basicGpuPartition{{}},
	})
	return len(g.buffers) - 1
}

func (g *BasicGpuData) AllocatePartition(bufferIndex int) PartitionIndex {
	buf := g.buffers[bufferIndex]
	buf.partitions = append(buf.partitions, &basicGpuPartition{})
	return len(buf.partitions) - 1
}

func (g *BasicGpuData) Grow(bufferIndex int, partition PartitionIndex) []byte {
	buf := g.buffers[bufferIndex]
	p := buf.partitions[partition]

	offset := p.length * buf.stride
	p.length++

	need := p.length * buf.stride
	if cap(p.data) < need {
		grown := make([]byte, need, need*2)
		copy(grown, p.data)
		p.data = grown
	} else {
		p.data = p.data[:need]
		clear(p.data[offset:need])
	}

	return p.data[offset:need:need]
}

func (g *BasicGpuData) SwapRemove(bufferIndex int, partition PartitionIndex, index int) {
	buf := g.buffers[bufferIndex]
	p := buf.partitions[partition]

	p.length--
	last := p.length * buf.stride
	if index < p.length {
		offset := index * buf.stride
		copy(p.data[offset:offset+buf.stride], p.data[last:last+buf.stride])
	}
	p.data = p.data[:last]
}

func (g *BasicGpuData) Len(bufferIndex int, partition PartitionIndex) int {
	return g.buffers[bufferIndex].partitions[partition].length
}

func (g *BasicGpuData) Entry(bufferIndex int, partition PartitionIndex, index int) []byte {
	buf := g.buffers[bufferIndex]
	p := buf.partitions[partition]
	offset := index * buf.stride
	return p.data[offset : offset+buf.stride : offset+buf.stride]
}

func (g *BasicGpuData) Write(bufferIndex int, partition PartitionIndex, index, offset int, data []byte) {
	buf := g.buffers[bufferIndex]
	p := buf.partitions[partition]
	start := index*buf.stride + offset
	copy(p.data[start:start+len(data)], data)
}
