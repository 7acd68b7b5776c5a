package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vague-archive/engine-sub000/ecs"
)

func TestCpuBufferGrowAndRead(t *testing.T) {
	cpu := ecs.NewCpuFrameData()
	index := cpu.NewBuffer(8, 4)
	assert.Equal(t, 1, cpu.BuffersLen())

	buf := cpu.BorrowMut(index)
	entry := buf.Grow()
	require.Len(t, entry, 8)
	copy(entry, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	buf.Grow()
	assert.Equal(t, 2, buf.Len())

	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf.Entry(0))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, buf.Entry(1), "new entries are zeroed")

	buf.Write(1, 4, []byte{9, 9})
	assert.Equal(t, []byte{9, 9}, buf.EntryOffset(1, 4, 2))
	buf.Release()
}

func TestCpuBufferSwapRemove(t *testing.T) {
	cpu := ecs.NewCpuFrameData()
	index := cpu.NewBuffer(2, 1)

	buf := cpu.BorrowMut(index)
	for i := byte(0); i < 3; i++ {
		copy(buf.Grow(), []byte{i, i})
	}

	// removing the first entry moves the last into its place
	buf.SwapRemove(0)
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, []byte{2, 2}, buf.Entry(0))
	assert.Equal(t, []byte{1, 1}, buf.Entry(1))

	// removing the tail entry moves nothing
	buf.SwapRemove(1)
	assert.Equal(t, 1, buf.Len())
	assert.Equal(t, []byte{2, 2}, buf.Entry(0))
	buf.Release()
}

func TestBorrowRules(t *testing.T) {
	cpu := ecs.NewCpuFrameData()
	index := cpu.NewBuffer(4, 4)

	// any number of shared borrows coexist
	a := cpu.Borrow(index)
	b := cpu.Borrow(index)

	assert.Panics(t, func() { cpu.BorrowMut(index) }, "writer blocked by readers")

	a.Release()
	b.Release()

	mut := cpu.BorrowMut(index)
	assert.Panics(t, func() { cpu.Borrow(index) }, "reader blocked by writer")
	assert.Panics(t, func() { cpu.BorrowMut(index) }, "second writer blocked")
	mut.Release()

	// fully released again
	c := cpu.Borrow(index)
	c.Release()
}

func TestEntryOutOfRangePanics(t *testing.T) {
	cpu := ecs.NewCpuFrameData()
	index := cpu.NewBuffer(4, 4)

	buf := cpu.Borrow(index)
	defer buf.Release()
	assert.Panics(t, func() { buf.Entry(0) })
}

type counterResource struct {
	N int64
}

func TestWithResource(t *testing.T) {
	cpu := ecs.NewCpuFrameData()
	registry := ecs.NewComponentRegistry()

	size, align := ecs.SizeAlignOf[counterResource]()
	bufferIndex := cpu.NewBuffer(size, align)
	buf := cpu.BorrowMut(bufferIndex)
	buf.Grow()
	buf.Release()

	_, err := registry.Register(ecs.ComponentInfo{
		Name:     "test::Counter",
		Size:     size,
		Align:    align,
		TypeInfo: ecs.ResourceInfo{BufferIndex: bufferIndex},
	})
	require.NoError(t, err)

	err = ecs.WithResourceMut(cpu, registry, "test::Counter", func(c *counterResource) {
		c.N = 41
	})
	require.NoError(t, err)

	err = ecs.WithResource(cpu, registry, "test::Counter", func(c *counterResource) {
		assert.Equal(t, int64(41), c.N)
	})
	require.NoError(t, err)

	assert.Error(t, ecs.WithResource(cpu, registry, "test::Missing", func(*counterResource) {}))

	_, err = registry.Register(ecs.ComponentInfo{Name: "test::NotAResource", Size: 4, Align: 4})
	require.NoError(t, err)
	assert.Error(t, ecs.WithResource(cpu, registry, "test::NotAResource", func(*counterResource) {}))
}

func TestComponentRegistryDuplicateName(t *testing.T) {
	registry := ecs.NewComponentRegistry()

	id, err := registry.Register(ecs.ComponentInfo{Name: "test::Thing", Size: 4, Align: 4})
	require.NoError(t, err)
	assert.NotEqual(t, ecs.InvalidComponentId, id)

	_, err = registry.Register(ecs.ComponentInfo{Name: "test::Thing", Size: 8, Align: 8})
	assert.Error(t, err)

	_, err = registry.Register(ecs.ComponentInfo{Name: ""})
	assert.Error(t, err)

	// the original registration is untouched
	got, info, ok := registry.GetByName("test::Thing")
	require.True(t, ok)
	assert.Equal(t, id, got)
	assert.Equal(t, 4, info.Size)
}
