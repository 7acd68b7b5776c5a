package ecs

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/kamstrup/intmap"
)

// ArchetypeKey is the canonical identity of an archetype: the sorted,
// deduplicated list of its component ids. The implicit EntityId component is
// never part of the key.
type ArchetypeKey struct {
	ComponentIds []ComponentId
}

// NewArchetypeKey builds a canonical key from component ids in any order.
func NewArchetypeKey(ids ...ComponentId) ArchetypeKey {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return ArchetypeKey{ComponentIds: slices.Compact(sorted)}
}

func (k ArchetypeKey) Contains(id ComponentId) bool {
	_, ok := slices.BinarySearch(k.ComponentIds, id)
	return ok
}

// ContainsAll reports whether every id in ids is part of the key.
func (k ArchetypeKey) ContainsAll(ids []ComponentId) bool {
	for _, id := range ids {
		if !k.Contains(id) {
			return false
		}
	}
	return true
}

func (k ArchetypeKey) Equal(other ArchetypeKey) bool {
	return slices.Equal(k.ComponentIds, other.ComponentIds)
}

// With returns a new canonical key extended by ids.
func (k ArchetypeKey) With(ids ...ComponentId) ArchetypeKey {
	merged := make([]ComponentId, 0, len(k.ComponentIds)+len(ids))
	merged = append(merged, k.ComponentIds...)
	merged = append(merged, ids...)
	return NewArchetypeKey(merged...)
}

// Without returns a new key with ids removed.
func (k ArchetypeKey) Without(ids ...ComponentId) ArchetypeKey {
	kept := make([]ComponentId, 0, len(k.ComponentIds))
	for _, id := range k.ComponentIds {
		if !slices.Contains(ids, id) {
			kept = append(kept, id)
		}
	}
	return ArchetypeKey{ComponentIds: kept}
}

// Hash returns the xxhash of the sorted id list. Identical component sets
// always hash identically because keys are canonical.
func (k ArchetypeKey) Hash() uint64 {
	var d xxhash.Digest
	d.Reset()
	var scratch [2]byte
	for _, id := range k.ComponentIds {
		binary.LittleEndian.PutUint16(scratch[:], uint16(id))
		d.Write(scratch[:])
	}
	return d.Sum64()
}

func (k ArchetypeKey) String() string {
	return fmt.Sprint(k.ComponentIds)
}

func (k ArchetypeKey) assertCanonical() {
	for i := 1; i < len(k.ComponentIds); i++ {
		if k.ComponentIds[i-1] >= k.ComponentIds[i] {
			panic("ecs: archetype key is not sorted and deduplicated")
		}
	}
}

// ComponentOffsetInfo pairs a component id with its byte offset from the
// start of an entity's entry in the owning buffer.
type ComponentOffsetInfo struct {
	ComponentId ComponentId
	Offset      int
}

// ArchetypeStorageInfo describes one buffer's layout for an archetype: which
// components it holds and where each lives within the stride.
type ArchetypeStorageInfo struct {
	Components  []ComponentOffsetInfo
	Align       int
	Stride      int
	BufferIndex int
	Partition   PartitionIndex

	// EntityIdOffset is the byte offset of the implicit EntityId component,
	// or -1 for GPU buffers, which never hold it.
	EntityIdOffset int
}

func (si *ArchetypeStorageInfo) ContainsComponent(id ComponentId) bool {
	for i := range si.Components {
		if si.Components[i].ComponentId == id {
			return true
		}
	}
	return false
}

// ComponentOffset returns the byte offset of a component within the stride.
func (si *ArchetypeStorageInfo) ComponentOffset(id ComponentId) (int, bool) {
	for i := range si.Components {
		if si.Components[i].ComponentId == id {
			return si.Components[i].Offset, true
		}
	}
	return 0, false
}

// ArchetypeStorage is the allocated storage of one archetype: a single CPU
// buffer holding all non-GPU components plus the entity id, and zero or more
// GPU buffer partitions as decided by the configured component groupings.
// Storages are created lazily on first use and never destroyed.
type ArchetypeStorage struct {
	Key ArchetypeKey
	Cpu ArchetypeStorageInfo
	Gpu []ArchetypeStorageInfo

	// entityIndices maps entity id index bits to the entity's current row,
	// maintained by the command appliers for by-entity query lookup.
	entityIndices *intmap.Map[uint32, int]
}

// NewArchetypeStorage computes buffer layouts for a key and allocates the
// backing buffers. Component data is packed in descending alignment order so
// no padding is needed between components. The caller guarantees that all ids
// are registered; layout consistency is the registry's concern, not checked
// here.
func NewArchetypeStorage(
	key ArchetypeKey,
	entityIdComponent ComponentId,
	registry *ComponentRegistry,
	gpuGroupings [][]ComponentId,
	gpuSingleBuffer []GpuSingleBufferComponent,
	cpuData *CpuFrameData,
	gpuData GpuFrameData,
) *ArchetypeStorage {
	key.assertCanonical()

	storage := &ArchetypeStorage{
		Key:           key,
		entityIndices: intmap.New[uint32, int](64),
	}

	// CPU layout: all non-GPU components plus the implicit entity id, packed
	// by descending alignment.
	type member struct {
		id   ComponentId
		info *ComponentInfo
	}
	members := make([]member, 0, len(key.ComponentIds)+1)
	for _, id := range key.ComponentIds {
		info := registry.Get(id)
		if !info.GpuCompatible {
			members = append(members, member{id, info})
		}
	}
	members = append(members, member{entityIdComponent, registry.Get(entityIdComponent)})

	slices.SortStableFunc(members, func(a, b member) int {
		return b.info.Align - a.info.Align
	})

	cpu := ArchetypeStorageInfo{EntityIdOffset: -1}
	offset := 0
	for _, m := range members {
		if m.id == entityIdComponent {
			cpu.EntityIdOffset = offset
		}
		cpu.Components = append(cpu.Components, ComponentOffsetInfo{
			ComponentId: m.id,
			Offset:      offset,
		})
		offset += m.info.Size
	}

	cpu.Align = 1
	if len(members) > 0 {
		cpu.Align = members[0].info.Align
	}
	cpu.Stride = alignUp(offset, cpu.Align)
	cpu.BufferIndex = cpuData.NewBuffer(cpu.Stride, cpu.Align)
	cpu.Partition = 0
	storage.Cpu = cpu

	// GPU layouts: one buffer per configured grouping that intersects this
	// archetype, components laid out in grouping order.
	for _, grouping := range gpuGroupings {
		var grouped []ComponentId
		for _, id := range grouping {
			if key.Contains(id) {
				grouped = append(grouped, id)
			}
		}
		if len(grouped) == 0 {
			continue
		}

		gpu := ArchetypeStorageInfo{EntityIdOffset: -1, Align: 1}
		offset := 0
		for _, id := range grouped {
			info := registry.Get(id)
			offset = alignUp(offset, info.Align)
			gpu.Components = append(gpu.Components, ComponentOffsetInfo{
				ComponentId: id,
				Offset:      offset,
			})
			offset += info.Size
			gpu.Align = max(gpu.Align, info.Align)
		}
		gpu.Stride = alignUp(offset, gpu.Align)

		if slot := findSingleBufferSlot(gpuSingleBuffer, gpu.Components[0].ComponentId); slot != nil {
			if slot.allocated {
				// a previous archetype already allocated this shared buffer
				gpu.BufferIndex = slot.bufferIndex
				gpu.Partition = gpuData.AllocatePartition(gpu.BufferIndex)
			} else {
				gpu.BufferIndex = gpuData.NewBuffer(gpu.Stride)
				gpu.Partition = 0
				slot.bufferIndex = gpu.BufferIndex
				slot.allocated = true
			}
		} else {
			gpu.BufferIndex = gpuData.NewBuffer(gpu.Stride)
			gpu.Partition = 0
		}

		storage.Gpu = append(storage.Gpu, gpu)
	}

	return storage
}

// GpuSingleBufferComponent tracks a component configured to share one GPU
// buffer across all archetypes. The buffer is allocated the first time an
// archetype uses the component.
type GpuSingleBufferComponent struct {
	ComponentId ComponentId

	bufferIndex int
	allocated   bool
}

func findSingleBufferSlot(slots []GpuSingleBufferComponent, id ComponentId) *GpuSingleBufferComponent {
	for i := range slots {
		if slots[i].ComponentId == id {
			return &slots[i]
		}
	}
	return nil
}

// GetComponentByteOffset returns a component's offset within whichever of the
// archetype's buffers holds it.
func (s *ArchetypeStorage) GetComponentByteOffset(id ComponentId) (int, bool) {
	if offset, ok := s.Cpu.ComponentOffset(id); ok {
		return offset, true
	}
	for i := range s.Gpu {
		if offset, ok := s.Gpu[i].ComponentOffset(id); ok {
			return offset, true
		}
	}
	return 0, false
}

// EntityIndex returns the row of an entity in this storage.
func (s *ArchetypeStorage) EntityIndex(id EntityId) (int, bool) {
	return s.entityIndices.Get(id.Index())
}

func (s *ArchetypeStorage) setEntityIndex(id EntityId, index int) {
	s.entityIndices.Put(id.Index(), index)
}

func (s *ArchetypeStorage) removeEntityIndex(id EntityId) {
	s.entityIndices.Del(id.Index())
}

// ArchetypeStorageMap holds every allocated archetype storage, keyed by the
// hash of the canonical key. Buckets hold every storage sharing a hash, and
// lookups compare the full key, so a hash collision cannot alias two
// archetypes. Iteration follows insertion order, so repeated runs with the
// same spawn sequence visit storages deterministically.
type ArchetypeStorageMap struct {
	entries *intmap.Map[uint64, []*ArchetypeStorage]
	ordered []*ArchetypeStorage
}

func NewArchetypeStorageMap() *ArchetypeStorageMap {
	return &ArchetypeStorageMap{
		entries: intmap.New[uint64, []*ArchetypeStorage](64),
	}
}

func (m *ArchetypeStorageMap) Insert(storage *ArchetypeStorage) {
	storage.Key.assertCanonical()
	hash := storage.Key.Hash()
	bucket, _ := m.entries.Get(hash)
	m.entries.Put(hash, append(bucket, storage))
	m.ordered = append(m.ordered, storage)
}

func (m *ArchetypeStorageMap) Contains(key ArchetypeKey) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *ArchetypeStorageMap) Get(key ArchetypeKey) (*ArchetypeStorage, bool) {
	key.assertCanonical()
	bucket, _ := m.entries.Get(key.Hash())
	for _, storage := range bucket {
		if storage.Key.Equal(key) {
			return storage, true
		}
	}
	return nil, false
}

func (m *ArchetypeStorageMap) Len() int {
	return len(m.ordered)
}

// Each visits storages in insertion order.
func (m *ArchetypeStorageMap) Each(f func(*ArchetypeStorage)) {
	for _, storage := range m.ordered {
		f(storage)
	}
}

func alignUp(n, align int) int {
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + align - rem
}
