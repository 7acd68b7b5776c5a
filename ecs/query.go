package ecs

import (
	"fmt"
	"slices"
)

// QueryComponent is one declared component of a query.
type QueryComponent struct {
	Id  ComponentId
	Mut bool
}

// Query iterates every entity whose archetype contains the query's component
// set. Row component access follows the declaration order of the owning
// system's query arg. The canonical identity of a query is its sorted
// component id set, so declaration order never affects which archetypes
// match.
type Query struct {
	systemName string
	declared   []QueryComponent // declaration order
	sizes      []int            // registered sizes, by declaration order
	matchIds   []ComponentId    // sorted, EntityId excluded
	mutIds     []ComponentId    // sorted subset taken mutably

	entityIdComponent ComponentId
	blockSize         int

	archetypes []*queryArchetype

	// bound for the duration of one execute
	scope *SystemScope
	gpu   GpuFrameData
}

type componentInput struct {
	gpu         bool
	bufferIndex int
	partition   PartitionIndex
	offset      int
	size        int
}

type queryArchetype struct {
	storage *ArchetypeStorage
	inputs  []componentInput // indexed by declaration order
	cpuMut  bool

	// active borrow during execute; exactly one is non-nil
	ref    *BufferRef
	mutRef *BufferRefMut
}

func newQuery(systemName string, declared []QueryComponent, registry *ComponentRegistry, entityIdComponent ComponentId, blockSize int) *Query {
	q := &Query{
		systemName:        systemName,
		declared:          declared,
		entityIdComponent: entityIdComponent,
		blockSize:         blockSize,
	}
	if q.blockSize <= 0 {
		q.blockSize = 256
	}

	for _, c := range declared {
		q.sizes = append(q.sizes, registry.Get(c.Id).Size)
	}

	for _, c := range declared {
		if c.Id == entityIdComponent {
			continue
		}
		q.matchIds = append(q.matchIds, c.Id)
		if c.Mut {
			q.mutIds = append(q.mutIds, c.Id)
		}
	}
	slices.Sort(q.matchIds)
	q.matchIds = slices.Compact(q.matchIds)
	slices.Sort(q.mutIds)
	q.mutIds = slices.Compact(q.mutIds)

	return q
}

// addArchetypeInput binds a storage to the query if the storage's key
// contains every queried component.
func (q *Query) addArchetypeInput(storage *ArchetypeStorage) {
	if !storage.Key.ContainsAll(q.matchIds) {
		return
	}
	for _, arch := range q.archetypes {
		if arch.storage == storage {
			return
		}
	}

	arch := &queryArchetype{storage: storage, cpuMut: len(q.mutIds) > 0}

	for di, c := range q.declared {
		input := componentInput{size: q.sizes[di]}

		if offset, ok := storage.Cpu.ComponentOffset(c.Id); ok {
			input.bufferIndex = storage.Cpu.BufferIndex
			input.offset = offset
		} else {
			found := false
			for gi := range storage.Gpu {
				if offset, ok := storage.Gpu[gi].ComponentOffset(c.Id); ok {
					input.gpu = true
					input.bufferIndex = storage.Gpu[gi].BufferIndex
					input.partition = storage.Gpu[gi].Partition
					input.offset = offset
					found = true
					break
				}
			}
			if !found {
				panic(fmt.Sprintf("ecs: query %s: component %d missing from matched storage", q.systemName, c.Id))
			}
		}

		arch.inputs = append(arch.inputs, input)
	}

	q.archetypes = append(q.archetypes, arch)
}

func (q *Query) clearArchetypeInputs() {
	q.archetypes = nil
}

// acquire borrows every matched CPU buffer, shared or exclusive depending on
// declared mutability, and returns the release functions.
func (q *Query) acquire(res *ExecuteResources, scope *SystemScope, releases *[]func()) {
	q.scope = scope
	q.gpu = res.GpuData

	for _, arch := range q.archetypes {
		arch := arch
		if arch.cpuMut {
			arch.mutRef = res.CpuData.BorrowMut(arch.storage.Cpu.BufferIndex)
			*releases = append(*releases, func() {
				arch.mutRef.Release()
				arch.mutRef = nil
			})
		} else {
			arch.ref = res.CpuData.Borrow(arch.storage.Cpu.BufferIndex)
			*releases = append(*releases, func() {
				arch.ref.Release()
				arch.ref = nil
			})
		}
	}

	*releases = append(*releases, func() {
		q.scope = nil
		q.gpu = nil
	})
}

func (a *queryArchetype) len() int {
	if a.mutRef != nil {
		return a.mutRef.Len()
	}
	return a.ref.Len()
}

func (a *queryArchetype) cpuEntry(index, offset, size int) []byte {
	if a.mutRef != nil {
		return a.mutRef.EntryOffset(index, offset, size)
	}
	return a.ref.EntryOffset(index, offset, size)
}

// Len returns the number of matched entities.
func (q *Query) Len() int {
	n := 0
	for _, arch := range q.archetypes {
		n += arch.len()
	}
	return n
}

// Get returns row i, counting through matched archetypes in match order.
func (q *Query) Get(i int) (*QueryRow, bool) {
	for _, arch := range q.archetypes {
		l := arch.len()
		if i < l {
			return &QueryRow{query: q, arch: arch, index: i, slot: q.scope.slot}, true
		}
		i -= l
	}
	return nil, false
}

// GetByEntity returns the row of a specific entity, if the query matches it.
func (q *Query) GetByEntity(id EntityId) (*QueryRow, bool) {
	for _, arch := range q.archetypes {
		if index, ok := arch.storage.EntityIndex(id); ok {
			return &QueryRow{query: q, arch: arch, index: index, slot: q.scope.slot}, true
		}
	}
	return nil, false
}

// GetByLabel returns the row of the entity holding a label.
func (q *Query) GetByLabel(label string) (*QueryRow, bool) {
	id, ok := q.scope.res.World.LabelEntity(label)
	if !ok {
		return nil, false
	}
	return q.GetByEntity(id)
}

// ForEach visits every matched row on the calling thread. Returning false
// stops the iteration.
func (q *Query) ForEach(fn func(row *QueryRow) bool) {
	row := QueryRow{query: q, slot: q.scope.slot}
	for _, arch := range q.archetypes {
		row.arch = arch
		for i := 0; i < arch.len(); i++ {
			row.index = i
			if !fn(&row) {
				return
			}
		}
	}
}

// ParForEach visits every matched row on the worker pool, in blocks of
// entities. Each worker gets its own scratch row bound to its thread slot, so
// scope commands and event writes stay on per-thread buffers.
func (q *Query) ParForEach(fn func(row *QueryRow)) {
	executor := q.scope.res.Executor
	for _, arch := range q.archetypes {
		arch := arch
		executor.ParallelFor(arch.len(), q.blockSize, func(start, end, slot int) {
			row := QueryRow{query: q, arch: arch, slot: slot}
			for i := start; i < end; i++ {
				row.index = i
				fn(&row)
			}
		})
	}
}

// QueryRow is a view of one matched entity. Rows handed to ForEach and
// ParForEach bodies are scratch values; do not retain them.
type QueryRow struct {
	query *Query
	arch  *queryArchetype
	index int
	slot  int
}

// EntityId returns the row's entity.
func (r *QueryRow) EntityId() EntityId {
	offset := r.arch.storage.Cpu.EntityIdOffset
	size, _ := SizeAlignOf[EntityId]()
	return *ComponentAs[EntityId](r.arch.cpuEntry(r.index, offset, size))
}

// Component returns the raw bytes of the query's i'th declared component for
// this row. Writing through the slice is only valid for components declared
// mutable.
func (r *QueryRow) Component(i int) []byte {
	input := r.arch.inputs[i]
	if input.gpu {
		entry := r.query.gpu.Entry(input.bufferIndex, input.partition, r.index)
		return entry[input.offset : input.offset+input.size]
	}
	return r.arch.cpuEntry(r.index, input.offset, input.size)
}

// Slot returns the thread slot this row is being visited on.
func (r *QueryRow) Slot() int {
	return r.slot
}

// Scope returns a SystemScope bound to the row's thread slot.
func (r *QueryRow) Scope() *SystemScope {
	scope := r.query.scope
	if scope.slot == r.slot {
		return scope
	}
	return scope.withSlot(r.slot)
}
