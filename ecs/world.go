package ecs

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// EntityData is the world's bookkeeping for one live entity: where its
// component data lives and its place in the hierarchy.
type EntityData struct {
	ArchetypeKey   ArchetypeKey
	ArchetypeIndex int

	// Parent is InvalidEntityId for root entities.
	Parent   EntityId
	Children []EntityId
}

type entityState uint8

const (
	entityFree entityState = iota
	// entityReserved slots have been handed out by AllocateEntityId but not
	// yet materialized by a spawn command.
	entityReserved
	entityOccupied
)

type entityEntry struct {
	state     entityState
	lifecycle uint32
	nextFree  uint32 // valid when state == entityFree; 0 terminates the list
	data      EntityData
}

// World maps entity ids to their archetype locations, labels, and hierarchy
// links. Slots are recycled through a free list; each reuse increments the
// slot's lifecycle counter so stale ids can be detected.
type World struct {
	entries   []entityEntry // index 0 is a reserved dummy
	firstFree uint32        // 0 = list empty

	labels     map[string]EntityId
	labelsById map[EntityId]string

	logger *zap.Logger
}

func NewWorld(logger *zap.Logger) *World {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &World{
		entries:    make([]entityEntry, 1),
		labels:     make(map[string]EntityId),
		labelsById: make(map[EntityId]string),
		logger:     logger,
	}
}

// allocateSlot pops the free list or appends a fresh slot, returning the id
// the slot is valid under.
func (w *World) allocateSlot() EntityId {
	if w.firstFree != 0 {
		index := w.firstFree
		entry := &w.entries[index]
		w.firstFree = entry.nextFree
		entry.state = entityReserved
		return NewEntityId(index, entry.lifecycle)
	}

	index := uint32(len(w.entries))
	w.entries = append(w.entries, entityEntry{state: entityReserved})
	return NewEntityId(index, 0)
}

// Spawn occupies a new slot with data and returns its id.
func (w *World) Spawn(data EntityData) EntityId {
	id := w.allocateSlot()
	entry := &w.entries[id.Index()]
	entry.state = entityOccupied
	entry.data = data
	return id
}

// SpawnPreallocated materializes an id handed out by AllocateEntityId. It
// returns false if the entity was despawned before materialization; the
// despawn wins the race and the spawn must be dropped.
func (w *World) SpawnPreallocated(id EntityId, data EntityData) bool {
	entry, ok := w.entry(id)
	if !ok || entry.state != entityReserved {
		return false
	}
	entry.state = entityOccupied
	entry.data = data
	return true
}

// Despawn frees an entity's slot, bumping its lifecycle. It returns the
// entity's data so the caller can release the archetype row; the data is nil
// when the id was reserved but never materialized. ok is false for stale ids.
func (w *World) Despawn(id EntityId) (data *EntityData, ok bool) {
	entry, valid := w.entry(id)
	if !valid || entry.state == entityFree {
		return nil, false
	}

	var spawned *EntityData
	if entry.state == entityOccupied {
		d := entry.data
		spawned = &d
	}

	if label, ok := w.labelsById[id]; ok {
		delete(w.labelsById, id)
		delete(w.labels, label)
	}

	entry.state = entityFree
	entry.lifecycle++
	entry.nextFree = w.firstFree
	entry.data = EntityData{}
	w.firstFree = id.Index()

	return spawned, true
}

// Get returns the live entity's data, or nil for stale, reserved, or unknown
// ids.
func (w *World) Get(id EntityId) *EntityData {
	entry, ok := w.entry(id)
	if !ok || entry.state != entityOccupied {
		return nil
	}
	return &entry.data
}

func (w *World) entry(id EntityId) (*entityEntry, bool) {
	index := id.Index()
	if index == 0 || index >= uint32(len(w.entries)) {
		return nil, false
	}
	entry := &w.entries[index]
	if entry.lifecycle != id.Lifecycle() {
		return nil, false
	}
	return entry, true
}

// Each visits every live entity. Order follows slot index, which is stable
// between structural changes.
func (w *World) Each(f func(EntityId, *EntityData)) {
	for i := 1; i < len(w.entries); i++ {
		entry := &w.entries[i]
		if entry.state == entityOccupied {
			f(NewEntityId(uint32(i), entry.lifecycle), &entry.data)
		}
	}
}

// SetLabel associates a label with an entity, replacing the entity's previous
// label. An empty label clears it. If another entity already holds the label
// it is taken over, which usually indicates a scene authoring mistake.
func (w *World) SetLabel(id EntityId, label string) {
	if _, ok := w.entry(id); !ok {
		w.logger.Warn("set entity label: stale entity id", zap.Uint64("entity", uint64(id)))
		return
	}

	if prev, ok := w.labelsById[id]; ok {
		delete(w.labels, prev)
		delete(w.labelsById, id)
	}

	if label == "" {
		return
	}

	if prev, ok := w.labels[label]; ok && prev != id {
		w.logger.Warn("set entity label: label moved between entities",
			zap.String("label", label),
			zap.Uint64("previous", uint64(prev)))
		delete(w.labelsById, prev)
	}

	w.labels[label] = id
	w.labelsById[id] = label
}

// LabelEntity returns the entity holding a label.
func (w *World) LabelEntity(label string) (EntityId, bool) {
	id, ok := w.labels[label]
	return id, ok
}

// EntityLabel returns an entity's label.
func (w *World) EntityLabel(id EntityId) (string, bool) {
	label, ok := w.labelsById[id]
	return label, ok
}

// Parent returns an entity's parent. ok is false for stale ids.
func (w *World) Parent(id EntityId) (EntityId, bool) {
	data := w.Get(id)
	if data == nil {
		return InvalidEntityId, false
	}
	return data.Parent, true
}

// WriteHierarchy writes an indented depth-first dump of the entity tree,
// labels where present, ids otherwise.
func (w *World) WriteHierarchy(out io.Writer) error {
	var write func(id EntityId, depth int) error
	write = func(id EntityId, depth int) error {
		name, ok := w.EntityLabel(id)
		if !ok {
			name = fmt.Sprintf("entity %d:%d", id.Index(), id.Lifecycle())
		}
		for i := 0; i < depth; i++ {
			if _, err := io.WriteString(out, "  "); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(out, name); err != nil {
			return err
		}
		if data := w.Get(id); data != nil {
			for _, child := range data.Children {
				if err := write(child, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for i := 1; i < len(w.entries); i++ {
		entry := &w.entries[i]
		if entry.state == entityOccupied && entry.data.Parent == InvalidEntityId {
			if err := write(NewEntityId(uint32(i), entry.lifecycle), 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// WorldDelegate is the view of the World exposed to running systems. All
// methods are safe to call from inside ParForEach workers.
type WorldDelegate interface {
	// AllocateEntityId reserves an id immediately, so a spawn command's id
	// can be referenced by later commands within the same frame.
	AllocateEntityId() EntityId

	LabelEntity(label string) (EntityId, bool)
	EntityLabel(id EntityId) (string, bool)
	Parent(id EntityId) (EntityId, bool)
}

// SyncWorldDelegate adapts a World for concurrent access during system
// execution. Id allocation mutates the free list under a lock; everything
// else is read-only while systems run.
type SyncWorldDelegate struct {
	world *World
	mu    sync.Mutex
}

func (w *World) SyncDelegate() *SyncWorldDelegate {
	return &SyncWorldDelegate{world: w}
}

func (d *SyncWorldDelegate) AllocateEntityId() EntityId {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.world.allocateSlot()
}

func (d *SyncWorldDelegate) LabelEntity(label string) (EntityId, bool) {
	return d.world.LabelEntity(label)
}

func (d *SyncWorldDelegate) EntityLabel(id EntityId) (string, bool) {
	return d.world.EntityLabel(id)
}

func (d *SyncWorldDelegate) Parent(id EntityId) (EntityId, bool) {
	return d.world.Parent(id)
}
