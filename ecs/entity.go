package ecs

// EntityId encodes an entity table index (lower 32 bits) and a lifecycle
// counter (upper 32 bits). The lifecycle increments each time a table slot is
// reused, so stale ids held across a despawn never resolve to the new
// occupant. The zero value is never a valid entity.
type EntityId uint64

// InvalidEntityId is the reserved all-zero id.
const InvalidEntityId EntityId = 0

// NewEntityId creates an EntityId from a table index and lifecycle counter.
func NewEntityId(index uint32, lifecycle uint32) EntityId {
	return EntityId(uint64(lifecycle)<<32 | uint64(index))
}

// Index extracts the entity table index from the entity ID.
func (e EntityId) Index() uint32 {
	return uint32(e & 0xFFFFFFFF)
}

// Lifecycle extracts the lifecycle counter from the entity ID.
func (e EntityId) Lifecycle() uint32 {
	return uint32(e >> 32)
}

// Valid reports whether the id could refer to an entity. Index zero is
// reserved so that the zero EntityId is always invalid.
func (e EntityId) Valid() bool {
	return e.Index() != 0
}
