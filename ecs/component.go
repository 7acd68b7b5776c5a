package ecs

import (
	"errors"
	"fmt"
)

// ComponentId identifies a registered ECS type: entity components, resources,
// callables, and async completions all share the same id space. Ids are
// assigned sequentially starting at 1 and are stable for the lifetime of the
// registry. Zero is never a valid id.
type ComponentId uint16

// InvalidComponentId is the reserved zero id.
const InvalidComponentId ComponentId = 0

// ComponentType is the coarse type kind reported by module introspection.
type ComponentType uint8

const (
	ComponentTypeComponent ComponentType = iota
	ComponentTypeResource
	ComponentTypeAsyncCompletion
	ComponentTypeCallable
)

// EcsTypeInfo carries the kind-specific half of a registry entry. Exactly one
// of the variant structs below is stored per component.
type EcsTypeInfo interface {
	ecsTypeInfo()
}

// EntityComponentInfo marks a plain entity component.
type EntityComponentInfo struct {
	DeclaringModule string
}

// ResourceInfo marks a singleton resource backed by a dedicated one-slot
// frame data buffer.
type ResourceInfo struct {
	BufferIndex     int
	DeclaringModule string
}

// AsyncCompletionInfo marks a completion type delivering the results of an
// async callable.
type AsyncCompletionInfo struct {
	CallableId ComponentId
}

// CallableInfo marks a host function invocable from systems.
type CallableInfo struct {
	IsSync bool
}

func (EntityComponentInfo) ecsTypeInfo() {}
func (ResourceInfo) ecsTypeInfo()        {}
func (AsyncCompletionInfo) ecsTypeInfo() {}
func (CallableInfo) ecsTypeInfo()        {}

// ComponentInfo describes one registered ECS type.
type ComponentInfo struct {
	// Name is the stable string id, unique across all modules.
	Name  string
	Size  int
	Align int

	// GpuCompatible component data lives in GPU buffers instead of the
	// archetype's CPU buffer.
	GpuCompatible bool

	// FreelyMutable components may be taken mutably by module system queries.
	// Engine-managed components such as LocalToWorld are read-only to modules.
	FreelyMutable bool

	TypeInfo EcsTypeInfo
}

// ComponentRegistry assigns ComponentIds and resolves string ids to entries.
// Entries are never removed or mutated after registration.
type ComponentRegistry struct {
	infos  []ComponentInfo // index == id - 1
	byName map[string]ComponentId
}

func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		byName: make(map[string]ComponentId),
	}
}

// Register adds a new entry and returns its id. Registering a string id twice
// is an error; the ids handed out for the first registration may already be
// baked into system descriptors, so shadowing is never allowed.
func (r *ComponentRegistry) Register(info ComponentInfo) (ComponentId, error) {
	if info.Name == "" {
		return InvalidComponentId, errors.New("register component: empty string id")
	}
	if _, ok := r.byName[info.Name]; ok {
		return InvalidComponentId, fmt.Errorf("register component: string id %q already registered", info.Name)
	}
	if info.Align <= 0 {
		info.Align = 1
	}
	if info.TypeInfo == nil {
		info.TypeInfo = EntityComponentInfo{}
	}

	id := ComponentId(len(r.infos) + 1)
	r.infos = append(r.infos, info)
	r.byName[info.Name] = id
	return id, nil
}

// Get returns the entry for an id, or nil for an unknown id.
func (r *ComponentRegistry) Get(id ComponentId) *ComponentInfo {
	if id == InvalidComponentId || int(id) > len(r.infos) {
		return nil
	}
	return &r.infos[id-1]
}

// GetByName resolves a string id.
func (r *ComponentRegistry) GetByName(name string) (ComponentId, *ComponentInfo, bool) {
	id, ok := r.byName[name]
	if !ok {
		return InvalidComponentId, nil, false
	}
	return id, &r.infos[id-1], true
}

// Len returns the number of registered entries.
func (r *ComponentRegistry) Len() int {
	return len(r.infos)
}

// Each calls f for every registered entry, in id order.
func (r *ComponentRegistry) Each(f func(id ComponentId, info *ComponentInfo)) {
	for i := range r.infos {
		f(ComponentId(i+1), &r.infos[i])
	}
}
