package ecs

import (
	"fmt"
	"slices"

	"go.uber.org/zap"
)

// ExecuteResources is everything systems may reach while a frame is being
// processed. It is assembled at the start of frame processing and must not be
// retained past the end of the frame.
type ExecuteResources struct {
	CpuData   *CpuFrameData
	GpuData   GpuFrameData
	Events    *EventManager
	World     WorldDelegate
	Registry  *ComponentRegistry
	Bundles   []ComponentBundle
	Callables *Callables
	Executor  *Executor
}

// EcsSystem is a schedulable unit of frame work.
type EcsSystem interface {
	Name() string

	// AddArchetypeInput offers a newly allocated storage to the system's
	// queries.
	AddArchetypeInput(storage *ArchetypeStorage)

	ClearArchetypeInputs()

	Execute(res *ExecuteResources) error

	// ClearEventWriterBuffers is called instead of Execute when the system is
	// skipped this frame, so its stale events do not linger.
	ClearEventWriterBuffers()
}

type systemInfo struct {
	system  EcsSystem
	enabled bool
	once    bool
	async   bool
	// consumed marks a once system that has run; re-enabling it does not run
	// it again.
	consumed bool
}

// SystemGraph holds the registered systems in execution order. CPU systems
// run sequentially; GPU systems run after command application, once the
// frame's final component data is in place.
type SystemGraph struct {
	cpuSystems []systemInfo
	gpuSystems []systemInfo
	logger     *zap.Logger
}

func NewSystemGraph(logger *zap.Logger) *SystemGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SystemGraph{logger: logger}
}

func (g *SystemGraph) AddCpuSystem(system EcsSystem, once, async bool) {
	g.cpuSystems = append(g.cpuSystems, systemInfo{system: system, enabled: true, once: once, async: async})
}

func (g *SystemGraph) AddGpuSystem(system EcsSystem, once bool) {
	g.gpuSystems = append(g.gpuSystems, systemInfo{system: system, enabled: true, once: once})
}

func (g *SystemGraph) SystemNames() []string {
	names := make([]string, 0, len(g.cpuSystems)+len(g.gpuSystems))
	for i := range g.cpuSystems {
		names = append(names, g.cpuSystems[i].system.Name())
	}
	for i := range g.gpuSystems {
		names = append(names, g.gpuSystems[i].system.Name())
	}
	return names
}

func (g *SystemGraph) SystemEnabled(name string) (enabled, found bool) {
	if info := g.find(name); info != nil {
		return info.enabled, true
	}
	return false, false
}

func (g *SystemGraph) SetSystemEnabled(name string, enabled bool) {
	info := g.find(name)
	if info == nil {
		g.logger.Warn("set system enabled: system not found", zap.String("system", name))
		return
	}
	info.enabled = enabled
}

func (g *SystemGraph) find(name string) *systemInfo {
	for i := range g.cpuSystems {
		if g.cpuSystems[i].system.Name() == name {
			return &g.cpuSystems[i]
		}
	}
	for i := range g.gpuSystems {
		if g.gpuSystems[i].system.Name() == name {
			return &g.gpuSystems[i]
		}
	}
	return nil
}

// ExecuteCpu runs every enabled non-async CPU system in registration order. A
// failing system is logged and disabled; the frame continues.
func (g *SystemGraph) ExecuteCpu(res *ExecuteResources) {
	g.executeList(g.cpuSystems, res, false)
}

// ExecuteGpu runs every enabled GPU system.
func (g *SystemGraph) ExecuteGpu(res *ExecuteResources) {
	g.executeList(g.gpuSystems, res, false)
}

func (g *SystemGraph) executeList(systems []systemInfo, res *ExecuteResources, async bool) {
	for i := range systems {
		info := &systems[i]
		if info.async != async {
			continue
		}

		if !info.enabled || info.consumed {
			info.system.ClearEventWriterBuffers()
			continue
		}

		if err := info.system.Execute(res); err != nil {
			g.logger.Error("system returned error; disabling",
				zap.String("system", info.system.Name()),
				zap.Error(err))
			info.enabled = false
		}

		if info.once {
			info.enabled = false
			info.consumed = true
		}
	}
}

// asyncBatches returns the enabled async CPU systems grouped for concurrent
// execution: systems whose declared borrows overlap land in the same batch
// and run sequentially, so concurrency never trips the fail-fast borrow
// accounting. Once systems are marked consumed.
func (g *SystemGraph) asyncBatches() [][]EcsSystem {
	var batches [][]EcsSystem
	for i := range g.cpuSystems {
		info := &g.cpuSystems[i]
		if !info.async {
			continue
		}
		if !info.enabled || info.consumed {
			info.system.ClearEventWriterBuffers()
			continue
		}
		if info.once {
			info.enabled = false
			info.consumed = true
		}

		merged := -1
		for bi := 0; bi < len(batches); {
			if merged >= 0 && bi == merged {
				bi++
				continue
			}
			if !batchSharesBorrows(batches[bi], info.system) {
				bi++
				continue
			}
			if merged == -1 {
				batches[bi] = append(batches[bi], info.system)
				merged = bi
				bi++
			} else {
				// the new system links two previously independent batches
				batches[merged] = append(batches[merged], batches[bi]...)
				batches = append(batches[:bi], batches[bi+1:]...)
				if bi < merged {
					merged--
				}
			}
		}
		if merged == -1 {
			batches = append(batches, []EcsSystem{info.system})
		}
	}
	return batches
}

func batchSharesBorrows(batch []EcsSystem, system EcsSystem) bool {
	sys, ok := system.(*CpuSystem)
	if !ok {
		return true
	}
	for _, member := range batch {
		if sys.sharesBorrowsWith(member) {
			return true
		}
	}
	return false
}

// disableSystem is used by the frame driver when an async system fails.
func (g *SystemGraph) disableSystem(name string) {
	if info := g.find(name); info != nil {
		info.enabled = false
	}
}

// AddArchetypeInput offers a new storage to every system.
func (g *SystemGraph) AddArchetypeInput(storage *ArchetypeStorage) {
	for i := range g.cpuSystems {
		g.cpuSystems[i].system.AddArchetypeInput(storage)
	}
	for i := range g.gpuSystems {
		g.gpuSystems[i].system.AddArchetypeInput(storage)
	}
}

func (g *SystemGraph) ClearArchetypeInputs() {
	for i := range g.cpuSystems {
		g.cpuSystems[i].system.ClearArchetypeInputs()
	}
	for i := range g.gpuSystems {
		g.gpuSystems[i].system.ClearArchetypeInputs()
	}
}

// ComponentBundle inserts default component values at spawn and
// add-components time: when every source component is present in the target
// set, each bundled component not already present is added with its default
// value.
type ComponentBundle struct {
	SourceComponents  []ComponentId
	BundledComponents []ComponentDefault
}

type ComponentDefault struct {
	Id           ComponentId
	DefaultValue []byte
}

// bundleRequiredComponents returns the bundled defaults to add to a component
// set, sorted by id and deduplicated.
func bundleRequiredComponents(ids []ComponentId, bundles []ComponentBundle) []ComponentDefault {
	var bundled []ComponentDefault
	for bi := range bundles {
		bundle := &bundles[bi]

		allPresent := true
		for _, source := range bundle.SourceComponents {
			if !slices.Contains(ids, source) {
				allPresent = false
				break
			}
		}
		if !allPresent {
			continue
		}

		bundled = append(bundled, bundle.BundledComponents...)
	}

	slices.SortFunc(bundled, func(a, b ComponentDefault) int {
		return int(a.Id) - int(b.Id)
	})
	bundled = slices.CompactFunc(bundled, func(a, b ComponentDefault) bool {
		return a.Id == b.Id
	})

	// drop bundled components the caller already provides
	kept := bundled[:0]
	for _, c := range bundled {
		if !slices.Contains(ids, c.Id) {
			kept = append(kept, c)
		}
	}
	return kept
}

// SystemScope is the engine capability handle passed to system bodies. A
// scope is bound to one thread slot; structural changes become deferred
// commands on that slot's queue, applied after all CPU systems finish.
type SystemScope struct {
	res        *ExecuteResources
	slot       int
	systemName string
}

// Slot returns the thread slot the scope appends commands to.
func (s *SystemScope) Slot() int {
	return s.slot
}

// withSlot returns a scope bound to another thread slot, for ParForEach
// workers.
func (s *SystemScope) withSlot(slot int) *SystemScope {
	return &SystemScope{res: s.res, slot: slot, systemName: s.systemName}
}

// Spawn defers the creation of an entity from component values. The returned
// id is reserved immediately and may be used by later commands in the same
// frame; the entity itself materializes during command application.
func (s *SystemScope) Spawn(components []ComponentData) (EntityId, error) {
	list, err := s.buildComponentList("spawn", components)
	if err != nil {
		return InvalidEntityId, err
	}

	id := s.res.World.AllocateEntityId()
	s.res.Events.PushCommand(s.slot, SpawnCommand{Entity: id, Components: list})
	return id, nil
}

// Despawn defers the removal of an entity and its descendants.
func (s *SystemScope) Despawn(id EntityId) {
	s.res.Events.PushCommand(s.slot, DespawnCommand{Entity: id})
}

// AddComponents defers adding component values to an entity.
func (s *SystemScope) AddComponents(id EntityId, components []ComponentData) error {
	list, err := s.buildComponentList("add_components", components)
	if err != nil {
		return err
	}
	s.res.Events.PushCommand(s.slot, AddComponentsCommand{Entity: id, Components: list})
	return nil
}

// RemoveComponents defers removing components from an entity.
func (s *SystemScope) RemoveComponents(id EntityId, componentIds []ComponentId) error {
	for i, cid := range componentIds {
		if cid == InvalidComponentId {
			return fmt.Errorf("remove_components: invalid component id at index %d", i)
		}
	}
	ids := slices.Clone(componentIds)
	slices.Sort(ids)
	s.res.Events.PushCommand(s.slot, RemoveComponentsCommand{Entity: id, ComponentIds: slices.Compact(ids)})
	return nil
}

// SetEntityLabel defers labeling an entity. An empty label clears it.
func (s *SystemScope) SetEntityLabel(id EntityId, label string) {
	s.res.Events.PushCommand(s.slot, SetEntityLabelCommand{Entity: id, Label: label})
}

// SetParent defers reparenting an entity.
func (s *SystemScope) SetParent(id, parent EntityId, keepWorldSpaceTransform bool) {
	s.res.Events.PushCommand(s.slot, SetParentCommand{
		Entity:                  id,
		Parent:                  parent,
		KeepWorldSpaceTransform: keepWorldSpaceTransform,
	})
}

// LoadScene defers loading a scene from its JSON form.
func (s *SystemScope) LoadScene(sceneJSON []byte) {
	s.res.Events.PushCommand(s.slot, LoadSceneCommand{SceneJSON: cloneBytes(sceneJSON)})
}

// SetSystemEnabled defers enabling or disabling a system by its fully
// qualified name.
func (s *SystemScope) SetSystemEnabled(systemName string, enabled bool) {
	s.res.Events.PushCommand(s.slot, SetSystemEnabledCommand{SystemName: systemName, Enabled: enabled})
}

// EntityLabel returns an entity's label, reflecting state as of the start of
// the frame.
func (s *SystemScope) EntityLabel(id EntityId) (string, bool) {
	return s.res.World.EntityLabel(id)
}

// LabelEntity returns the entity holding a label.
func (s *SystemScope) LabelEntity(label string) (EntityId, bool) {
	return s.res.World.LabelEntity(label)
}

// Parent returns an entity's parent as of the start of the frame.
func (s *SystemScope) Parent(id EntityId) (EntityId, bool) {
	return s.res.World.Parent(id)
}

// Call invokes a callable by string id, discarding its result.
func (s *SystemScope) Call(function string, params []byte) error {
	id, _, ok := s.res.Registry.GetByName(function)
	if !ok {
		return fmt.Errorf("call: unknown callable %q", function)
	}
	s.res.Callables.Call(id, params)
	return nil
}

// CallAsync invokes a callable whose result arrives through the named
// completion type in a later frame.
func (s *SystemScope) CallAsync(function, completion string, params, userData []byte) error {
	functionId, _, ok := s.res.Registry.GetByName(function)
	if !ok {
		return fmt.Errorf("call_async: unknown callable %q", function)
	}
	completionId, info, ok := s.res.Registry.GetByName(completion)
	if !ok {
		return fmt.Errorf("call_async: unknown completion %q", completion)
	}
	if _, isCompletion := info.TypeInfo.(AsyncCompletionInfo); !isCompletion {
		return fmt.Errorf("call_async: %q is not an async completion", completion)
	}
	s.res.Callables.CallAsync(functionId, completionId, params, userData)
	return nil
}

// buildComponentList validates component values, appends bundle defaults,
// and returns the canonical sorted list with copied data.
func (s *SystemScope) buildComponentList(op string, components []ComponentData) ([]ComponentData, error) {
	registry := s.res.Registry

	ids := make([]ComponentId, len(components))
	for i, c := range components {
		if c.ComponentId == InvalidComponentId {
			return nil, fmt.Errorf("%s: invalid component id at index %d", op, i)
		}
		info := registry.Get(c.ComponentId)
		if info == nil {
			return nil, fmt.Errorf("%s: unregistered component id %d", op, c.ComponentId)
		}
		if _, isEntity := info.TypeInfo.(EntityComponentInfo); !isEntity {
			return nil, fmt.Errorf("%s: %q is not an entity component", op, info.Name)
		}
		if len(c.Data) != info.Size {
			return nil, fmt.Errorf("%s: component %q has %d bytes, expected %d", op, info.Name, len(c.Data), info.Size)
		}
		ids[i] = c.ComponentId
	}

	bundled := bundleRequiredComponents(ids, s.res.Bundles)

	list := make([]ComponentData, 0, len(components)+len(bundled))
	for _, c := range components {
		list = append(list, ComponentData{ComponentId: c.ComponentId, Data: cloneBytes(c.Data)})
	}
	for _, c := range bundled {
		list = append(list, ComponentData{ComponentId: c.Id, Data: cloneBytes(c.DefaultValue)})
	}

	slices.SortStableFunc(list, func(a, b ComponentData) int {
		return int(a.ComponentId) - int(b.ComponentId)
	})
	for i := 1; i < len(list); i++ {
		if list[i-1].ComponentId == list[i].ComponentId {
			info := registry.Get(list[i].ComponentId)
			return nil, fmt.Errorf("%s: duplicate component %q", op, info.Name)
		}
	}

	return list, nil
}
