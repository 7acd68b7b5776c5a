package ecs

import (
	"encoding/json"
	"fmt"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vague-archive/engine-sub000/linalg"
)

// FrameUpdate owns the full engine state and drives frame processing. A
// frame runs async systems, then CPU systems in registration order, applies
// the commands they deferred, recomputes world transforms, and finally runs
// GPU systems against the settled data.
type FrameUpdate struct {
	config   Config
	logger   *zap.Logger
	registry *ComponentRegistry

	cpuData *CpuFrameData
	gpuData GpuFrameData

	world    *World
	delegate *SyncWorldDelegate

	events    *EventManager
	callables *Callables
	executor  *Executor
	systems   *SystemGraph

	archetypes *ArchetypeStorageMap

	modules      []*moduleDescriptor
	moduleByName map[string]EcsModule

	bundles []ComponentBundle

	gpuConfigResolved bool
	gpuGroupings      [][]ComponentId
	gpuSingleBuffer   []GpuSingleBufferComponent

	builtins  builtinIds
	timer     frameTimer
	tickCount uint32
}

// NewFrameUpdate builds an engine from a config. A nil gpuData gets an
// in-memory BasicGpuData; a nil logger is silenced.
func NewFrameUpdate(cfg Config, gpuData GpuFrameData, logger *zap.Logger) (*FrameUpdate, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gpuData == nil {
		gpuData = NewBasicGpuData()
	}
	cfg = cfg.withDefaults()

	f := &FrameUpdate{
		config:       cfg,
		logger:       logger,
		registry:     NewComponentRegistry(),
		cpuData:      NewCpuFrameData(),
		gpuData:      gpuData,
		world:        NewWorld(logger),
		callables:    NewCallables(logger),
		executor:     NewExecutor(cfg.Workers),
		systems:      NewSystemGraph(logger),
		archetypes:   NewArchetypeStorageMap(),
		moduleByName: make(map[string]EcsModule),
	}
	f.delegate = f.world.SyncDelegate()
	f.events = NewEventManager(f.executor.Slots())

	builtins, err := registerBuiltins(f.registry, f.cpuData)
	if err != nil {
		return nil, err
	}
	f.builtins = builtins

	// spawning a Transform always brings an identity LocalToWorld along
	identity := LocalToWorld{Matrix: linalg.Identity()}
	f.RegisterBundle(ComponentBundle{
		SourceComponents: []ComponentId{builtins.transform},
		BundledComponents: []ComponentDefault{
			{Id: builtins.localToWorld, DefaultValue: cloneBytes(ComponentBytes(&identity))},
		},
	})

	return f, nil
}

// Close deinitializes modules in reverse registration order and stops the
// worker pool.
func (f *FrameUpdate) Close() error {
	var firstErr error
	for i := len(f.modules) - 1; i >= 0; i-- {
		if err := f.modules[i].module.Deinit(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("deinit module %q: %w", f.modules[i].name, err)
		}
	}
	f.executor.Close()
	return firstErr
}

func (f *FrameUpdate) Registry() *ComponentRegistry { return f.registry }
func (f *FrameUpdate) World() *World                { return f.world }
func (f *FrameUpdate) CpuData() *CpuFrameData       { return f.cpuData }
func (f *FrameUpdate) GpuData() GpuFrameData        { return f.gpuData }
func (f *FrameUpdate) Events() *EventManager        { return f.events }
func (f *FrameUpdate) Callables() *Callables        { return f.callables }
func (f *FrameUpdate) Systems() *SystemGraph        { return f.systems }
func (f *FrameUpdate) Archetypes() *ArchetypeStorageMap {
	return f.archetypes
}

// RegisterBundle adds a component bundle. Bundles apply to every later spawn,
// add-components, and scene load.
func (f *FrameUpdate) RegisterBundle(bundle ComponentBundle) {
	f.bundles = append(f.bundles, bundle)
}

// SendPlatformEvent lets the host push an event readable by any system with
// an EventReader for the type.
func (f *FrameUpdate) SendPlatformEvent(eventType string, payload []byte) {
	f.events.SendPlatformEvent(eventType, payload)
}

// RegisterModule loads a module: version gate, Init, component registration,
// and system binding. On failure the module is skipped and the error
// returned.
func (f *FrameUpdate) RegisterModule(m EcsModule) error {
	name := m.ModuleName()

	if m.TargetVersion() != EngineVersion {
		err := fmt.Errorf("register module %q: built for engine %s, running %s",
			name, formatVersion(m.TargetVersion()), formatVersion(EngineVersion))
		f.logger.Warn("module version mismatch; skipping", zap.String("module", name), zap.Error(err))
		return err
	}
	if _, exists := f.moduleByName[name]; exists {
		return fmt.Errorf("register module %q: already registered", name)
	}

	if err := m.Init(); err != nil {
		return fmt.Errorf("register module %q: init: %w", name, err)
	}

	if err := f.registerModuleComponents(m, name); err != nil {
		f.logger.Warn("module component registration failed; skipping module",
			zap.String("module", name), zap.Error(err))
		if derr := m.Deinit(); derr != nil {
			f.logger.Warn("module deinit failed", zap.String("module", name), zap.Error(derr))
		}
		return err
	}

	desc := buildModuleDescriptor(m)
	for si := range desc.systems {
		sys := newCpuSystem(&desc.systems[si], f.registry, f.events, f.builtins.entityId, f.config.ParallelBlockSize, f.logger)
		f.archetypes.Each(sys.AddArchetypeInput)
		switch {
		case desc.systems[si].gpu:
			f.systems.AddGpuSystem(sys, desc.systems[si].once)
		case desc.systems[si].async:
			sys.commandSlot = f.events.AddCommandSlot()
			f.systems.AddCpuSystem(sys, desc.systems[si].once, true)
		default:
			f.systems.AddCpuSystem(sys, desc.systems[si].once, false)
		}
	}

	f.modules = append(f.modules, desc)
	f.moduleByName[name] = m

	f.logger.Info("registered module",
		zap.String("module", name),
		zap.Int("components", m.ComponentsLen()),
		zap.Int("systems", m.SystemsLen()))
	return nil
}

func (f *FrameUpdate) registerModuleComponents(m EcsModule, moduleName string) error {
	gpuModule, _ := m.(GpuComponentModule)
	mutModule, _ := m.(MutabilityModule)
	callableModule, _ := m.(CallableModule)

	// completions resolve their callable by string id, so they register after
	// everything else
	var completions []string

	for i := 0; i < m.ComponentsLen(); i++ {
		stringId := m.ComponentStringId(i)

		switch m.ComponentType(stringId) {
		case ComponentTypeComponent:
			info := ComponentInfo{
				Name:          stringId,
				Size:          m.ComponentSize(stringId),
				Align:         m.ComponentAlign(stringId),
				FreelyMutable: true,
				TypeInfo:      EntityComponentInfo{DeclaringModule: moduleName},
			}
			if gpuModule != nil {
				info.GpuCompatible = gpuModule.ComponentGpuCompatible(stringId)
			}
			if mutModule != nil {
				info.FreelyMutable = mutModule.ComponentFreelyMutable(stringId)
			}
			if _, err := f.registry.Register(info); err != nil {
				return err
			}

		case ComponentTypeResource:
			size := m.ComponentSize(stringId)
			align := m.ComponentAlign(stringId)
			bufferIndex := f.cpuData.NewBuffer(size, align)

			buf := f.cpuData.BorrowMut(bufferIndex)
			slot := buf.Grow()
			err := m.ResourceInit(stringId, slot)
			buf.Release()
			if err != nil {
				return fmt.Errorf("resource %q init: %w", stringId, err)
			}

			if _, err := f.registry.Register(ComponentInfo{
				Name:  stringId,
				Size:  size,
				Align: align,
				TypeInfo: ResourceInfo{
					BufferIndex:     bufferIndex,
					DeclaringModule: moduleName,
				},
			}); err != nil {
				return err
			}

		case ComponentTypeCallable:
			isSync := true
			var fn CallableFn
			if callableModule != nil {
				fn = callableModule.CallableFn(stringId)
				isSync = callableModule.CallableIsSync(stringId)
			}

			id, err := f.registry.Register(ComponentInfo{
				Name:     stringId,
				TypeInfo: CallableInfo{IsSync: isSync},
			})
			if err != nil {
				return err
			}
			if fn != nil {
				f.callables.register(id, fn, isSync)
			}

		case ComponentTypeAsyncCompletion:
			completions = append(completions, stringId)
		}
	}

	for _, stringId := range completions {
		callableName := m.ComponentAsyncCompletionCallable(stringId)
		callableId, _, ok := f.registry.GetByName(callableName)
		if !ok {
			return fmt.Errorf("completion %q: unknown callable %q", stringId, callableName)
		}
		if _, err := f.registry.Register(ComponentInfo{
			Name:     stringId,
			Size:     m.ComponentSize(stringId),
			Align:    m.ComponentAlign(stringId),
			TypeInfo: AsyncCompletionInfo{CallableId: callableId},
		}); err != nil {
			return err
		}
	}

	return nil
}

// frameTimer averages the frame rate over windows of at least one second and
// 120 frames.
type frameTimer struct {
	accum  float64
	frames int
	rate   float32
}

func (t *frameTimer) tick(dt float32) float32 {
	t.accum += float64(dt)
	t.frames++

	if t.accum >= 1 && t.frames >= 120 {
		t.rate = float32(float64(t.frames) / t.accum)
		t.accum = 0
		t.frames = 0
	}

	if t.rate == 0 && dt > 0 {
		// no full window yet
		return 1 / dt
	}
	return t.rate
}

// Update processes one frame. System failures are contained: a failing system
// is logged and disabled, and the frame continues.
func (f *FrameUpdate) Update(deltaTime float32) {
	f.tickCount++
	rate := f.timer.tick(deltaTime)
	err := WithResourceMut(f.cpuData, f.registry, FrameConstantsName, func(c *FrameConstants) {
		c.DeltaTime = deltaTime
		c.FrameRate = rate
		c.TickCount = f.tickCount
	})
	if err != nil {
		panic(err)
	}

	f.callables.harvestCompletions()

	res := &ExecuteResources{
		CpuData:   f.cpuData,
		GpuData:   f.gpuData,
		Events:    f.events,
		World:     f.delegate,
		Registry:  f.registry,
		Bundles:   f.bundles,
		Callables: f.callables,
		Executor:  f.executor,
	}

	if batches := f.systems.asyncBatches(); len(batches) > 0 {
		var group errgroup.Group
		for _, batch := range batches {
			batch := batch
			group.Go(func() error {
				for _, sys := range batch {
					if err := sys.Execute(res); err != nil {
						f.logger.Error("async system returned error; disabling",
							zap.String("system", sys.Name()), zap.Error(err))
						f.systems.disableSystem(sys.Name())
					}
				}
				return nil
			})
		}
		// failures are contained per system, the group only synchronizes
		_ = group.Wait()
	}

	f.systems.ExecuteCpu(res)

	f.events.DrainCommands(f.applyCommand)

	f.callables.dispatchQueueAndClearCompletions()

	updateWorldTransforms(f.world, f.archetypes, f.cpuData, f.builtins.transform, f.builtins.localToWorld)

	f.systems.ExecuteGpu(res)
}

func (f *FrameUpdate) applyCommand(cmd Command) {
	switch c := cmd.(type) {
	case SpawnCommand:
		f.applySpawn(c)
	case DespawnCommand:
		f.applyDespawn(c.Entity, true)
	case AddComponentsCommand:
		f.applyAddComponents(c)
	case RemoveComponentsCommand:
		f.applyRemoveComponents(c)
	case SetEntityLabelCommand:
		f.world.SetLabel(c.Entity, c.Label)
	case SetParentCommand:
		f.applySetParent(c)
	case SetSystemEnabledCommand:
		f.systems.SetSystemEnabled(c.SystemName, c.Enabled)
	case LoadSceneCommand:
		if err := f.loadSceneNow(c.SceneJSON); err != nil {
			f.logger.Warn("load scene failed", zap.Error(err))
		}
	default:
		panic(fmt.Sprintf("ecs: unknown command type %T", cmd))
	}
}

// ensureStorage returns the storage for a key, allocating it and offering it
// to every system's queries on first use. Storages are never destroyed.
func (f *FrameUpdate) ensureStorage(key ArchetypeKey) *ArchetypeStorage {
	if storage, ok := f.archetypes.Get(key); ok {
		return storage
	}

	f.resolveGpuConfig()

	storage := NewArchetypeStorage(key, f.builtins.entityId, f.registry,
		f.gpuGroupings, f.gpuSingleBuffer, f.cpuData, f.gpuData)
	f.archetypes.Insert(storage)
	f.systems.AddArchetypeInput(storage)
	return storage
}

// resolveGpuConfig maps the config's string ids to component ids. Deferred
// until the first storage allocation so modules have registered their
// components.
func (f *FrameUpdate) resolveGpuConfig() {
	if f.gpuConfigResolved {
		return
	}
	f.gpuConfigResolved = true

	for _, grouping := range f.config.GpuComponentGroupings {
		var ids []ComponentId
		for _, name := range grouping {
			id, info, ok := f.registry.GetByName(name)
			if !ok || !info.GpuCompatible {
				f.logger.Warn("gpu grouping names unknown or non-gpu component; ignoring",
					zap.String("component", name))
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) > 0 {
			f.gpuGroupings = append(f.gpuGroupings, ids)
		}
	}

	for _, name := range f.config.GpuSingleBufferComponents {
		id, _, ok := f.registry.GetByName(name)
		if !ok {
			f.logger.Warn("gpu single-buffer config names unknown component; ignoring",
				zap.String("component", name))
			continue
		}
		f.gpuSingleBuffer = append(f.gpuSingleBuffer, GpuSingleBufferComponent{ComponentId: id})
	}
}

// writeRow appends an entity's row to a storage and returns its index.
// Components must be sorted and must cover the storage's key exactly.
func (f *FrameUpdate) writeRow(storage *ArchetypeStorage, id EntityId, components []ComponentData) int {
	findData := func(cid ComponentId) []byte {
		for i := range components {
			if components[i].ComponentId == cid {
				return components[i].Data
			}
		}
		panic(fmt.Sprintf("ecs: spawn row missing component %d", cid))
	}

	cpuBuf := f.cpuData.bufferUnchecked(storage.Cpu.BufferIndex)
	index := cpuBuf.length
	entry := cpuBuf.grow()

	for _, ci := range storage.Cpu.Components {
		if ci.ComponentId == f.builtins.entityId {
			copy(entry[ci.Offset:], ComponentBytes(&id))
			continue
		}
		copy(entry[ci.Offset:], findData(ci.ComponentId))
	}

	for gi := range storage.Gpu {
		info := &storage.Gpu[gi]
		gpuEntry := f.gpuData.Grow(info.BufferIndex, info.Partition)
		for _, ci := range info.Components {
			copy(gpuEntry[ci.Offset:], findData(ci.ComponentId))
		}
	}

	storage.setEntityIndex(id, index)
	return index
}

// removeRow swap-removes a storage row and fixes up the moved entity's index
// bookkeeping. The caller must already have dropped the removed entity's own
// index entry.
func (f *FrameUpdate) removeRow(storage *ArchetypeStorage, index int) {
	cpuBuf := f.cpuData.bufferUnchecked(storage.Cpu.BufferIndex)

	var movedId EntityId
	if index < cpuBuf.length-1 {
		idSize, _ := SizeAlignOf[EntityId]()
		last := cpuBuf.entryOffset(cpuBuf.length-1, storage.Cpu.EntityIdOffset, idSize)
		movedId = *ComponentAs[EntityId](last)
	}

	cpuBuf.swapRemove(index)
	for gi := range storage.Gpu {
		f.gpuData.SwapRemove(storage.Gpu[gi].BufferIndex, storage.Gpu[gi].Partition, index)
	}

	if movedId.Valid() {
		storage.setEntityIndex(movedId, index)
		if data := f.world.Get(movedId); data != nil {
			data.ArchetypeIndex = index
		}
	}
}

func (f *FrameUpdate) applySpawn(cmd SpawnCommand) {
	ids := make([]ComponentId, len(cmd.Components))
	for i := range cmd.Components {
		ids[i] = cmd.Components[i].ComponentId
	}
	key := NewArchetypeKey(ids...)

	storage := f.ensureStorage(key)
	index := f.cpuData.bufferUnchecked(storage.Cpu.BufferIndex).length

	ok := f.world.SpawnPreallocated(cmd.Entity, EntityData{
		ArchetypeKey:   key,
		ArchetypeIndex: index,
	})
	if !ok {
		// despawned before materialization; the despawn wins
		f.logger.Warn("spawn: entity despawned before materialization",
			zap.Uint64("entity", uint64(cmd.Entity)))
		return
	}

	f.writeRow(storage, cmd.Entity, cmd.Components)
}

func (f *FrameUpdate) applyDespawn(id EntityId, unlinkParent bool) {
	data, ok := f.world.Despawn(id)
	if !ok {
		f.logger.Warn("despawn: stale entity id", zap.Uint64("entity", uint64(id)))
		return
	}
	if data == nil {
		// reserved but never materialized
		return
	}

	if unlinkParent && data.Parent != InvalidEntityId {
		if parentData := f.world.Get(data.Parent); parentData != nil {
			parentData.Children = slices.DeleteFunc(parentData.Children, func(c EntityId) bool {
				return c == id
			})
		}
	}

	if storage, ok := f.archetypes.Get(data.ArchetypeKey); ok {
		storage.removeEntityIndex(id)
		f.removeRow(storage, data.ArchetypeIndex)
	}

	for _, child := range data.Children {
		f.applyDespawn(child, false)
	}
}

func (f *FrameUpdate) applyAddComponents(cmd AddComponentsCommand) {
	data := f.world.Get(cmd.Entity)
	if data == nil {
		f.logger.Warn("add_components: stale entity id", zap.Uint64("entity", uint64(cmd.Entity)))
		return
	}

	ids := make([]ComponentId, len(cmd.Components))
	for i := range cmd.Components {
		ids[i] = cmd.Components[i].ComponentId
	}

	newKey := data.ArchetypeKey.With(ids...)
	if newKey.Equal(data.ArchetypeKey) {
		f.logger.Warn("add_components: archetype unchanged; skipping",
			zap.Uint64("entity", uint64(cmd.Entity)))
		return
	}

	f.migrate(cmd.Entity, data, newKey, cmd.Components)
}

func (f *FrameUpdate) applyRemoveComponents(cmd RemoveComponentsCommand) {
	data := f.world.Get(cmd.Entity)
	if data == nil {
		f.logger.Warn("remove_components: stale entity id", zap.Uint64("entity", uint64(cmd.Entity)))
		return
	}

	newKey := data.ArchetypeKey.Without(cmd.ComponentIds...)
	if newKey.Equal(data.ArchetypeKey) {
		f.logger.Warn("remove_components: archetype unchanged; skipping",
			zap.Uint64("entity", uint64(cmd.Entity)))
		return
	}

	f.migrate(cmd.Entity, data, newKey, nil)
}

// migrate moves an entity between archetypes, carrying over shared component
// data and writing newly provided values.
func (f *FrameUpdate) migrate(id EntityId, data *EntityData, newKey ArchetypeKey, newComponents []ComponentData) {
	oldStorage, ok := f.archetypes.Get(data.ArchetypeKey)
	if !ok {
		panic(fmt.Sprintf("ecs: migrate: missing storage for key %v", data.ArchetypeKey))
	}
	newStorage := f.ensureStorage(newKey)

	if len(oldStorage.Gpu) > 0 || len(newStorage.Gpu) > 0 {
		panic("ecs: add/remove components: migration of GPU archetypes is unsupported")
	}

	oldBuf := f.cpuData.bufferUnchecked(oldStorage.Cpu.BufferIndex)
	newBuf := f.cpuData.bufferUnchecked(newStorage.Cpu.BufferIndex)

	oldIndex := data.ArchetypeIndex
	newIndex := newBuf.length
	entry := newBuf.grow()

	for _, ci := range newStorage.Cpu.Components {
		if ci.ComponentId == f.builtins.entityId {
			copy(entry[ci.Offset:], ComponentBytes(&id))
			continue
		}

		provided := false
		for i := range newComponents {
			if newComponents[i].ComponentId == ci.ComponentId {
				copy(entry[ci.Offset:], newComponents[i].Data)
				provided = true
				break
			}
		}
		if provided {
			continue
		}

		oldOffset, ok := oldStorage.Cpu.ComponentOffset(ci.ComponentId)
		if !ok {
			panic(fmt.Sprintf("ecs: migrate: no value for component %d", ci.ComponentId))
		}
		size := f.registry.Get(ci.ComponentId).Size
		copy(entry[ci.Offset:], oldBuf.entryOffset(oldIndex, oldOffset, size))
	}

	oldStorage.removeEntityIndex(id)
	f.removeRow(oldStorage, oldIndex)

	newStorage.setEntityIndex(id, newIndex)
	data.ArchetypeKey = newKey
	data.ArchetypeIndex = newIndex
}

func (f *FrameUpdate) applySetParent(cmd SetParentCommand) {
	data := f.world.Get(cmd.Entity)
	if data == nil {
		f.logger.Warn("set_parent: stale entity id", zap.Uint64("entity", uint64(cmd.Entity)))
		return
	}

	if cmd.Parent != InvalidEntityId {
		if f.world.Get(cmd.Parent) == nil {
			f.logger.Warn("set_parent: stale parent id", zap.Uint64("parent", uint64(cmd.Parent)))
			return
		}

		// reject cycles: the new parent must not descend from the entity
		for ancestor := cmd.Parent; ancestor != InvalidEntityId; {
			if ancestor == cmd.Entity {
				f.logger.Warn("set_parent: would create a cycle",
					zap.Uint64("entity", uint64(cmd.Entity)),
					zap.Uint64("parent", uint64(cmd.Parent)))
				return
			}
			ancestorData := f.world.Get(ancestor)
			if ancestorData == nil {
				break
			}
			ancestor = ancestorData.Parent
		}
	}

	if cmd.KeepWorldSpaceTransform {
		f.recomputeLocalTransform(cmd.Entity, data, cmd.Parent)
	}

	if data.Parent != InvalidEntityId {
		if oldParent := f.world.Get(data.Parent); oldParent != nil {
			oldParent.Children = slices.DeleteFunc(oldParent.Children, func(c EntityId) bool {
				return c == cmd.Entity
			})
		}
	}

	data.Parent = cmd.Parent
	if cmd.Parent != InvalidEntityId {
		parentData := f.world.Get(cmd.Parent)
		parentData.Children = append(parentData.Children, cmd.Entity)
	}
}

// recomputeLocalTransform rewrites an entity's local Transform so its world
// transform is unchanged under a new parent. Computed against the hierarchy
// before the parent link changes.
func (f *FrameUpdate) recomputeLocalTransform(id EntityId, data *EntityData, newParent EntityId) {
	storage, ok := f.archetypes.Get(data.ArchetypeKey)
	if !ok {
		return
	}
	offset, ok := storage.Cpu.ComponentOffset(f.builtins.transform)
	if !ok {
		return
	}

	entityWorld := worldMatrix(f.world, f.archetypes, f.cpuData, f.builtins.transform, id)
	parentWorld := linalg.Identity()
	if newParent != InvalidEntityId {
		parentWorld = worldMatrix(f.world, f.archetypes, f.cpuData, f.builtins.transform, newParent)
	}

	local := parentWorld.InverseAffine().Mul(entityWorld)

	transformSize, _ := SizeAlignOf[Transform]()
	buf := f.cpuData.bufferUnchecked(storage.Cpu.BufferIndex)
	t := ComponentAs[Transform](buf.entryOffset(data.ArchetypeIndex, offset, transformSize))
	t.Position, t.Rotation, t.Scale = local.Decompose2D()
}

// LoadScene parses and spawns a scene immediately. Systems defer scene loads
// through SystemScope.LoadScene instead, which applies during command
// application.
func (f *FrameUpdate) LoadScene(sceneJSON []byte) error {
	return f.loadSceneNow(sceneJSON)
}

func (f *FrameUpdate) loadSceneNow(sceneJSON []byte) error {
	scene, err := ParseScene(sceneJSON)
	if err != nil {
		return err
	}

	spawned := make(map[string]EntityId)
	sceneIds := make([]EntityId, len(scene.Entities))

	for ei := range scene.Entities {
		entity := &scene.Entities[ei]

		// decode components in sorted name order for determinism
		names := make([]string, 0, len(entity.Components))
		for name := range entity.Components {
			names = append(names, name)
		}
		slices.Sort(names)

		components := make([]ComponentData, 0, len(names))
		ids := make([]ComponentId, 0, len(names))
		for _, name := range names {
			cid, info, ok := f.registry.GetByName(name)
			if !ok {
				return fmt.Errorf("load scene: unknown component %q", name)
			}
			owner, isEntity := info.TypeInfo.(EntityComponentInfo)
			if !isEntity {
				return fmt.Errorf("load scene: %q is not an entity component", name)
			}

			dst := make([]byte, info.Size)
			if owner.DeclaringModule == "engine" {
				err = decodeBuiltinComponent(name, dst, entity.Components[name])
			} else {
				module, ok := f.moduleByName[owner.DeclaringModule]
				if !ok {
					return fmt.Errorf("load scene: component %q owned by unloaded module %q", name, owner.DeclaringModule)
				}
				err = module.ComponentDeserializeJson(name, dst, entity.Components[name])
			}
			if err != nil {
				return fmt.Errorf("load scene: decode %q: %w", name, err)
			}

			components = append(components, ComponentData{ComponentId: cid, Data: dst})
			ids = append(ids, cid)
		}

		for _, bundled := range bundleRequiredComponents(ids, f.bundles) {
			components = append(components, ComponentData{
				ComponentId: bundled.Id,
				Data:        cloneBytes(bundled.DefaultValue),
			})
		}
		slices.SortStableFunc(components, func(a, b ComponentData) int {
			return int(a.ComponentId) - int(b.ComponentId)
		})

		id := f.world.allocateSlot()
		f.applySpawn(SpawnCommand{Entity: id, Components: components})
		sceneIds[ei] = id

		if entity.Label != "" {
			f.world.SetLabel(id, entity.Label)
		}
		if entity.Id != "" {
			spawned[entity.Id] = id
		}
	}

	// parent links resolve after all entities exist
	for ei := range scene.Entities {
		entity := &scene.Entities[ei]
		if entity.Parent == "" {
			continue
		}
		parentId, ok := spawned[entity.Parent]
		if !ok {
			f.logger.Warn("load scene: parent id not found", zap.String("parent", entity.Parent))
			continue
		}
		f.applySetParent(SetParentCommand{Entity: sceneIds[ei], Parent: parentId})
	}

	return nil
}

type snapshotFile struct {
	Resources map[string][]byte `json:"resources"`
}

// SaveSnapshot serializes every registered resource through its declaring
// module's serialize hook. Engine resources are captured as raw bytes.
func (f *FrameUpdate) SaveSnapshot() ([]byte, error) {
	snapshot := snapshotFile{Resources: make(map[string][]byte)}
	var failure error

	f.registry.Each(func(_ ComponentId, info *ComponentInfo) {
		if failure != nil {
			return
		}
		ri, isResource := info.TypeInfo.(ResourceInfo)
		if !isResource {
			return
		}

		buf := f.cpuData.Borrow(ri.BufferIndex)
		src := buf.Entry(0)

		if ri.DeclaringModule == "engine" {
			snapshot.Resources[info.Name] = cloneBytes(src)
		} else if module, ok := f.moduleByName[ri.DeclaringModule]; ok {
			data, err := module.ResourceSerialize(info.Name, src)
			if err != nil {
				failure = fmt.Errorf("save snapshot: resource %q: %w", info.Name, err)
			} else {
				snapshot.Resources[info.Name] = data
			}
		}
		buf.Release()
	})

	if failure != nil {
		return nil, failure
	}
	return json.Marshal(snapshot)
}

// LoadSnapshot restores resources captured by SaveSnapshot. Resources missing
// from the snapshot keep their current values.
func (f *FrameUpdate) LoadSnapshot(data []byte) error {
	var snapshot snapshotFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	for name, payload := range snapshot.Resources {
		_, info, ok := f.registry.GetByName(name)
		if !ok {
			f.logger.Warn("load snapshot: unknown resource; ignoring", zap.String("resource", name))
			continue
		}
		ri, isResource := info.TypeInfo.(ResourceInfo)
		if !isResource {
			f.logger.Warn("load snapshot: not a resource; ignoring", zap.String("resource", name))
			continue
		}

		buf := f.cpuData.BorrowMut(ri.BufferIndex)
		dst := buf.Entry(0)

		var err error
		if ri.DeclaringModule == "engine" {
			if len(payload) != len(dst) {
				err = fmt.Errorf("engine resource %q: %d bytes, expected %d", name, len(payload), len(dst))
			} else {
				copy(dst, payload)
			}
		} else if module, ok := f.moduleByName[ri.DeclaringModule]; ok {
			err = module.ResourceDeserialize(name, dst, payload)
		}
		buf.Release()

		if err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}
	}

	return nil
}
