package ecs

import (
	"encoding/json"
	"fmt"
)

// StaticModule is an EcsModule backed by in-process tables, for engine-side
// modules, tools, and tests. Compiled modules generate the same tables at
// build time; StaticModule lets plain Go code declare them directly.
type StaticModule struct {
	name    string
	version uint32

	initFn   func() error
	deinitFn func() error

	components []StaticComponent
	byName     map[string]*StaticComponent
	systems    []StaticSystem
}

// StaticComponent declares one ECS type of a StaticModule.
type StaticComponent struct {
	StringId string
	Size     int
	Align    int
	Type     ComponentType

	GpuCompatible bool
	// NotFreelyMutable marks components systems may not take mutably.
	NotFreelyMutable bool

	// Resource hooks, used when Type is ComponentTypeResource.
	ResourceInit        func(dst []byte) error
	ResourceSerialize   func(src []byte) ([]byte, error)
	ResourceDeserialize func(dst, data []byte) error

	// DeserializeJson decodes a scene payload, used for entity components.
	DeserializeJson func(dst, text []byte) error

	// Callable hooks, used when Type is ComponentTypeCallable.
	Callable     CallableFn
	CallableSync bool

	// CompletionOf names the callable whose results a
	// ComponentTypeAsyncCompletion type delivers.
	CompletionOf string
}

// StaticSystem declares one system of a StaticModule.
type StaticSystem struct {
	Name  string
	Once  bool
	Async bool
	Gpu   bool
	Fn    SystemFn
	Args  []StaticArg
}

// StaticArg declares one system input.
type StaticArg struct {
	Kind      ArgKind
	Component string
	Event     string
	Query     []StaticQueryArg
}

type StaticQueryArg struct {
	Component string
	Mut       bool
}

func ResourceRefArg(stringId string) StaticArg {
	return StaticArg{Kind: ArgKindDataAccessRef, Component: stringId}
}

func ResourceMutArg(stringId string) StaticArg {
	return StaticArg{Kind: ArgKindDataAccessMut, Component: stringId}
}

func EventReaderArg(eventType string) StaticArg {
	return StaticArg{Kind: ArgKindEventReader, Event: eventType}
}

func EventWriterArg(eventType string) StaticArg {
	return StaticArg{Kind: ArgKindEventWriter, Event: eventType}
}

func CompletionArg(stringId string) StaticArg {
	return StaticArg{Kind: ArgKindCompletion, Component: stringId}
}

func QueryArg(components ...StaticQueryArg) StaticArg {
	return StaticArg{Kind: ArgKindQuery, Query: components}
}

func QueryRef(stringId string) StaticQueryArg {
	return StaticQueryArg{Component: stringId}
}

func QueryMut(stringId string) StaticQueryArg {
	return StaticQueryArg{Component: stringId, Mut: true}
}

func NewStaticModule(name string, targetVersion uint32) *StaticModule {
	return &StaticModule{
		name:    name,
		version: targetVersion,
		byName:  make(map[string]*StaticComponent),
	}
}

// OnInit sets the module's Init hook.
func (m *StaticModule) OnInit(fn func() error) *StaticModule {
	m.initFn = fn
	return m
}

// OnDeinit sets the module's Deinit hook.
func (m *StaticModule) OnDeinit(fn func() error) *StaticModule {
	m.deinitFn = fn
	return m
}

// AddComponent declares an ECS type. Declaring the same string id twice
// panics; it is a module authoring error.
func (m *StaticModule) AddComponent(c StaticComponent) *StaticModule {
	if _, exists := m.byName[c.StringId]; exists {
		panic(fmt.Sprintf("ecs: module %s declares %q twice", m.name, c.StringId))
	}
	if c.Align <= 0 {
		c.Align = 1
	}
	m.components = append(m.components, c)
	m.byName[c.StringId] = &m.components[len(m.components)-1]

	// appending may have moved earlier entries
	for i := range m.components {
		m.byName[m.components[i].StringId] = &m.components[i]
	}
	return m
}

// AddComponentType declares a plain entity component shaped like T, with a
// JSON scene decoder that unmarshals into T.
func AddComponentType[T any](m *StaticModule, stringId string) *StaticModule {
	size, align := SizeAlignOf[T]()
	return m.AddComponent(StaticComponent{
		StringId: stringId,
		Size:     size,
		Align:    align,
		Type:     ComponentTypeComponent,
		DeserializeJson: func(dst, text []byte) error {
			return json.Unmarshal(text, ComponentAs[T](dst))
		},
	})
}

// AddResourceType declares a resource shaped like T, initialized to initial.
func AddResourceType[T any](m *StaticModule, stringId string, initial T) *StaticModule {
	size, align := SizeAlignOf[T]()
	return m.AddComponent(StaticComponent{
		StringId: stringId,
		Size:     size,
		Align:    align,
		Type:     ComponentTypeResource,
		ResourceInit: func(dst []byte) error {
			*ComponentAs[T](dst) = initial
			return nil
		},
		ResourceSerialize: func(src []byte) ([]byte, error) {
			return json.Marshal(ComponentAs[T](src))
		},
		ResourceDeserialize: func(dst, data []byte) error {
			return json.Unmarshal(data, ComponentAs[T](dst))
		},
	})
}

// AddSystem declares a system.
func (m *StaticModule) AddSystem(s StaticSystem) *StaticModule {
	m.systems = append(m.systems, s)
	return m
}

func (m *StaticModule) ModuleName() string    { return m.name }
func (m *StaticModule) TargetVersion() uint32 { return m.version }

func (m *StaticModule) Init() error {
	if m.initFn != nil {
		return m.initFn()
	}
	return nil
}

func (m *StaticModule) Deinit() error {
	if m.deinitFn != nil {
		return m.deinitFn()
	}
	return nil
}

func (m *StaticModule) ComponentsLen() int {
	return len(m.components)
}

func (m *StaticModule) ComponentStringId(index int) string {
	return m.components[index].StringId
}

func (m *StaticModule) component(stringId string) *StaticComponent {
	c, ok := m.byName[stringId]
	if !ok {
		panic(fmt.Sprintf("ecs: module %s: unknown component %q", m.name, stringId))
	}
	return c
}

func (m *StaticModule) ComponentSize(stringId string) int {
	return m.component(stringId).Size
}

func (m *StaticModule) ComponentAlign(stringId string) int {
	return m.component(stringId).Align
}

func (m *StaticModule) ComponentType(stringId string) ComponentType {
	return m.component(stringId).Type
}

func (m *StaticModule) ComponentAsyncCompletionCallable(stringId string) string {
	return m.component(stringId).CompletionOf
}

func (m *StaticModule) ComponentGpuCompatible(stringId string) bool {
	return m.component(stringId).GpuCompatible
}

func (m *StaticModule) ComponentFreelyMutable(stringId string) bool {
	return !m.component(stringId).NotFreelyMutable
}

func (m *StaticModule) SystemsLen() int {
	return len(m.systems)
}

func (m *StaticModule) SystemName(index int) string {
	return m.systems[index].Name
}

func (m *StaticModule) SystemIsOnce(index int) bool {
	return m.systems[index].Once
}

func (m *StaticModule) SystemIsAsync(index int) bool {
	return m.systems[index].Async
}

func (m *StaticModule) SystemIsGpu(index int) bool {
	return m.systems[index].Gpu
}

func (m *StaticModule) SystemFn(index int) SystemFn {
	return m.systems[index].Fn
}

func (m *StaticModule) SystemArgsLen(systemIndex int) int {
	return len(m.systems[systemIndex].Args)
}

func (m *StaticModule) SystemArgKind(systemIndex, argIndex int) ArgKind {
	return m.systems[systemIndex].Args[argIndex].Kind
}

func (m *StaticModule) SystemArgComponent(systemIndex, argIndex int) string {
	return m.systems[systemIndex].Args[argIndex].Component
}

func (m *StaticModule) SystemArgEvent(systemIndex, argIndex int) string {
	return m.systems[systemIndex].Args[argIndex].Event
}

func (m *StaticModule) SystemQueryArgsLen(systemIndex, argIndex int) int {
	return len(m.systems[systemIndex].Args[argIndex].Query)
}

func (m *StaticModule) SystemQueryArgKind(systemIndex, argIndex, queryArgIndex int) ArgKind {
	if m.systems[systemIndex].Args[argIndex].Query[queryArgIndex].Mut {
		return ArgKindDataAccessMut
	}
	return ArgKindDataAccessRef
}

func (m *StaticModule) SystemQueryArgComponent(systemIndex, argIndex, queryArgIndex int) string {
	return m.systems[systemIndex].Args[argIndex].Query[queryArgIndex].Component
}

func (m *StaticModule) ResourceInit(stringId string, dst []byte) error {
	c := m.component(stringId)
	if c.ResourceInit == nil {
		return nil
	}
	return c.ResourceInit(dst)
}

func (m *StaticModule) ResourceSerialize(stringId string, src []byte) ([]byte, error) {
	c := m.component(stringId)
	if c.ResourceSerialize == nil {
		return cloneBytes(src), nil
	}
	return c.ResourceSerialize(src)
}

func (m *StaticModule) ResourceDeserialize(stringId string, dst, data []byte) error {
	c := m.component(stringId)
	if c.ResourceDeserialize == nil {
		if len(data) != len(dst) {
			return fmt.Errorf("resource %q: %d bytes, expected %d", stringId, len(data), len(dst))
		}
		copy(dst, data)
		return nil
	}
	return c.ResourceDeserialize(dst, data)
}

func (m *StaticModule) ComponentDeserializeJson(stringId string, dst, text []byte) error {
	c := m.component(stringId)
	if c.DeserializeJson == nil {
		return fmt.Errorf("component %q has no scene decoder", stringId)
	}
	return c.DeserializeJson(dst, text)
}

func (m *StaticModule) CallableFn(stringId string) CallableFn {
	return m.component(stringId).Callable
}

func (m *StaticModule) CallableIsSync(stringId string) bool {
	return m.component(stringId).CallableSync
}
