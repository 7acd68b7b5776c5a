package ecs

import (
	"fmt"

	"go.uber.org/zap"
)

// Arg is one resolved system input. The kind decides which accessor is
// valid.
type Arg struct {
	kind        ArgKind
	resource    []byte
	query       *Query
	reader      *EventReader
	writer      *EventWriter
	completions []CompletedTask
}

func (a *Arg) Kind() ArgKind {
	return a.kind
}

// Resource returns the resource's bytes. Writing through the slice is only
// valid for ArgKindDataAccessMut.
func (a *Arg) Resource() []byte {
	if a.kind != ArgKindDataAccessRef && a.kind != ArgKindDataAccessMut {
		panic("ecs: arg is not a resource access")
	}
	return a.resource
}

func (a *Arg) Query() *Query {
	if a.kind != ArgKindQuery {
		panic("ecs: arg is not a query")
	}
	return a.query
}

func (a *Arg) EventReader() *EventReader {
	if a.kind != ArgKindEventReader {
		panic("ecs: arg is not an event reader")
	}
	return a.reader
}

func (a *Arg) EventWriter() *EventWriter {
	if a.kind != ArgKindEventWriter {
		panic("ecs: arg is not an event writer")
	}
	return a.writer
}

func (a *Arg) Completions() []CompletedTask {
	if a.kind != ArgKindCompletion {
		panic("ecs: arg is not a completion")
	}
	return a.completions
}

// ResourceAs reinterprets a resource arg as a typed pointer.
func ResourceAs[T any](a *Arg) *T {
	return ComponentAs[T](a.Resource())
}

// EventReader reads every pending event of one type: platform events first,
// then each writing system's events, in thread-then-append order per writer.
type EventReader struct {
	storages []*EventWriterStorage
}

func (r *EventReader) Count() int {
	n := 0
	for _, s := range r.storages {
		n += s.Count()
	}
	return n
}

func (r *EventReader) Event(i int) []byte {
	for _, s := range r.storages {
		c := s.Count()
		if i < c {
			return s.Event(i)
		}
		i -= c
	}
	return nil
}

// ForEach visits every pending event. Returning false stops the iteration.
func (r *EventReader) ForEach(fn func(payload []byte) bool) {
	for _, s := range r.storages {
		for i := 0; i < s.Count(); i++ {
			if !fn(s.Event(i)) {
				return
			}
		}
	}
}

// EventWriter appends events to the owning system's storage for one event
// type. Inside ParForEach bodies use WriteSlot with the row's slot.
type EventWriter struct {
	storage *EventWriterStorage
}

func (w *EventWriter) Write(payload []byte) {
	w.storage.Write(0, payload)
}

func (w *EventWriter) WriteSlot(slot int, payload []byte) {
	w.storage.Write(slot, payload)
}

type resourceBinding struct {
	argIndex    int
	bufferIndex int
	mut         bool
}

type eventReaderBinding struct {
	argIndex  int
	eventType string
}

type eventWriterBinding struct {
	argIndex int
	storage  *EventWriterStorage
}

type completionBinding struct {
	argIndex     int
	completionId ComponentId
}

// CpuSystem binds one module system's declared inputs to engine storage. The
// bindings are classified once at module registration; execute resolves them
// against live data every frame.
type CpuSystem struct {
	name    string
	fn      SystemFn
	argsLen int

	queries      []*Query
	queryArgs    []int // arg index per query
	resources    []resourceBinding
	eventReaders []eventReaderBinding
	eventWriters []eventWriterBinding
	completions  []completionBinding

	// commandSlot is the thread slot this system's scope appends commands
	// to. Async systems get a dedicated slot so concurrent execution never
	// shares a command queue.
	commandSlot int

	// resourceMut maps each accessed resource buffer to whether any access
	// is mutable, for scheduling async systems that must not overlap.
	resourceMut  map[int]bool
	queryCount   int
	queryMut     bool
	readerEvents map[string]bool
	writerEvents map[string]bool

	logger *zap.Logger
}

// newCpuSystem classifies a system descriptor's args. Declaration mistakes
// are module-author errors and panic with the offending system named.
func newCpuSystem(
	desc *systemDescriptor,
	registry *ComponentRegistry,
	events *EventManager,
	entityIdComponent ComponentId,
	blockSize int,
	logger *zap.Logger,
) *CpuSystem {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &CpuSystem{
		name:         desc.name,
		fn:           desc.fn,
		argsLen:      len(desc.args),
		resourceMut:  make(map[int]bool),
		readerEvents: make(map[string]bool),
		writerEvents: make(map[string]bool),
		logger:       logger,
	}

	for _, arg := range desc.args {
		if arg.kind == ArgKindEventWriter {
			s.writerEvents[arg.event] = true
		}
	}

	for ai, arg := range desc.args {
		switch arg.kind {
		case ArgKindDataAccessRef, ArgKindDataAccessMut:
			_, info, ok := registry.GetByName(arg.component)
			if !ok {
				panic(fmt.Sprintf("ecs: system %s: unknown resource %q", desc.name, arg.component))
			}
			ri, isResource := info.TypeInfo.(ResourceInfo)
			if !isResource {
				panic(fmt.Sprintf("ecs: system %s: data access arg %q is not a resource", desc.name, arg.component))
			}
			s.resources = append(s.resources, resourceBinding{
				argIndex:    ai,
				bufferIndex: ri.BufferIndex,
				mut:         arg.kind == ArgKindDataAccessMut,
			})
			s.resourceMut[ri.BufferIndex] = s.resourceMut[ri.BufferIndex] || arg.kind == ArgKindDataAccessMut

		case ArgKindEventReader:
			if s.writerEvents[arg.event] {
				panic(fmt.Sprintf("ecs: system %s: reads and writes event %q", desc.name, arg.event))
			}
			s.readerEvents[arg.event] = true
			s.eventReaders = append(s.eventReaders, eventReaderBinding{argIndex: ai, eventType: arg.event})

		case ArgKindEventWriter:
			storage := events.RegisterModuleEventWriter(arg.event, desc.name)
			s.eventWriters = append(s.eventWriters, eventWriterBinding{argIndex: ai, storage: storage})

		case ArgKindQuery:
			declared := make([]QueryComponent, 0, len(arg.query))
			for _, qa := range arg.query {
				id, info, ok := registry.GetByName(qa.component)
				if !ok {
					panic(fmt.Sprintf("ecs: system %s: query names unknown component %q", desc.name, qa.component))
				}
				if _, isEntity := info.TypeInfo.(EntityComponentInfo); !isEntity {
					panic(fmt.Sprintf("ecs: system %s: query names %q, which is not an entity component", desc.name, qa.component))
				}
				if qa.mut && !info.FreelyMutable {
					panic(fmt.Sprintf("ecs: system %s: mutable query access to engine-managed component %q", desc.name, qa.component))
				}
				declared = append(declared, QueryComponent{Id: id, Mut: qa.mut})
				s.queryMut = s.queryMut || qa.mut
			}
			s.queries = append(s.queries, newQuery(desc.name, declared, registry, entityIdComponent, blockSize))
			s.queryArgs = append(s.queryArgs, ai)
			s.queryCount++

		case ArgKindCompletion:
			id, info, ok := registry.GetByName(arg.component)
			if !ok {
				panic(fmt.Sprintf("ecs: system %s: unknown completion %q", desc.name, arg.component))
			}
			if _, isCompletion := info.TypeInfo.(AsyncCompletionInfo); !isCompletion {
				panic(fmt.Sprintf("ecs: system %s: completion arg %q is not an async completion", desc.name, arg.component))
			}
			s.completions = append(s.completions, completionBinding{argIndex: ai, completionId: id})

		default:
			panic(fmt.Sprintf("ecs: system %s: unknown arg kind %d", desc.name, arg.kind))
		}
	}

	return s
}

func (s *CpuSystem) Name() string {
	return s.name
}

func (s *CpuSystem) AddArchetypeInput(storage *ArchetypeStorage) {
	for _, q := range s.queries {
		q.addArchetypeInput(storage)
	}
}

func (s *CpuSystem) ClearArchetypeInputs() {
	for _, q := range s.queries {
		q.clearArchetypeInputs()
	}
}

func (s *CpuSystem) ClearEventWriterBuffers() {
	for _, w := range s.eventWriters {
		w.storage.Clear()
	}
}

// sharesBorrowsWith reports whether running this system concurrently with
// another could contend for a buffer. Queries borrow whole archetype buffers,
// and any archetype may match both systems, so a mutable query conflicts with
// every other query.
func (s *CpuSystem) sharesBorrowsWith(other EcsSystem) bool {
	o, ok := other.(*CpuSystem)
	if !ok {
		return true
	}
	for buf, mut := range s.resourceMut {
		if omut, shared := o.resourceMut[buf]; shared && (mut || omut) {
			return true
		}
	}
	if s.queryMut && o.queryCount > 0 {
		return true
	}
	if o.queryMut && s.queryCount > 0 {
		return true
	}
	for event := range s.readerEvents {
		if o.writerEvents[event] {
			return true
		}
	}
	for event := range o.readerEvents {
		if s.writerEvents[event] {
			return true
		}
	}
	return false
}

// Execute acquires every declared borrow, resolves the arg list, and invokes
// the system body. Borrows are released on every exit path, including
// panics; a panicking body is reported as an error.
func (s *CpuSystem) Execute(res *ExecuteResources) (err error) {
	// events written last frame have now been readable for one full cycle
	s.ClearEventWriterBuffers()

	scope := &SystemScope{res: res, slot: s.commandSlot, systemName: s.name}

	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	args := make([]Arg, s.argsLen)

	for _, rb := range s.resources {
		kind := ArgKindDataAccessRef
		var bytes []byte
		if rb.mut {
			kind = ArgKindDataAccessMut
			ref := res.CpuData.BorrowMut(rb.bufferIndex)
			releases = append(releases, ref.Release)
			bytes = ref.Entry(0)
		} else {
			ref := res.CpuData.Borrow(rb.bufferIndex)
			releases = append(releases, ref.Release)
			bytes = ref.Entry(0)
		}
		args[rb.argIndex] = Arg{kind: kind, resource: bytes}
	}

	for qi, q := range s.queries {
		q.acquire(res, scope, &releases)
		args[s.queryArgs[qi]] = Arg{kind: ArgKindQuery, query: q}
	}

	for _, rb := range s.eventReaders {
		args[rb.argIndex] = Arg{
			kind:   ArgKindEventReader,
			reader: &EventReader{storages: res.Events.EventStorages(rb.eventType)},
		}
	}

	for _, wb := range s.eventWriters {
		args[wb.argIndex] = Arg{kind: ArgKindEventWriter, writer: &EventWriter{storage: wb.storage}}
	}

	for _, cb := range s.completions {
		args[cb.argIndex] = Arg{
			kind:        ArgKindCompletion,
			completions: res.Callables.Completions(cb.completionId),
		}
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panicked: %v", r)
			}
		}()
		err = s.fn(scope, args)
	}()

	if err != nil {
		return fmt.Errorf("%s: %w", s.name, err)
	}
	return nil
}
