package ecs

// EventWriterStorage holds the pending events of a single writer, bucketed
// per thread slot so ParForEach workers append without locking. Payloads are
// copied on write.
type EventWriterStorage struct {
	perThread [][][]byte
}

func newEventWriterStorage(slots int) *EventWriterStorage {
	return &EventWriterStorage{perThread: make([][][]byte, slots)}
}

// Write appends a payload copy to the given thread slot's buffer.
func (s *EventWriterStorage) Write(slot int, payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.perThread[slot] = append(s.perThread[slot], buf)
}

// Count returns the total number of pending events across all thread slots.
func (s *EventWriterStorage) Count() int {
	n := 0
	for _, events := range s.perThread {
		n += len(events)
	}
	return n
}

// Event returns pending event i, counting through thread slots in order and
// within a slot in append order.
func (s *EventWriterStorage) Event(i int) []byte {
	for _, events := range s.perThread {
		if i < len(events) {
			return events[i]
		}
		i -= len(events)
	}
	return nil
}

func (s *EventWriterStorage) Clear() {
	for i := range s.perThread {
		s.perThread[i] = s.perThread[i][:0]
	}
}

// EventManager owns every event storage and the per-thread command queues.
//
// Module events are keyed by (event type, writing system): each writing
// system gets its own storage, cleared immediately before that system runs,
// so events stay readable for exactly one full frame cycle. Platform events
// are keyed by event type alone and are cleared by the host.
type EventManager struct {
	slots int

	platform      map[string]*EventWriterStorage
	platformOrder []string

	module      map[string]map[string]*EventWriterStorage
	moduleOrder map[string][]string

	commands [][]Command
}

// NewEventManager creates a manager with the given number of thread slots.
// Slot 0 belongs to the frame thread; ParForEach workers use slots 1..n.
func NewEventManager(slots int) *EventManager {
	if slots < 1 {
		slots = 1
	}
	return &EventManager{
		slots:       slots,
		platform:    make(map[string]*EventWriterStorage),
		module:      make(map[string]map[string]*EventWriterStorage),
		moduleOrder: make(map[string][]string),
		commands:    make([][]Command, slots),
	}
}

func (m *EventManager) Slots() int {
	return m.slots
}

// RegisterModuleEventWriter creates (or returns) the storage for a system
// writing an event type.
func (m *EventManager) RegisterModuleEventWriter(eventType, systemName string) *EventWriterStorage {
	writers, ok := m.module[eventType]
	if !ok {
		writers = make(map[string]*EventWriterStorage)
		m.module[eventType] = writers
	}
	if storage, ok := writers[systemName]; ok {
		return storage
	}

	storage := newEventWriterStorage(m.slots)
	writers[systemName] = storage
	m.moduleOrder[eventType] = append(m.moduleOrder[eventType], systemName)
	return storage
}

// RegisterPlatformEvent creates the host-writable storage for an event type.
func (m *EventManager) RegisterPlatformEvent(eventType string) *EventWriterStorage {
	if storage, ok := m.platform[eventType]; ok {
		return storage
	}
	storage := newEventWriterStorage(m.slots)
	m.platform[eventType] = storage
	m.platformOrder = append(m.platformOrder, eventType)
	return storage
}

// SendPlatformEvent appends a host event, registering the event type on first
// use. Host events use thread slot 0.
func (m *EventManager) SendPlatformEvent(eventType string, payload []byte) {
	m.RegisterPlatformEvent(eventType).Write(0, payload)
}

// ClearPlatformEvents clears every platform storage. The host calls this
// after each frame.
func (m *EventManager) ClearPlatformEvents() {
	for _, eventType := range m.platformOrder {
		m.platform[eventType].Clear()
	}
}

// EventStorages returns every storage a reader of the event type observes:
// the platform storage first if present, then module writers in registration
// order.
func (m *EventManager) EventStorages(eventType string) []*EventWriterStorage {
	var storages []*EventWriterStorage
	if storage, ok := m.platform[eventType]; ok {
		storages = append(storages, storage)
	}
	for _, systemName := range m.moduleOrder[eventType] {
		storages = append(storages, m.module[eventType][systemName])
	}
	return storages
}

// AddCommandSlot reserves a command queue beyond the worker slots and returns
// its index. Each async system gets one, so systems executing concurrently
// never append to a shared queue.
func (m *EventManager) AddCommandSlot() int {
	m.commands = append(m.commands, nil)
	return len(m.commands) - 1
}

// PushCommand appends a deferred command to a thread slot's queue.
func (m *EventManager) PushCommand(slot int, cmd Command) {
	m.commands[slot] = append(m.commands[slot], cmd)
}

// DrainCommands passes every pending command to f, one thread slot at a time
// in slot order, preserving append order within a slot, then clears the
// queues.
func (m *EventManager) DrainCommands(f func(Command)) {
	for slot := range m.commands {
		for _, cmd := range m.commands[slot] {
			f(cmd)
		}
		m.commands[slot] = m.commands[slot][:0]
	}
}
