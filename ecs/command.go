package ecs

// ComponentData pairs a component id with the component's raw bytes.
type ComponentData struct {
	ComponentId ComponentId
	Data        []byte
}

// Command is a deferred world mutation, enqueued by systems during frame
// execution and applied after all CPU systems have run. Commands are applied
// one enqueueing thread at a time, in thread index order, preserving the
// append order within each thread.
type Command interface {
	isCommand()
}

// SpawnCommand materializes an entity whose id was already reserved when the
// command was enqueued.
type SpawnCommand struct {
	Entity     EntityId
	Components []ComponentData // sorted by component id
}

type DespawnCommand struct {
	Entity EntityId
}

type AddComponentsCommand struct {
	Entity     EntityId
	Components []ComponentData
}

type RemoveComponentsCommand struct {
	Entity       EntityId
	ComponentIds []ComponentId
}

// SetEntityLabelCommand sets or, with an empty label, clears an entity label.
type SetEntityLabelCommand struct {
	Entity EntityId
	Label  string
}

type SetParentCommand struct {
	Entity EntityId

	// Parent of InvalidEntityId reparents to the root.
	Parent EntityId

	// KeepWorldSpaceTransform recomputes the entity's local transform so its
	// world transform is unchanged under the new parent.
	KeepWorldSpaceTransform bool
}

type SetSystemEnabledCommand struct {
	SystemName string
	Enabled    bool
}

type LoadSceneCommand struct {
	SceneJSON []byte
}

func (SpawnCommand) isCommand()            {}
func (DespawnCommand) isCommand()          {}
func (AddComponentsCommand) isCommand()    {}
func (RemoveComponentsCommand) isCommand() {}
func (SetEntityLabelCommand) isCommand()   {}
func (SetParentCommand) isCommand()        {}
func (SetSystemEnabledCommand) isCommand() {}
func (LoadSceneCommand) isCommand()        {}
