package ecs

import (
	"github.com/vague-archive/engine-sub000/linalg"
)

// String ids of the engine's built-in ECS types. The engine registers these
// before any module loads.
const (
	EntityIdName       = "engine::EntityId"
	TransformName      = "engine::Transform"
	LocalToWorldName   = "engine::LocalToWorld"
	FrameConstantsName = "engine::FrameConstants"
)

// Transform is an entity's local-space 2D transform, relative to its parent.
type Transform struct {
	Position linalg.Vec3
	Scale    linalg.Vec2
	Rotation float32
}

func DefaultTransform() Transform {
	return Transform{Scale: linalg.Vec2{X: 1, Y: 1}}
}

func (t *Transform) Matrix() linalg.Mat4 {
	return linalg.FromTransform2D(t.Position, t.Rotation, t.Scale)
}

// LocalToWorld is an entity's world-space matrix, recomputed by the engine
// after command application each frame. Read-only to module systems.
type LocalToWorld struct {
	Matrix linalg.Mat4
}

// FrameConstants is the engine resource holding per-frame timing. Updated at
// the start of every frame.
type FrameConstants struct {
	DeltaTime float32
	FrameRate float32
	TickCount uint32
}

type builtinIds struct {
	entityId       ComponentId
	transform      ComponentId
	localToWorld   ComponentId
	frameConstants ComponentId
}

func registerBuiltins(registry *ComponentRegistry, cpuData *CpuFrameData) (builtinIds, error) {
	var ids builtinIds
	var err error

	size, align := SizeAlignOf[EntityId]()
	ids.entityId, err = registry.Register(ComponentInfo{
		Name:     EntityIdName,
		Size:     size,
		Align:    align,
		TypeInfo: EntityComponentInfo{DeclaringModule: "engine"},
	})
	if err != nil {
		return ids, err
	}

	size, align = SizeAlignOf[Transform]()
	ids.transform, err = registry.Register(ComponentInfo{
		Name:          TransformName,
		Size:          size,
		Align:         align,
		FreelyMutable: true,
		TypeInfo:      EntityComponentInfo{DeclaringModule: "engine"},
	})
	if err != nil {
		return ids, err
	}

	size, align = SizeAlignOf[LocalToWorld]()
	ids.localToWorld, err = registry.Register(ComponentInfo{
		Name:     LocalToWorldName,
		Size:     size,
		Align:    align,
		TypeInfo: EntityComponentInfo{DeclaringModule: "engine"},
	})
	if err != nil {
		return ids, err
	}

	size, align = SizeAlignOf[FrameConstants]()
	bufferIndex := cpuData.NewBuffer(size, align)
	buf := cpuData.BorrowMut(bufferIndex)
	slot := buf.Grow()
	constants := FrameConstants{}
	copy(slot, ComponentBytes(&constants))
	buf.Release()

	ids.frameConstants, err = registry.Register(ComponentInfo{
		Name:  FrameConstantsName,
		Size:  size,
		Align: align,
		TypeInfo: ResourceInfo{
			BufferIndex:     bufferIndex,
			DeclaringModule: "engine",
		},
	})
	return ids, err
}
