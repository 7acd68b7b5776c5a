package ecs

import (
	"github.com/vague-archive/engine-sub000/linalg"
)

// updateWorldTransforms recomputes LocalToWorld for every entity carrying a
// Transform, walking the hierarchy parent to child so each entity's world
// matrix composes onto its parent's. Runs after command application, when the
// frame thread owns all component data.
func updateWorldTransforms(
	world *World,
	archetypes *ArchetypeStorageMap,
	cpuData *CpuFrameData,
	transformId, localToWorldId ComponentId,
) {
	transformSize, _ := SizeAlignOf[Transform]()
	localToWorldSize, _ := SizeAlignOf[LocalToWorld]()

	var update func(data *EntityData, parentMatrix linalg.Mat4)
	update = func(data *EntityData, parentMatrix linalg.Mat4) {
		matrix := parentMatrix

		if storage, ok := archetypes.Get(data.ArchetypeKey); ok {
			if offset, ok := storage.Cpu.ComponentOffset(transformId); ok {
				buf := cpuData.bufferUnchecked(storage.Cpu.BufferIndex)
				t := ComponentAs[Transform](buf.entryOffset(data.ArchetypeIndex, offset, transformSize))
				matrix = parentMatrix.Mul(t.Matrix())

				if offset, ok := storage.Cpu.ComponentOffset(localToWorldId); ok {
					ltw := ComponentAs[LocalToWorld](buf.entryOffset(data.ArchetypeIndex, offset, localToWorldSize))
					ltw.Matrix = matrix
				}
			}
		}

		for _, child := range data.Children {
			if childData := world.Get(child); childData != nil {
				update(childData, matrix)
			}
		}
	}

	world.Each(func(_ EntityId, data *EntityData) {
		if data.Parent == InvalidEntityId {
			update(data, linalg.Identity())
		}
	})
}

// worldMatrix computes an entity's current world matrix by walking up the
// parent chain, composing local transforms on the way down.
func worldMatrix(
	world *World,
	archetypes *ArchetypeStorageMap,
	cpuData *CpuFrameData,
	transformId ComponentId,
	id EntityId,
) linalg.Mat4 {
	data := world.Get(id)
	if data == nil {
		return linalg.Identity()
	}

	parentMatrix := linalg.Identity()
	if data.Parent != InvalidEntityId {
		parentMatrix = worldMatrix(world, archetypes, cpuData, transformId, data.Parent)
	}

	storage, ok := archetypes.Get(data.ArchetypeKey)
	if !ok {
		return parentMatrix
	}
	offset, ok := storage.Cpu.ComponentOffset(transformId)
	if !ok {
		return parentMatrix
	}

	transformSize, _ := SizeAlignOf[Transform]()
	buf := cpuData.bufferUnchecked(storage.Cpu.BufferIndex)
	t := ComponentAs[Transform](buf.entryOffset(data.ArchetypeIndex, offset, transformSize))
	return parentMatrix.Mul(t.Matrix())
}
