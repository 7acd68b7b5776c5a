package ecs

import (
	"encoding/json"
	"fmt"
)

// Scene is the JSON form of a set of entities to spawn. Component payloads
// are decoded by the module that declared each component; engine built-ins
// are decoded by the engine.
type Scene struct {
	Entities []SceneEntity `json:"entities"`
}

// SceneEntity is one entity in a scene. Id names the entity within the scene
// so other entities can parent to it; it is not persisted. Label, if set,
// becomes the entity's world label.
type SceneEntity struct {
	Id         string                     `json:"id,omitempty"`
	Label      string                     `json:"label,omitempty"`
	Parent     string                     `json:"parent,omitempty"`
	Components map[string]json.RawMessage `json:"components"`
}

// ParseScene decodes scene JSON.
func ParseScene(data []byte) (*Scene, error) {
	var scene Scene
	if err := json.Unmarshal(data, &scene); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	for i, entity := range scene.Entities {
		if entity.Parent != "" && entity.Parent == entity.Id {
			return nil, fmt.Errorf("parse scene: entity %d is its own parent", i)
		}
	}
	return &scene, nil
}

type transformJson struct {
	Position [3]float32 `json:"position"`
	Rotation float32    `json:"rotation"`
	Scale    [2]float32 `json:"scale"`
}

// decodeBuiltinComponent decodes scene payloads for engine-declared
// components.
func decodeBuiltinComponent(name string, dst []byte, raw []byte) error {
	switch name {
	case TransformName:
		tj := transformJson{Scale: [2]float32{1, 1}}
		if err := json.Unmarshal(raw, &tj); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
		t := ComponentAs[Transform](dst)
		t.Position.X, t.Position.Y, t.Position.Z = tj.Position[0], tj.Position[1], tj.Position[2]
		t.Rotation = tj.Rotation
		t.Scale.X, t.Scale.Y = tj.Scale[0], tj.Scale[1]
		return nil

	case LocalToWorldName:
		// always recomputed by the engine; the payload is ignored
		return nil

	default:
		return fmt.Errorf("decode %s: engine cannot decode this component", name)
	}
}
