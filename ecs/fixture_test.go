package ecs_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vague-archive/engine-sub000/ecs"
)

// Common test component types
type Color struct {
	R, G, B, A float32
}

type Motion struct {
	DX, DY float32
}

type Health struct {
	Current int32
	Max     int32
}

type Sprite struct {
	TextureIndex uint32
	Layer        uint32
}

const (
	colorName  = "test::Color"
	motionName = "test::Motion"
	healthName = "test::Health"
	spriteName = "test::Sprite"
)

func newEngine(t *testing.T, cfg ecs.Config) *ecs.FrameUpdate {
	t.Helper()
	fu, err := ecs.NewFrameUpdate(cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { fu.Close() })
	return fu
}

// newTestModule declares the shared Color, Motion, and Health components.
func newTestModule(name string) *ecs.StaticModule {
	m := ecs.NewStaticModule(name, ecs.EngineVersion)
	ecs.AddComponentType[Color](m, colorName)
	ecs.AddComponentType[Motion](m, motionName)
	ecs.AddComponentType[Health](m, healthName)
	return m
}

func componentId(t *testing.T, fu *ecs.FrameUpdate, name string) ecs.ComponentId {
	t.Helper()
	id, _, ok := fu.Registry().GetByName(name)
	require.True(t, ok, "component %q not registered", name)
	return id
}

func component[T any](id ecs.ComponentId, v T) ecs.ComponentData {
	return ecs.ComponentData{ComponentId: id, Data: ecs.ComponentBytes(&v)}
}

// readComponent reads an entity's current component value straight out of its
// archetype buffer, outside of frame execution.
func readComponent[T any](t *testing.T, fu *ecs.FrameUpdate, id ecs.EntityId, name string) T {
	t.Helper()

	cid, info, ok := fu.Registry().GetByName(name)
	require.True(t, ok)

	data := fu.World().Get(id)
	require.NotNil(t, data, "entity %d not alive", id)

	storage, ok := fu.Archetypes().Get(data.ArchetypeKey)
	require.True(t, ok)
	offset, ok := storage.Cpu.ComponentOffset(cid)
	require.True(t, ok, "entity %d has no %q", id, name)

	buf := fu.CpuData().Borrow(storage.Cpu.BufferIndex)
	defer buf.Release()
	return *ecs.ComponentAs[T](buf.EntryOffset(data.ArchetypeIndex, offset, info.Size))
}

func hasComponent(t *testing.T, fu *ecs.FrameUpdate, id ecs.EntityId, name string) bool {
	t.Helper()
	cid := componentId(t, fu, name)
	data := fu.World().Get(id)
	require.NotNil(t, data)
	return data.ArchetypeKey.Contains(cid)
}

// script is a system body swapped out between frames, so tests can drive the
// engine one ad-hoc step at a time.
type script struct {
	fn ecs.SystemFn
}

func (s *script) run(fn ecs.SystemFn, fu *ecs.FrameUpdate) {
	s.fn = fn
	fu.Update(1.0 / 60)
	s.fn = nil
}

// newScriptedEngine builds an engine with the shared test module plus a
// "test::script" system with the given args, dispatching to the handle.
func newScriptedEngine(t *testing.T, cfg ecs.Config, args ...ecs.StaticArg) (*ecs.FrameUpdate, *script) {
	t.Helper()

	s := &script{}
	m := newTestModule("test")
	m.AddSystem(ecs.StaticSystem{
		Name: "script",
		Args: args,
		Fn: func(scope *ecs.SystemScope, a []ecs.Arg) error {
			if s.fn == nil {
				return nil
			}
			return s.fn(scope, a)
		},
	})

	fu := newEngine(t, cfg)
	require.NoError(t, fu.RegisterModule(m))
	return fu, s
}
