package main

import (
	"fmt"
	"math/rand"

	"github.com/vague-archive/engine-sub000/ecs"
	"github.com/vague-archive/engine-sub000/linalg"
)

const velocityName = "stress::Velocity"

// Velocity drives the movement system. Entities drift and spin so every
// frame touches every Transform.
type Velocity struct {
	Linear  linalg.Vec3
	Angular float32
}

// stressIds caches component ids resolved after module registration. The
// system closures read them lazily, on their first frame.
type stressIds struct {
	transform ecs.ComponentId
	velocity  ecs.ComponentId
}

// buildStressModule declares the stress workload: a one-shot populate
// system, a parallel movement system over Transform and Velocity, and a
// churn system that despawns and respawns a batch each frame to keep the
// command path and archetype moves hot.
func buildStressModule(ids *stressIds, entityCount, churn int) *ecs.StaticModule {
	m := ecs.NewStaticModule("stress", ecs.EngineVersion)
	ecs.AddComponentType[Velocity](m, velocityName)

	m.AddSystem(ecs.StaticSystem{
		Name: "populate",
		Once: true,
		Fn: func(scope *ecs.SystemScope, _ []ecs.Arg) error {
			for i := 0; i < entityCount; i++ {
				if err := spawnRandom(scope, ids); err != nil {
					return err
				}
			}
			return nil
		},
	})

	m.AddSystem(ecs.StaticSystem{
		Name: "movement",
		Args: []ecs.StaticArg{
			ecs.ResourceRefArg(ecs.FrameConstantsName),
			ecs.QueryArg(ecs.QueryMut(ecs.TransformName), ecs.QueryRef(velocityName)),
		},
		Fn: func(_ *ecs.SystemScope, args []ecs.Arg) error {
			dt := ecs.ResourceAs[ecs.FrameConstants](&args[0]).DeltaTime
			args[1].Query().ParForEach(func(row *ecs.QueryRow) {
				t := ecs.ComponentAs[ecs.Transform](row.Component(0))
				v := ecs.ComponentAs[Velocity](row.Component(1))
				t.Position = t.Position.Add(v.Linear.Scale(dt))
				t.Rotation += v.Angular * dt
			})
			return nil
		},
	})

	m.AddSystem(ecs.StaticSystem{
		Name: "churn",
		Args: []ecs.StaticArg{
			ecs.QueryArg(ecs.QueryRef(velocityName)),
		},
		Fn: func(scope *ecs.SystemScope, args []ecs.Arg) error {
			q := args[0].Query()
			n := min(churn, q.Len())
			for i := 0; i < n; i++ {
				row, ok := q.Get(i)
				if !ok {
					break
				}
				scope.Despawn(row.EntityId())
				if err := spawnRandom(scope, ids); err != nil {
					return err
				}
			}
			return nil
		},
	})

	return m
}

func spawnRandom(scope *ecs.SystemScope, ids *stressIds) error {
	t := ecs.DefaultTransform()
	t.Position = linalg.Vec3{X: rand.Float32()*200 - 100, Y: rand.Float32()*200 - 100}
	v := Velocity{
		Linear:  linalg.Vec3{X: rand.Float32()*10 - 5, Y: rand.Float32()*10 - 5},
		Angular: rand.Float32(),
	}

	_, err := scope.Spawn([]ecs.ComponentData{
		{ComponentId: ids.transform, Data: ecs.ComponentBytes(&t)},
		{ComponentId: ids.velocity, Data: ecs.ComponentBytes(&v)},
	})
	if err != nil {
		return fmt.Errorf("spawn: %w", err)
	}
	return nil
}
