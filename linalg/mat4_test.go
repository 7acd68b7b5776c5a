package linalg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vague-archive/engine-sub000/linalg"
)

func assertMat4InDelta(t *testing.T, expected, got linalg.Mat4, delta float64) {
	t.Helper()
	for i := range expected {
		assert.InDelta(t, expected[i], got[i], delta, "element %d", i)
	}
}

func TestIdentityMul(t *testing.T) {
	m := linalg.FromTransform2D(linalg.Vec3{X: 3, Y: -2}, 0.7, linalg.Vec2{X: 2, Y: 1})

	assertMat4InDelta(t, m, linalg.Identity().Mul(m), 1e-6)
	assertMat4InDelta(t, m, m.Mul(linalg.Identity()), 1e-6)
}

func TestMulComposesTranslations(t *testing.T) {
	a := linalg.FromTransform2D(linalg.Vec3{X: 5}, 0, linalg.Vec2{X: 1, Y: 1})
	b := linalg.FromTransform2D(linalg.Vec3{X: 3, Y: 1}, 0, linalg.Vec2{X: 1, Y: 1})

	got := a.Mul(b).Translation()
	assert.InDelta(t, 8, got.X, 1e-6)
	assert.InDelta(t, 1, got.Y, 1e-6)
}

func TestFromTransform2DTranslation(t *testing.T) {
	m := linalg.FromTransform2D(linalg.Vec3{X: 1, Y: 2, Z: 3}, 0, linalg.Vec2{X: 1, Y: 1})
	assert.Equal(t, linalg.Vec3{X: 1, Y: 2, Z: 3}, m.Translation())
}

func TestInverseAffine(t *testing.T) {
	m := linalg.FromTransform2D(linalg.Vec3{X: 4, Y: -1}, 1.2, linalg.Vec2{X: 2, Y: 0.5})

	assertMat4InDelta(t, linalg.Identity(), m.Mul(m.InverseAffine()), 1e-5)
	assertMat4InDelta(t, linalg.Identity(), m.InverseAffine().Mul(m), 1e-5)
}

func TestInverseAffineSingular(t *testing.T) {
	m := linalg.FromTransform2D(linalg.Vec3{}, 0, linalg.Vec2{X: 0, Y: 1})
	assertMat4InDelta(t, linalg.Identity(), m.InverseAffine(), 1e-6)
}

func TestDecompose2DRoundTrip(t *testing.T) {
	position := linalg.Vec3{X: 7, Y: -3, Z: 0.5}
	rotation := float32(0.9)
	scale := linalg.Vec2{X: 2, Y: 3}

	m := linalg.FromTransform2D(position, rotation, scale)
	gotPos, gotRot, gotScale := m.Decompose2D()

	assert.InDelta(t, position.X, gotPos.X, 1e-5)
	assert.InDelta(t, position.Y, gotPos.Y, 1e-5)
	assert.InDelta(t, position.Z, gotPos.Z, 1e-5)
	assert.InDelta(t, rotation, gotRot, 1e-5)
	assert.InDelta(t, scale.X, gotScale.X, 1e-5)
	assert.InDelta(t, scale.Y, gotScale.Y, 1e-5)
}

func TestDecompose2DNegativeScale(t *testing.T) {
	m := linalg.FromTransform2D(linalg.Vec3{}, 0, linalg.Vec2{X: 1, Y: -2})
	_, _, scale := m.Decompose2D()

	assert.InDelta(t, 1, scale.X, 1e-5)
	assert.InDelta(t, -2, scale.Y, 1e-5)
}

func TestVecOps(t *testing.T) {
	assert.Equal(t, linalg.Vec2{X: 3, Y: 5}, linalg.Vec2{X: 1, Y: 2}.Add(linalg.Vec2{X: 2, Y: 3}))
	assert.Equal(t, linalg.Vec2{X: 2, Y: 4}, linalg.Vec2{X: 1, Y: 2}.Scale(2))
	assert.InDelta(t, 5, linalg.Vec2{X: 3, Y: 4}.Length(), 1e-6)

	assert.Equal(t, linalg.Vec3{X: 2, Y: 4, Z: 6}, linalg.Vec3{X: 1, Y: 2, Z: 3}.Add(linalg.Vec3{X: 1, Y: 2, Z: 3}))
	assert.Equal(t, linalg.Vec3{X: 2, Y: 4, Z: 6}, linalg.Vec3{X: 1, Y: 2, Z: 3}.Scale(2))
}
