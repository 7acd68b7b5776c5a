package linalg

import "math"

// Mat4 is a column-major 4x4 matrix. Element (row r, col c) is at index
// c*4 + r.
type Mat4 [16]float32

func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul returns m * o, applying o first.
func (m Mat4) Mul(o Mat4) Mat4 {
	var out Mat4
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m[k*4+r] * o[c*4+k]
			}
			out[c*4+r] = sum
		}
	}
	return out
}

// FromTransform2D builds the affine matrix for a 2D translate-rotate-scale,
// rotating about the z axis.
func FromTransform2D(position Vec3, rotation float32, scale Vec2) Mat4 {
	sin := float32(math.Sin(float64(rotation)))
	cos := float32(math.Cos(float64(rotation)))

	return Mat4{
		cos * scale.X, sin * scale.X, 0, 0,
		-sin * scale.Y, cos * scale.Y, 0, 0,
		0, 0, 1, 0,
		position.X, position.Y, position.Z, 1,
	}
}

// Translation returns the matrix's translation column.
func (m Mat4) Translation() Vec3 {
	return Vec3{m[12], m[13], m[14]}
}

// InverseAffine inverts a matrix whose bottom row is (0, 0, 0, 1). The upper
// 3x3 block is inverted directly and the translation negated through it.
func (m Mat4) InverseAffine() Mat4 {
	a00, a01, a02 := m[0], m[4], m[8]
	a10, a11, a12 := m[1], m[5], m[9]
	a20, a21, a22 := m[2], m[6], m[10]

	c00 := a11*a22 - a12*a21
	c01 := a12*a20 - a10*a22
	c02 := a10*a21 - a11*a20

	det := a00*c00 + a01*c01 + a02*c02
	if det == 0 {
		return Identity()
	}
	inv := 1 / det

	i00 := c00 * inv
	i01 := (a02*a21 - a01*a22) * inv
	i02 := (a01*a12 - a02*a11) * inv
	i10 := c01 * inv
	i11 := (a00*a22 - a02*a20) * inv
	i12 := (a02*a10 - a00*a12) * inv
	i20 := c02 * inv
	i21 := (a01*a20 - a00*a21) * inv
	i22 := (a00*a11 - a01*a10) * inv

	tx, ty, tz := m[12], m[13], m[14]

	return Mat4{
		i00, i10, i20, 0,
		i01, i11, i21, 0,
		i02, i12, i22, 0,
		-(i00*tx + i01*ty + i02*tz),
		-(i10*tx + i11*ty + i12*tz),
		-(i20*tx + i21*ty + i22*tz),
		1,
	}
}

// Decompose2D extracts the translation, z rotation, and scale from an affine
// matrix composed of 2D translate-rotate-scale transforms.
func (m Mat4) Decompose2D() (position Vec3, rotation float32, scale Vec2) {
	position = m.Translation()
	rotation = float32(math.Atan2(float64(m[1]), float64(m[0])))
	scale = Vec2{
		X: Vec2{m[0], m[1]}.Length(),
		Y: Vec2{m[4], m[5]}.Length(),
	}
	if m[0]*m[5]-m[1]*m[4] < 0 {
		scale.Y = -scale.Y
	}
	return position, rotation, scale
}
