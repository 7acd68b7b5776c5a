package ecs

import "unsafe"

// ComponentAs reinterprets component bytes as a *T. The slice must cover at
// least unsafe.Sizeof(T) bytes; archetype buffers are laid out with each
// component's registered alignment, so the cast is well-formed for any
// registered component type.
func ComponentAs[T any](data []byte) *T {
	var zero T
	if uintptr(len(data)) < unsafe.Sizeof(zero) {
		panic("ecs: component byte slice smaller than target type")
	}
	return (*T)(unsafe.Pointer(unsafe.SliceData(data)))
}

// ComponentBytes exposes a value's in-memory bytes, for passing typed
// components to spawn and add-components calls.
func ComponentBytes[T any](val *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(val)), unsafe.Sizeof(*val))
}

// SizeAlignOf reports the in-memory size and alignment of T, for component
// registration.
func SizeAlignOf[T any]() (size, align int) {
	var zero T
	return int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero))
}
