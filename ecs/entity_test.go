package ecs_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vague-archive/engine-sub000/ecs"
)

func TestEntityIdEncoding(t *testing.T) {
	index := uint32(67890)
	lifecycle := uint32(12345)

	id := ecs.NewEntityId(index, lifecycle)

	assert.Equal(t, index, id.Index())
	assert.Equal(t, lifecycle, id.Lifecycle())
}

func TestEntityIdEdgeCases(t *testing.T) {
	tests := []struct {
		index     uint32
		lifecycle uint32
	}{
		{0, 0},
		{0xFFFFFFFF, 0xFFFFFFFF},
		{1, 0},
		{0, 1},
		{0x12345678, 0x9ABCDEF0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("index=%d,lifecycle=%d", tt.index, tt.lifecycle), func(t *testing.T) {
			id := ecs.NewEntityId(tt.index, tt.lifecycle)
			assert.Equal(t, tt.index, id.Index())
			assert.Equal(t, tt.lifecycle, id.Lifecycle())
		})
	}
}

func TestEntityIdValid(t *testing.T) {
	assert.False(t, ecs.InvalidEntityId.Valid())
	assert.False(t, ecs.NewEntityId(0, 7).Valid(), "index zero is reserved at any lifecycle")
	assert.True(t, ecs.NewEntityId(1, 0).Valid())
}
