package qjs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionValidateDefaults(t *testing.T) {
	option := &Option{}
	option.Validate()

	assert.Equal(t, uint64(0), option.MemoryLimit)
	assert.Equal(t, int64(-1), option.GCThreshold)
	assert.Equal(t, 100, option.BytecodeCacheSize)
}

func TestOptionValidateClamps(t *testing.T) {
	option := &Option{
		MemoryLimit:       maxMemoryLimit + 1,
		BytecodeCacheSize: 4096,
	}
	option.Validate()

	assert.Equal(t, maxMemoryLimit, option.MemoryLimit)
	assert.Equal(t, 1024, option.BytecodeCacheSize)
}
