package registry

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

type nativeAudioPlayer struct{}
type nativeVideoPlayer struct{}

func TestClassRegistry(t *testing.T) {
	reg := NewClassRegistry()

	audio := reflect.TypeOf(nativeAudioPlayer{})
	video := reflect.TypeOf(nativeVideoPlayer{})

	_, has := reg.Get(audio)
	assert.False(t, has)

	reg.Register(audio, nil)
	_, has = reg.Get(audio)
	assert.True(t, has)
	assert.Equal(t, 1, reg.Len())

	_, has = reg.Get(video)
	assert.False(t, has)

	reg.Register(video, nil)
	assert.Equal(t, 2, reg.Len())

	reg.Dispose()
	assert.Equal(t, 0, reg.Len())
	_, has = reg.Get(audio)
	assert.False(t, has)
}
