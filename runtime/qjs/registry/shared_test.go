package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/buke/quickjs-go"
	"github.com/stretchr/testify/assert"
)

// nativeCounter a NativeHandle that counts its releases
type nativeCounter struct {
	released int
	mutex    sync.Mutex
}

func (native *nativeCounter) Release() {
	native.mutex.Lock()
	defer native.mutex.Unlock()
	native.released++
}

func (native *nativeCounter) count() int {
	native.mutex.Lock()
	defer native.mutex.Unlock()
	return native.released
}

func TestSharedObjectRegister(t *testing.T) {
	reg := NewSharedObjectRegistry(nil)

	h1 := &nativeCounter{}
	h2 := &nativeCounter{}

	id1, err := reg.Register(h1, nil)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := reg.Register(h2, nil)
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, 0, id1)
	assert.Equal(t, 1, id2)

	entry, has := reg.Lookup(id1)
	assert.True(t, has)
	assert.Equal(t, h1, entry.Native)
	assert.Equal(t, 2, reg.Len())
}

func TestSharedObjectRegisterAttachesHook(t *testing.T) {
	hooked := []int{}
	reg := NewSharedObjectRegistry(func(id int, js *quickjs.Value) error {
		hooked = append(hooked, id)
		return nil
	})

	js := &quickjs.Value{}
	reg.Register(&nativeCounter{}, js)
	reg.Register(&nativeCounter{}, js)
	assert.Equal(t, []int{0, 1}, hooked)

	// hook is skipped without a script object
	reg.Register(&nativeCounter{}, nil)
	assert.Equal(t, []int{0, 1}, hooked)
}

func TestSharedObjectRegisterHookError(t *testing.T) {
	fail := true
	reg := NewSharedObjectRegistry(func(id int, js *quickjs.Value) error {
		if fail {
			return fmt.Errorf("engine gone")
		}
		return nil
	})

	h1 := &nativeCounter{}
	_, err := reg.Register(h1, &quickjs.Value{})
	assert.NotNil(t, err)

	// a failed registration is rolled back, the id is never live and the
	// caller keeps ownership of the native handle
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, h1.count())

	// the burned id is not handed out again
	fail = false
	id, err := reg.Register(&nativeCounter{}, &quickjs.Value{})
	assert.Nil(t, err)
	assert.Equal(t, 1, id)
}

func TestSharedObjectDelete(t *testing.T) {
	reg := NewSharedObjectRegistry(nil)
	h1 := &nativeCounter{}
	id, _ := reg.Register(h1, nil)

	reg.Delete(id)
	assert.Equal(t, 1, h1.count())

	_, has := reg.Lookup(id)
	assert.False(t, has)

	// duplicate delete requests are no-ops, never a double free
	reg.Delete(id)
	reg.Delete(id)
	assert.Equal(t, 1, h1.count())

	// unknown ids are ignored silently
	reg.Delete(42)
}

func TestSharedObjectDeleteConcurrent(t *testing.T) {
	reg := NewSharedObjectRegistry(nil)
	h1 := &nativeCounter{}
	id, _ := reg.Register(h1, nil)

	// the collector and the host race to delete the same id
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.Delete(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h1.count())
}

func TestSharedObjectSetNativeState(t *testing.T) {
	reg := NewSharedObjectRegistry(nil)
	id, _ := reg.Register(&nativeCounter{}, nil)

	err := reg.SetNativeState(id, "state")
	if err != nil {
		t.Fatal(err)
	}

	entry, _ := reg.Lookup(id)
	assert.Equal(t, "state", entry.NativeState())

	err = reg.SetNativeState(99, "state")
	var unknown *UnknownSharedObjectError
	assert.True(t, errors.As(err, &unknown))
	assert.Equal(t, 99, unknown.ID)

	// a deleted id behaves like one that never existed
	reg.Delete(id)
	err = reg.SetNativeState(id, "state")
	assert.True(t, errors.As(err, &unknown))
}

func TestSharedObjectDispose(t *testing.T) {
	reg := NewSharedObjectRegistry(nil)
	h1 := &nativeCounter{}
	h2 := &nativeCounter{}
	id1, _ := reg.Register(h1, nil)
	reg.Register(h2, nil)

	reg.Delete(id1)
	reg.Dispose()

	assert.Equal(t, 1, h1.count())
	assert.Equal(t, 1, h2.count())
	assert.Equal(t, 0, reg.Len())

	// ids are not reused after a teardown
	id3, _ := reg.Register(&nativeCounter{}, nil)
	assert.Equal(t, 2, id3)
}
