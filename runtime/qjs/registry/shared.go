package registry

import (
	"fmt"
	"sync"

	"github.com/buke/quickjs-go"
	"github.com/yaoapp/kun/log"
)

// NativeHandle a host-owned resource paired with a script object. Release
// frees the resource, the registry guarantees it runs at most once per entry.
type NativeHandle interface {
	Release()
}

// ReclamationHook attaches an engine-side unreachability notification to a
// script object, carrying the given id. Installed by the runtime handle, the
// registry itself never touches engine internals.
type ReclamationHook func(id int, js *quickjs.Value) error

// UnknownSharedObjectError the id was never registered or has been deleted
type UnknownSharedObjectError struct {
	ID int
}

func (err *UnknownSharedObjectError) Error() string {
	return fmt.Sprintf("shared object %d does not exist", err.ID)
}

// SharedObjectEntry a (host-native handle, script-visible object) pair keyed
// by an integer identity. The script object carries the id as a back-pointer
// so the engine can notify the host when it becomes unreachable. The engine
// owns the script object through the script graph, the registry only borrows
// the handle for identity, it never frees it.
type SharedObjectEntry struct {
	ID       int
	Native   NativeHandle
	JSObject *quickjs.Value
	state    interface{}
	release  sync.Once
}

// NativeState the additional host-side state attached via SetNativeState
func (entry *SharedObjectEntry) NativeState() interface{} {
	return entry.state
}

// SharedObjectRegistry id -> shared object mapping. Mutated from the engine
// thread (collector notifications) and from host threads (explicit deletion),
// a single mutex guards the mapping. Native teardown per id runs exactly once
// no matter how many delete requests race for it.
type SharedObjectRegistry struct {
	entries map[int]*SharedObjectEntry
	nextID  int
	attach  ReclamationHook
	mutex   sync.Mutex
}

// NewSharedObjectRegistry create a new shared object registry. The hook may
// be nil when the engine offers no unreachability notifications, deletion is
// then host-driven only.
func NewSharedObjectRegistry(attach ReclamationHook) *SharedObjectRegistry {
	return &SharedObjectRegistry{entries: map[int]*SharedObjectEntry{}, attach: attach}
}

// Register store a (native, js) pair and return a fresh id. Ids start at 0
// and are never reused within a registry's lifetime. A hook failure rolls
// the entry back, the caller keeps ownership of the native handle and the id
// is never live.
func (reg *SharedObjectRegistry) Register(native NativeHandle, js *quickjs.Value) (int, error) {
	reg.mutex.Lock()
	id := reg.nextID
	reg.nextID++
	entry := &SharedObjectEntry{ID: id, Native: native, JSObject: js}
	reg.entries[id] = entry
	reg.mutex.Unlock()

	if reg.attach != nil && js != nil {
		if err := reg.attach(id, js); err != nil {
			reg.mutex.Lock()
			delete(reg.entries, id)
			reg.mutex.Unlock()
			return 0, fmt.Errorf("shared object %d: attach reclamation hook: %s", id, err.Error())
		}
	}
	return id, nil
}

// Lookup the entry for an id
func (reg *SharedObjectRegistry) Lookup(id int) (*SharedObjectEntry, bool) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	entry, has := reg.entries[id]
	return entry, has
}

// Len the number of live entries
func (reg *SharedObjectRegistry) Len() int {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	return len(reg.entries)
}

// Delete release-if-present. Unknown ids are a no-op, the collector and the
// host may race to delete the same id and the second request must not
// double-free the native handle.
func (reg *SharedObjectRegistry) Delete(id int) {
	reg.mutex.Lock()
	entry, has := reg.entries[id]
	if has {
		delete(reg.entries, id)
	}
	reg.mutex.Unlock()

	if !has {
		log.Trace("[registry] delete shared object %d: not found, ignore", id)
		return
	}
	entry.dispose()
}

// SetNativeState attach additional host-side native state to a registered id
func (reg *SharedObjectRegistry) SetNativeState(id int, state interface{}) error {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	entry, has := reg.entries[id]
	if !has {
		return &UnknownSharedObjectError{ID: id}
	}
	entry.state = state
	return nil
}

// Dispose release every live entry. Teardown direction: native handles are
// released before the runtime handle is destroyed.
func (reg *SharedObjectRegistry) Dispose() {
	reg.mutex.Lock()
	entries := make([]*SharedObjectEntry, 0, len(reg.entries))
	for id, entry := range reg.entries {
		entries = append(entries, entry)
		delete(reg.entries, id)
	}
	reg.mutex.Unlock()

	for _, entry := range entries {
		entry.dispose()
	}
}

func (entry *SharedObjectEntry) dispose() {
	entry.release.Do(func() {
		if entry.Native != nil {
			entry.Native.Release()
		}
	})
}
