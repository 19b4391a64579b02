package qjs

import (
	"fmt"
	"sync"

	"github.com/buke/quickjs-go"
	"github.com/yaoapp/kun/log"
)

// names of the well-known script constructs kept in the reference cache
const (
	RefObject                = "Object"
	RefError                 = "Error"
	RefPromise               = "Promise"
	RefSharedObjectFinalizer = "__sharedObjectFinalizer"
)

// the script fragment that builds the shared-object finalization registry.
// The engine calls back into the host surface with the id carried by the
// reclaimed script object.
const sharedObjectFinalizerSource = `new FinalizationRegistry((id) => { globalThis.` + HostObjectName + `.sharedObjectFinalized(id); })`

// ReferenceCache runtime-scoped cache of frequently used script constructs.
// Populated lazily on the first prepare, read-only afterwards, torn down with
// the runtime.
type ReferenceCache struct {
	refs     map[string]*quickjs.Value
	prepared bool
	mutex    sync.Mutex
}

// NewReferenceCache create a new reference cache
func NewReferenceCache() *ReferenceCache {
	return &ReferenceCache{refs: map[string]*quickjs.Value{}}
}

// Prepare populate the cache from the engine's global scope. Idempotent, a
// retry after a successful prepare is a no-op.
func (cache *ReferenceCache) Prepare(ctx *quickjs.Context) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()

	if cache.prepared {
		return nil
	}

	globals := ctx.Globals()
	for _, name := range []string{RefObject, RefError, RefPromise} {
		ref := globals.Get(name)
		if ref.IsUndefined() || ref.IsException() {
			ref.Free()
			// a failed prepare leaves nothing behind, the retry starts clean
			cache.releaseLocked()
			return fmt.Errorf("prepare runtime: the global %s is missing", name)
		}
		cache.refs[name] = ref
	}

	// engines without FinalizationRegistry fall back to host-driven deletion
	finalizer := ctx.Eval(sharedObjectFinalizerSource)
	if finalizer.IsException() {
		finalizer.Free()
		log.Warn("[qjs] the engine has no FinalizationRegistry, shared object reclamation is host-driven only: %s", ctx.Exception().Error())
	} else {
		cache.refs[RefSharedObjectFinalizer] = finalizer
	}

	cache.prepared = true
	return nil
}

// Get a cached construct by name
func (cache *ReferenceCache) Get(name string) (*quickjs.Value, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	ref, has := cache.refs[name]
	return ref, has
}

// Prepared reports whether the cache has been populated
func (cache *ReferenceCache) Prepared() bool {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return cache.prepared
}

// Dispose release the cached constructs. Must run on the engine thread,
// before the engine context is closed.
func (cache *ReferenceCache) Dispose() {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.releaseLocked()
	cache.prepared = false
}

func (cache *ReferenceCache) releaseLocked() {
	for name, ref := range cache.refs {
		ref.Free()
		delete(cache.refs, name)
	}
}
