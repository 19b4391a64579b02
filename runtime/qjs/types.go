package qjs

import (
	"sync/atomic"

	"github.com/buke/quickjs-go"
	lru "github.com/hashicorp/golang-lru"

	"github.com/mkhoussid/expo/runtime/qjs/registry"
)

// HostObjectName the well-known global installed into the engine's global
// scope, the single surface scripts use to reach the host side
const HostObjectName = "__expo"

// Option runtime option
type Option struct {
	MemoryLimit       uint64 `json:"memoryLimit,omitempty"`       // the engine heap limit in bytes. 0 means unlimited, the default value is 0
	MaxStackSize      uint64 `json:"maxStackSize,omitempty"`      // the engine stack limit in bytes. 0 disables the check, the default value is 0
	ExecuteTimeout    uint64 `json:"executeTimeout,omitempty"`    // terminate a script after this many seconds. 0 disables the timeout, the default value is 0
	GCThreshold       int64  `json:"gcThreshold,omitempty"`       // the engine GC threshold in bytes. -1 disables automatic GC, the default value is -1
	BytecodeCacheSize int    `json:"bytecodeCacheSize,omitempty"` // the number of compiled sources kept in the cache, the default value is 100
}

// Runtime the script runtime handle. Owns one engine instance, all
// script-visible state is touched on the engine's owning thread only.
type Runtime struct {
	ID        string
	engine    *quickjs.Runtime
	ctx       *quickjs.Context
	invoker   CallInvoker
	refs      *ReferenceCache
	bytecode  *lru.Cache
	engineGID atomic.Uint64 // the goroutine servicing the invoker's jobs
	forTests  bool
	owned     bool // the engine was created by this handle and is closed with it
}

// CallInvoker the work-invoker. InvokeAsync queues a callback to run on the
// engine's owning thread and returns without blocking the caller. Every
// queued callback must be serviced by the same goroutine for the lifetime of
// the invoker.
type CallInvoker interface {
	InvokeAsync(fn func())
}

// Deallocator the host-side collaborator notified during bridge teardown so
// it can release its wrapper references before the runtime handle is gone.
type Deallocator interface {
	Deallocate()
}

// ModuleProvider the external module-declaration subsystem. It reflects
// host-side module declarations into script-visible module objects, the
// bridge only stores and serves them.
type ModuleProvider interface {

	// Modules build the script-visible module objects for this runtime
	Modules(ctx *quickjs.Context) ([]*registry.ModuleObject, error)

	// CoreModule build the bootstrap module. Return nil when the host has
	// no self-registration surface.
	CoreModule(ctx *quickjs.Context) (*registry.ModuleObject, error)
}

const (

	// StatusUninitialized the bridge is constructed, no engine attached
	StatusUninitialized uint8 = 0

	// StatusInstalled the bridge is installed into a live engine
	StatusInstalled uint8 = 1

	// StatusDeallocated the bridge teardown has begun or completed
	StatusDeallocated uint8 = 2
)
