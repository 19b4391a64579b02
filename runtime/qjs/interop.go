package qjs

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/buke/quickjs-go"
	"github.com/yaoapp/kun/log"

	"github.com/mkhoussid/expo/runtime/qjs/objects/host"
	"github.com/mkhoussid/expo/runtime/qjs/registry"
)

// SharedObjectIDProp the back-pointer property every registered shared
// object carries, the id the host is notified with on reclamation
const SharedObjectIDProp = "__expo_shared_object_id"

// InteropRegistry the bridge façade. Installs the bridge into a live engine,
// serves module / class / shared-object operations to the host side, and
// drives the teardown sequence. State machine:
//
//	Uninitialized -> Installed -> Deallocated
//
// Every public operation starts with the state guard, operations before
// Install or after teardown fail with ErrNotInitialized instead of touching
// a dead engine.
type InteropRegistry struct {
	provider ModuleProvider
	option   *Option

	runtime *Runtime
	modules *registry.ModuleRegistry
	shared  *registry.SharedObjectRegistry
	classes *registry.ClassRegistry

	deallocator  Deallocator
	invoker      CallInvoker
	ownedInvoker *LoopInvoker

	installed   atomic.Bool
	deallocated atomic.Bool
	mutex       sync.Mutex
}

// New create an uninitialized bridge. The provider is the external
// module-declaration subsystem that reflects host modules into script
// objects, option may be nil.
func New(provider ModuleProvider, option *Option) *InteropRegistry {
	return &InteropRegistry{provider: provider, option: option}
}

// Status the current lifecycle state
func (ir *InteropRegistry) Status() uint8 {
	if ir.deallocated.Load() {
		return StatusDeallocated
	}
	if ir.installed.Load() {
		return StatusInstalled
	}
	return StatusUninitialized
}

// WasDeallocated the hook the host's own finalization path uses to detect a
// second teardown
func (ir *InteropRegistry) WasDeallocated() bool {
	return ir.deallocated.Load()
}

// Install attach the bridge to a live engine owned by the host application.
// The invoker is the only way host threads may reach the engine thread, it
// is retained for the lifetime of the bridge along with the deallocator.
func (ir *InteropRegistry) Install(engine *quickjs.Runtime, deallocator Deallocator, invoker CallInvoker) error {

	if engine == nil {
		return fmt.Errorf("install: the engine instance is missing")
	}

	ir.mutex.Lock()
	defer ir.mutex.Unlock()

	if ir.installed.Load() || ir.deallocated.Load() {
		return fmt.Errorf("install: the bridge is already installed")
	}

	runtime, err := NewRuntime(engine, invoker, ir.option)
	if err != nil {
		return err
	}

	if err := ir.install(runtime, deallocator, invoker); err != nil {
		runtime.Dispose()
		return err
	}
	return nil
}

// InstallForTests construct and own a private engine instance, for use
// outside a host application. Behaves identically to Install from the
// registry's point of view.
func (ir *InteropRegistry) InstallForTests(deallocator Deallocator) error {

	ir.mutex.Lock()
	defer ir.mutex.Unlock()

	if ir.installed.Load() || ir.deallocated.Load() {
		return fmt.Errorf("install: the bridge is already installed")
	}

	invoker := NewLoopInvoker(0)
	runtime, err := NewOwnedRuntime(invoker, ir.option)
	if err != nil {
		invoker.Stop()
		return err
	}

	ir.ownedInvoker = invoker
	if err := ir.install(runtime, deallocator, invoker); err != nil {
		runtime.Dispose()
		invoker.Stop()
		ir.ownedInvoker = nil
		return err
	}
	return nil
}

// install the shared half of both install paths. Caller holds the mutex.
func (ir *InteropRegistry) install(runtime *Runtime, deallocator Deallocator, invoker CallInvoker) error {

	ir.runtime = runtime
	ir.modules = registry.NewModuleRegistry()
	ir.classes = registry.NewClassRegistry()
	ir.shared = registry.NewSharedObjectRegistry(ir.attachReclamationHook)
	ir.deallocator = deallocator
	ir.invoker = invoker

	var installErr error
	runtime.invokeSync(func() {

		// the host side enumerates its module declarations, the registry
		// only stores what it is handed
		if ir.provider != nil {
			modules, err := ir.provider.Modules(runtime.ctx)
			if err != nil {
				installErr = fmt.Errorf("install: enumerate modules: %s", err.Error())
				return
			}
			for _, module := range modules {
				if err := ir.modules.Register(module); err != nil {
					installErr = err
					return
				}
			}

			core, err := ir.provider.CoreModule(runtime.ctx)
			if err != nil {
				installErr = fmt.Errorf("install: core module: %s", err.Error())
				return
			}
			if core != nil {
				if err := ir.modules.Register(core); err != nil {
					installErr = err
					return
				}
			}
		}
		ir.modules.Seal()

		surface := host.New(ir.modules, ir.shared)
		if err := surface.Set(HostObjectName, runtime.ctx); err != nil {
			installErr = fmt.Errorf("install: host object: %s", err.Error())
			return
		}

		installErr = ir.prepareRuntime()
	})

	if installErr != nil {
		return installErr
	}

	ir.installed.Store(true)
	log.Trace("[qjs] [%s] bridge installed, %d modules", runtime.ID, ir.modules.Len())
	return nil
}

// prepareRuntime populate the reference cache. Engine thread only,
// idempotent on retry.
func (ir *InteropRegistry) prepareRuntime() error {
	return ir.runtime.refs.Prepare(ir.runtime.ctx)
}

// guard the state check every public operation starts with
func (ir *InteropRegistry) guard() error {
	if ir.deallocated.Load() || !ir.installed.Load() {
		return ErrNotInitialized
	}
	return nil
}

// GetModule lookup a module by name. Pure lookup, *ModuleNotFoundError when
// the name is unknown.
func (ir *InteropRegistry) GetModule(name string) (*registry.ModuleObject, error) {
	if err := ir.guard(); err != nil {
		return nil, err
	}
	return ir.modules.Get(name)
}

// HasModule check a module exists. Total, false before install.
func (ir *InteropRegistry) HasModule(name string) bool {
	if err := ir.guard(); err != nil {
		return false
	}
	return ir.modules.Has(name)
}

// GetModulesName the names of all registered modules
func (ir *InteropRegistry) GetModulesName() ([]string, error) {
	if err := ir.guard(); err != nil {
		return nil, err
	}
	return ir.modules.Names(), nil
}

// GetCoreModule the bootstrap module
func (ir *InteropRegistry) GetCoreModule() (*registry.ModuleObject, error) {
	if err := ir.guard(); err != nil {
		return nil, err
	}
	return ir.modules.Core()
}

// EvaluateScript execute source on the engine thread and return the result
// as a golang value. Script failures come back as *EvaluationError, the
// registries are untouched by a failed evaluation.
func (ir *InteropRegistry) EvaluateScript(source string) (interface{}, error) {
	if err := ir.guard(); err != nil {
		return nil, err
	}
	return ir.runtime.EvaluateScript(source)
}

// EvaluateSource execute a named, optionally TypeScript, script source
func (ir *InteropRegistry) EvaluateSource(source *Source) (interface{}, error) {
	if err := ir.guard(); err != nil {
		return nil, err
	}
	return ir.runtime.EvaluateSource(source)
}

// Global the engine's global object handle
func (ir *InteropRegistry) Global() (*quickjs.Value, error) {
	if err := ir.guard(); err != nil {
		return nil, err
	}
	return ir.runtime.Global(), nil
}

// CreateObject allocate a new plain object in the engine
func (ir *InteropRegistry) CreateObject() (*quickjs.Value, error) {
	if err := ir.guard(); err != nil {
		return nil, err
	}
	return ir.runtime.CreateObject(), nil
}

// DrainJSEventLoop run the engine's pending jobs to quiescence
func (ir *InteropRegistry) DrainJSEventLoop() error {
	if err := ir.guard(); err != nil {
		return err
	}
	ir.runtime.DrainJSEventLoop()
	return nil
}

// RegisterSharedObject pair a host-native handle with a script object and
// return the fresh id. The reclamation hook is attached before this returns,
// the engine notifies the registry when the object becomes unreachable.
func (ir *InteropRegistry) RegisterSharedObject(native registry.NativeHandle, js *quickjs.Value) (int, error) {
	if err := ir.guard(); err != nil {
		return 0, err
	}

	var id int
	var registerErr error
	ir.runtime.invokeSync(func() {
		id, registerErr = ir.shared.Register(native, js)
	})
	return id, registerErr
}

// DeleteSharedObject release the native half of a shared object. Unknown ids
// are a no-op, this races with the collector-triggered path by design.
func (ir *InteropRegistry) DeleteSharedObject(id int) {
	if err := ir.guard(); err != nil {
		return
	}
	ir.runtime.invokeSync(func() { ir.shared.Delete(id) })
}

// SetNativeStateForSharedObject attach additional host-side native state to
// a registered shared object
func (ir *InteropRegistry) SetNativeStateForSharedObject(id int, state interface{}) error {
	if err := ir.guard(); err != nil {
		return err
	}
	return ir.shared.SetNativeState(id, state)
}

// SharedObject lookup the entry for an id
func (ir *InteropRegistry) SharedObject(id int) (*registry.SharedObjectEntry, bool) {
	if err := ir.guard(); err != nil {
		return nil, false
	}
	return ir.shared.Lookup(id)
}

// RegisterClass map a host class identity to a script-side constructor
func (ir *InteropRegistry) RegisterClass(native reflect.Type, jsClass *quickjs.Value) error {
	if err := ir.guard(); err != nil {
		return err
	}
	ir.classes.Register(native, jsClass)
	return nil
}

// GetJavascriptClass the script-side constructor for a host class. Pure
// lookup, *UnknownClassError when the class was never registered.
func (ir *InteropRegistry) GetJavascriptClass(native reflect.Type) (*quickjs.Value, error) {
	if err := ir.guard(); err != nil {
		return nil, err
	}
	jsClass, has := ir.classes.Get(native)
	if !has {
		return nil, &registry.UnknownClassError{Name: native.String()}
	}
	return jsClass, nil
}

// Runtime the script runtime handle, nil before install
func (ir *InteropRegistry) Runtime() *Runtime {
	return ir.runtime
}

// attachReclamationHook wire the engine-side unreachability notification for
// a shared object. Engine thread only, called from the registry while the
// façade already runs on the engine thread.
func (ir *InteropRegistry) attachReclamationHook(id int, js *quickjs.Value) error {

	ctx := ir.runtime.ctx
	js.Set(SharedObjectIDProp, ctx.NewInt32(int32(id)))

	finalizer, has := ir.runtime.refs.Get(RefSharedObjectFinalizer)
	if !has {
		// no FinalizationRegistry in this engine, deletion is host-driven
		return nil
	}

	idValue := ctx.NewInt32(int32(id))
	defer idValue.Free()

	res := finalizer.Call("register", js, idValue)
	defer res.Free()
	if res.IsException() {
		return ctx.Exception()
	}
	return nil
}

// Dispose tear the bridge down. Order matters: the deallocated flag is
// raised first so reentrant calls from finalizers observe it, the host-side
// deallocator is notified before any engine state is destroyed, and the
// runtime handle goes last. Calling Dispose again is a no-op.
func (ir *InteropRegistry) Dispose() {
	ir.mutex.Lock()
	defer ir.mutex.Unlock()

	if ir.deallocated.Swap(true) {
		log.Trace("[qjs] the bridge is already deallocated, ignore")
		return
	}

	if !ir.installed.Load() {
		return
	}

	if ir.deallocator != nil {
		ir.deallocator.Deallocate()
	}

	ir.runtime.invokeSync(func() {
		ir.shared.Dispose()
		ir.modules.Dispose()
		ir.classes.Dispose()
	})

	ir.runtime.Dispose()
	ir.installed.Store(false)

	if ir.ownedInvoker != nil {
		ir.ownedInvoker.Stop()
		ir.ownedInvoker = nil
	}
	log.Trace("[qjs] bridge deallocated")
}
