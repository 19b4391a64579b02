package host

import (
	"github.com/buke/quickjs-go"
	"github.com/google/uuid"
	"github.com/yaoapp/kun/log"

	"github.com/mkhoussid/expo/runtime/qjs/bridge"
	"github.com/mkhoussid/expo/runtime/qjs/registry"
)

// ModuleRegistryProp the property of the host object that holds the
// script-side module namespace. The module objects are owned by the engine
// through this namespace.
const ModuleRegistryProp = "moduleRegistry"

// Object the script-visible host surface. One instance is installed into the
// engine's global scope during the bridge install, it is the only door
// scripts have to the host side.
//
//	__expo.modules("NativeCrypto")
//	__expo.hasModule("NativeCrypto")
//	__expo.modulesNames()
//	__expo.uuidv4()
type Object struct {
	name    string
	modules *registry.ModuleRegistry
	shared  *registry.SharedObjectRegistry
}

// New create a new host object over the bridge registries
func New(modules *registry.ModuleRegistry, shared *registry.SharedObjectRegistry) *Object {
	return &Object{modules: modules, shared: shared}
}

// Set install the host object instance into the global scope under name,
// along with the script-side module namespace. Engine thread only.
func (obj *Object) Set(name string, ctx *quickjs.Context) error {
	obj.name = name

	instance := ctx.NewObject()

	namespace := ctx.NewObject()
	for _, moduleName := range obj.modules.Names() {
		module, err := obj.modules.Get(moduleName)
		if err != nil {
			continue
		}
		if module.JSObject != nil {
			namespace.Set(moduleName, module.JSObject)
		}
	}
	instance.Set(ModuleRegistryProp, namespace)

	instance.Set("modules", ctx.NewFunction(obj.module))
	instance.Set("hasModule", ctx.NewFunction(obj.hasModule))
	instance.Set("modulesNames", ctx.NewFunction(obj.modulesNames))
	instance.Set("sharedObjectFinalized", ctx.NewFunction(obj.sharedObjectFinalized))
	instance.Set("uuidv4", ctx.NewFunction(obj.uuidv4))

	ctx.Globals().Set(name, instance)
	return nil
}

// module __expo.modules(name) return the module object for a name. The
// lookup goes through the script-side namespace so the engine hands out a
// properly retained reference.
func (obj *Object) module(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {

	if len(args) < 1 {
		return bridge.JsException(ctx, "missing parameters")
	}

	if !args[0].IsString() {
		return bridge.JsException(ctx, "the first parameter should be a string")
	}

	name := args[0].ToString()
	if !obj.modules.Has(name) {
		return bridge.JsException(ctx, &registry.ModuleNotFoundError{Name: name})
	}

	hostObject := ctx.Globals().Get(obj.name)
	defer hostObject.Free()

	namespace := hostObject.Get(ModuleRegistryProp)
	defer namespace.Free()

	return namespace.Get(name)
}

// hasModule __expo.hasModule(name)
func (obj *Object) hasModule(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	if len(args) < 1 || !args[0].IsString() {
		return ctx.NewBool(false)
	}
	return ctx.NewBool(obj.modules.Has(args[0].ToString()))
}

// modulesNames __expo.modulesNames()
func (obj *Object) modulesNames(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	names, err := bridge.JsValue(ctx, obj.modules.Names())
	if err != nil {
		return bridge.JsException(ctx, err)
	}
	return names
}

// sharedObjectFinalized the engine-side reclamation callback. The collector
// decided a shared object is unreachable, release its host half. Runs on the
// engine thread as a finalization job, deletion races with host-side deletes
// are absorbed by the registry.
func (obj *Object) sharedObjectFinalized(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	if len(args) < 1 || !args[0].IsNumber() {
		return bridge.JsException(ctx, "the first parameter should be a shared object id")
	}

	id := int(args[0].ToInt32())
	log.Trace("[host] shared object %d finalized by the engine", id)
	obj.shared.Delete(id)
	return ctx.NewUndefined()
}

// uuidv4 __expo.uuidv4() a fresh v4 uuid for script code
func (obj *Object) uuidv4(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
	return ctx.NewString(uuid.New().String())
}
