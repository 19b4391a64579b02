package qjs

import (
	"errors"
	"reflect"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/buke/quickjs-go"
	"github.com/stretchr/testify/assert"

	"github.com/mkhoussid/expo/runtime/qjs/registry"
)

type testDeallocator struct {
	count atomic.Int32
}

func (deallocator *testDeallocator) Deallocate() {
	deallocator.count.Add(1)
}

type testNative struct {
	released atomic.Int32
}

func (native *testNative) Release() {
	native.released.Add(1)
}

func testProvider() *StaticModuleProvider {
	build := func(name string) func(ctx *quickjs.Context) (*quickjs.Value, error) {
		return func(ctx *quickjs.Context) (*quickjs.Value, error) {
			module := ctx.NewObject()
			module.Set("name", ctx.NewString(name))
			return module, nil
		}
	}
	return &StaticModuleProvider{
		Declarations: []ModuleDeclaration{
			{Name: "NativeCrypto", Build: build("NativeCrypto")},
			{Name: "NativeDevice", Build: build("NativeDevice")},
		},
	}
}

func prepare(t *testing.T) (*InteropRegistry, *testDeallocator) {
	t.Helper()
	deallocator := &testDeallocator{}
	ir := New(testProvider(), nil)
	if err := ir.InstallForTests(deallocator); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ir.Dispose)
	return ir, deallocator
}

func TestNotInitialized(t *testing.T) {
	ir := New(nil, nil)

	_, err := ir.GetModule("NativeCrypto")
	assert.Equal(t, ErrNotInitialized, err)

	assert.False(t, ir.HasModule("NativeCrypto"))

	_, err = ir.GetModulesName()
	assert.Equal(t, ErrNotInitialized, err)

	_, err = ir.GetCoreModule()
	assert.Equal(t, ErrNotInitialized, err)

	_, err = ir.EvaluateScript("1+1")
	assert.Equal(t, ErrNotInitialized, err)

	_, err = ir.Global()
	assert.Equal(t, ErrNotInitialized, err)

	_, err = ir.CreateObject()
	assert.Equal(t, ErrNotInitialized, err)

	assert.Equal(t, ErrNotInitialized, ir.DrainJSEventLoop())

	_, err = ir.RegisterSharedObject(&testNative{}, nil)
	assert.Equal(t, ErrNotInitialized, err)

	// guarded no-op, never a panic
	ir.DeleteSharedObject(0)

	assert.Equal(t, StatusUninitialized, ir.Status())
	assert.False(t, ir.WasDeallocated())
}

func TestInstallForTests(t *testing.T) {
	ir, _ := prepare(t)
	assert.Equal(t, StatusInstalled, ir.Status())

	err := ir.InstallForTests(&testDeallocator{})
	assert.NotNil(t, err)
}

func TestPrepareRuntimeIdempotent(t *testing.T) {
	ir, _ := prepare(t)

	var err error
	ir.runtime.invokeSync(func() { err = ir.prepareRuntime() })
	assert.Nil(t, err)
	assert.True(t, ir.runtime.refs.Prepared())
}

func TestEvaluateScript(t *testing.T) {
	ir, _ := prepare(t)

	value, err := ir.EvaluateScript("1+1")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, value)

	value, err = ir.EvaluateScript(`"hello" + " " + "bridge"`)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "hello bridge", value)
}

func TestEvaluateScriptError(t *testing.T) {
	ir, _ := prepare(t)

	before, err := ir.GetModulesName()
	if err != nil {
		t.Fatal(err)
	}

	_, err = ir.EvaluateScript("syntax(((")
	assert.NotNil(t, err)

	var evalErr *EvaluationError
	assert.True(t, errors.As(err, &evalErr))
	assert.NotEmpty(t, evalErr.Message)

	// a failed evaluation leaves the module registry untouched
	after, err := ir.GetModulesName()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, before, after)

	_, err = ir.EvaluateScript("undefinedFn()")
	assert.True(t, errors.As(err, &evalErr))
}

func TestEvaluateSourceTypeScript(t *testing.T) {
	ir, _ := prepare(t)

	value, err := ir.EvaluateSource(&Source{
		Name:       "math.ts",
		Source:     "const add = (a: number, b: number): number => a + b; add(20, 22);",
		TypeScript: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 42, value)

	// the second evaluation hits the bytecode cache
	value, err = ir.EvaluateSource(&Source{
		Name:       "math.ts",
		Source:     "const add = (a: number, b: number): number => a + b; add(20, 22);",
		TypeScript: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 42, value)
}

func TestEvaluateSourceCacheKeyedByTransform(t *testing.T) {
	ir, _ := prepare(t)

	text := "const add = (a: number, b: number): number => a + b; add(20, 22);"

	value, err := ir.EvaluateSource(&Source{Name: "math.ts", Source: text, TypeScript: true})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 42, value)

	// the same text as plain javascript is a fresh compile, the type
	// annotations are a syntax error there, never a stale cache hit
	_, err = ir.EvaluateSource(&Source{Name: "math.js", Source: text})
	var evalErr *EvaluationError
	assert.True(t, errors.As(err, &evalErr))
}

func TestGetModule(t *testing.T) {
	ir, _ := prepare(t)

	module, err := ir.GetModule("NativeCrypto")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "NativeCrypto", module.Name)

	_, err = ir.GetModule("NativeMissing")
	var notFound *registry.ModuleNotFoundError
	assert.True(t, errors.As(err, &notFound))

	assert.True(t, ir.HasModule("NativeDevice"))
	assert.False(t, ir.HasModule("NativeMissing"))
}

func TestGetModulesName(t *testing.T) {
	ir, _ := prepare(t)

	names, err := ir.GetModulesName()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []string{"NativeCrypto", "NativeDevice", registry.CoreModuleName}, names)
	for _, name := range names {
		assert.True(t, ir.HasModule(name))
	}
}

func TestGetCoreModule(t *testing.T) {
	ir, _ := prepare(t)

	core, err := ir.GetCoreModule()
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, registry.CoreModuleName, core.Name)
}

func TestModulesVisibleToScripts(t *testing.T) {
	ir, _ := prepare(t)

	value, err := ir.EvaluateScript(`__expo.hasModule("NativeCrypto")`)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, value)

	value, err = ir.EvaluateScript(`__expo.modules("NativeCrypto").name`)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "NativeCrypto", value)

	value, err = ir.EvaluateScript(`__expo.modulesNames().length`)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 3, value)

	_, err = ir.EvaluateScript(`__expo.modules("NativeMissing")`)
	var evalErr *EvaluationError
	assert.True(t, errors.As(err, &evalErr))
	assert.Contains(t, evalErr.Message, "NativeMissing")
}

func TestSharedObjectLifecycle(t *testing.T) {
	ir, _ := prepare(t)

	o1, err := ir.CreateObject()
	if err != nil {
		t.Fatal(err)
	}
	o2, err := ir.CreateObject()
	if err != nil {
		t.Fatal(err)
	}

	h1 := &testNative{}
	h2 := &testNative{}

	id1, err := ir.RegisterSharedObject(h1, o1)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := ir.RegisterSharedObject(h2, o2)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 0, id1)
	assert.Equal(t, 1, id2)

	entry, has := ir.SharedObject(id1)
	assert.True(t, has)
	assert.Equal(t, registry.NativeHandle(h1), entry.Native)
	assert.Equal(t, o1, entry.JSObject)

	ir.DeleteSharedObject(id1)
	assert.Equal(t, int32(1), h1.released.Load())

	ir.DeleteSharedObject(id1)
	assert.Equal(t, int32(1), h1.released.Load())

	err = ir.SetNativeStateForSharedObject(id1, "state")
	var unknown *registry.UnknownSharedObjectError
	assert.True(t, errors.As(err, &unknown))

	err = ir.SetNativeStateForSharedObject(id2, "state")
	assert.Nil(t, err)

	// the module registry is unaffected by shared object churn
	_, err = ir.GetCoreModule()
	assert.Nil(t, err)
}

func TestSharedObjectBackPointer(t *testing.T) {
	ir, _ := prepare(t)

	object, err := ir.CreateObject()
	if err != nil {
		t.Fatal(err)
	}

	global, err := ir.Global()
	if err != nil {
		t.Fatal(err)
	}
	ir.runtime.invokeSync(func() { global.Set("o", object) })

	id, err := ir.RegisterSharedObject(&testNative{}, object)
	if err != nil {
		t.Fatal(err)
	}

	value, err := ir.EvaluateScript("o." + SharedObjectIDProp)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, id, value)
}

func TestSharedObjectFinalizedFromScript(t *testing.T) {
	ir, _ := prepare(t)

	object, err := ir.CreateObject()
	if err != nil {
		t.Fatal(err)
	}

	h1 := &testNative{}
	id, err := ir.RegisterSharedObject(h1, object)
	if err != nil {
		t.Fatal(err)
	}

	// the engine-side reclamation callback releases the native half once
	_, err = ir.EvaluateScript("__expo.sharedObjectFinalized(" + strconv.Itoa(id) + ")")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, int32(1), h1.released.Load())

	// a late host delete for the same id is absorbed
	ir.DeleteSharedObject(id)
	assert.Equal(t, int32(1), h1.released.Load())
}

func TestDeleteSharedObjectFromEngineThread(t *testing.T) {
	ir, _ := prepare(t)

	h1 := &testNative{}
	id, err := ir.RegisterSharedObject(h1, nil)
	if err != nil {
		t.Fatal(err)
	}

	// host work scheduled on the engine thread reaches back into the bridge,
	// the call must run inline instead of queueing behind itself
	ir.invoker.InvokeAsync(func() { ir.DeleteSharedObject(id) })
	ir.runtime.invokeSync(func() {})
	assert.Equal(t, int32(1), h1.released.Load())

	h2 := &testNative{}
	var id2 int
	var registerErr error
	ir.invoker.InvokeAsync(func() { id2, registerErr = ir.RegisterSharedObject(h2, nil) })
	ir.runtime.invokeSync(func() {})
	assert.Nil(t, registerErr)

	entry, has := ir.SharedObject(id2)
	assert.True(t, has)
	assert.Equal(t, registry.NativeHandle(h2), entry.Native)
}

func TestDrainJSEventLoop(t *testing.T) {
	ir, _ := prepare(t)

	_, err := ir.EvaluateScript(`globalThis.flag = false; Promise.resolve().then(() => { globalThis.flag = true; });`)
	if err != nil {
		t.Fatal(err)
	}

	if err := ir.DrainJSEventLoop(); err != nil {
		t.Fatal(err)
	}

	value, err := ir.EvaluateScript("globalThis.flag")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, true, value)
}

func TestRegisterClass(t *testing.T) {
	ir, _ := prepare(t)

	var constructor *quickjs.Value
	ir.runtime.invokeSync(func() {
		constructor = ir.runtime.ctx.Eval("(class AudioPlayer {})")
	})

	native := reflect.TypeOf(testNative{})
	if err := ir.RegisterClass(native, constructor); err != nil {
		t.Fatal(err)
	}

	jsClass, err := ir.GetJavascriptClass(native)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, constructor, jsClass)

	_, err = ir.GetJavascriptClass(reflect.TypeOf(testDeallocator{}))
	var unknown *registry.UnknownClassError
	assert.True(t, errors.As(err, &unknown))
	assert.Contains(t, unknown.Name, "testDeallocator")
}

func TestDisposeIdempotent(t *testing.T) {
	deallocator := &testDeallocator{}
	ir := New(testProvider(), nil)
	if err := ir.InstallForTests(deallocator); err != nil {
		t.Fatal(err)
	}

	h1 := &testNative{}
	if _, err := ir.RegisterSharedObject(h1, nil); err != nil {
		t.Fatal(err)
	}

	ir.Dispose()
	ir.Dispose()

	// the deallocator is notified exactly once, natives released once
	assert.Equal(t, int32(1), deallocator.count.Load())
	assert.Equal(t, int32(1), h1.released.Load())
	assert.True(t, ir.WasDeallocated())
	assert.Equal(t, StatusDeallocated, ir.Status())

	_, err := ir.GetModule("NativeCrypto")
	assert.Equal(t, ErrNotInitialized, err)

	_, err = ir.EvaluateScript("1+1")
	assert.Equal(t, ErrNotInitialized, err)
}

func TestDisposeBeforeInstall(t *testing.T) {
	deallocator := &testDeallocator{}
	ir := New(nil, nil)
	ir.Dispose()

	assert.True(t, ir.WasDeallocated())
	assert.Equal(t, int32(0), deallocator.count.Load())

	// a deallocated bridge refuses a late install
	err := ir.InstallForTests(deallocator)
	assert.NotNil(t, err)
}
