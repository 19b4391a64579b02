package qjs

import (
	"errors"
	"fmt"

	"github.com/buke/quickjs-go"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/yaoapp/kun/log"

	"github.com/mkhoussid/expo/runtime/qjs/bridge"
)

// NewRuntime wrap a live engine owned by the host application. The context
// is created on the engine thread through the invoker.
func NewRuntime(engine *quickjs.Runtime, invoker CallInvoker, option *Option) (*Runtime, error) {

	if engine == nil {
		return nil, fmt.Errorf("the engine instance is missing")
	}

	if option == nil {
		option = &Option{}
	}
	option.Validate()

	runtime, err := newRuntime(invoker, option)
	if err != nil {
		return nil, err
	}

	runtime.engine = engine
	runtime.invokeSync(func() { runtime.ctx = engine.NewContext() })
	return runtime, nil
}

// NewOwnedRuntime create a runtime with a private engine instance. Used by
// the test-install path, the engine lives and dies with this handle.
func NewOwnedRuntime(invoker CallInvoker, option *Option) (*Runtime, error) {

	if option == nil {
		option = &Option{}
	}
	option.Validate()

	runtime, err := newRuntime(invoker, option)
	if err != nil {
		return nil, err
	}

	opts := []quickjs.Option{}
	if option.MemoryLimit > 0 {
		opts = append(opts, quickjs.WithMemoryLimit(option.MemoryLimit))
	}
	if option.MaxStackSize > 0 {
		opts = append(opts, quickjs.WithMaxStackSize(option.MaxStackSize))
	}
	if option.ExecuteTimeout > 0 {
		opts = append(opts, quickjs.WithExecuteTimeout(option.ExecuteTimeout))
	}
	opts = append(opts, quickjs.WithGCThreshold(option.GCThreshold))

	// the engine pins itself to the thread it was created on
	runtime.invokeSync(func() {
		runtime.engine = quickjs.NewRuntime(opts...)
		runtime.ctx = runtime.engine.NewContext()
	})
	runtime.owned = true
	runtime.forTests = true
	return runtime, nil
}

func newRuntime(invoker CallInvoker, option *Option) (*Runtime, error) {
	bytecode, err := lru.New(option.BytecodeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		ID:       uuid.New().String(),
		invoker:  invoker,
		refs:     NewReferenceCache(),
		bytecode: bytecode,
	}, nil
}

// invokeSync run fn on the engine thread and wait for it. Runs inline when
// no invoker is attached or when the caller already is the engine thread, an
// engine-side callback that queued and waited would starve the invoker's
// queue forever.
func (runtime *Runtime) invokeSync(fn func()) {
	if runtime.invoker == nil || runtime.onEngineThread() {
		fn()
		return
	}
	done := make(chan struct{})
	runtime.invoker.InvokeAsync(func() {
		defer close(done)
		if runtime.engineGID.Load() == 0 {
			runtime.engineGID.Store(goroutineID())
		}
		fn()
	})
	<-done
}

// onEngineThread reports whether the caller runs on the goroutine servicing
// the invoker's jobs. The identity is learned from the first dispatched job,
// the invoker contract keeps it stable afterwards.
func (runtime *Runtime) onEngineThread() bool {
	gid := runtime.engineGID.Load()
	return gid != 0 && gid == goroutineID()
}

// Context the engine context. Engine-thread use only.
func (runtime *Runtime) Context() *quickjs.Context {
	return runtime.ctx
}

// Refs the runtime's reference cache
func (runtime *Runtime) Refs() *ReferenceCache {
	return runtime.refs
}

// EvaluateScript execute source synchronously on the engine thread and
// return the result as a golang value
func (runtime *Runtime) EvaluateScript(source string) (interface{}, error) {
	return runtime.EvaluateSource(&Source{Source: source})
}

// EvaluateSource execute a script source synchronously on the engine thread.
// TypeScript sources are transformed first, compiled bytecode is reused
// across evaluations of the same source.
func (runtime *Runtime) EvaluateSource(source *Source) (interface{}, error) {

	code, err := runtime.compile(source)
	if err != nil {
		return nil, err
	}

	var goValue interface{}
	var evalErr error
	runtime.invokeSync(func() {
		jsValue := runtime.ctx.EvalBytecode(code.bytecode)
		defer jsValue.Free()

		if jsValue.IsException() {
			evalErr = runtime.evaluationError(code.name, code.sourcemap)
			return
		}
		goValue, evalErr = bridge.GoValue(jsValue)
	})
	return goValue, evalErr
}

// compile transform and compile a source, going through the bytecode cache
func (runtime *Runtime) compile(source *Source) (*compiled, error) {

	key := source.key()
	if cached, has := runtime.bytecode.Get(key); has {
		return cached.(*compiled), nil
	}

	name := source.filename()
	text := source.Source
	var smap []byte
	if source.TypeScript {
		code, sm, err := TransformTS(name, []byte(text))
		if err != nil {
			return nil, &EvaluationError{Script: name, Message: err.Error()}
		}
		text = string(code)
		smap = sm
	}

	code := &compiled{name: name, sourcemap: smap}
	var compileErr error
	runtime.invokeSync(func() {
		bytecode, err := runtime.ctx.Compile(text, quickjs.EvalFileName(name))
		if err != nil {
			if runtime.ctx.HasException() {
				compileErr = runtime.evaluationError(name, smap)
				return
			}
			compileErr = &EvaluationError{Script: name, Message: err.Error()}
			return
		}
		code.bytecode = bytecode
	})
	if compileErr != nil {
		return nil, compileErr
	}

	runtime.bytecode.Add(key, code)
	return code, nil
}

func (runtime *Runtime) evaluationError(name string, smap []byte) *EvaluationError {
	err := runtime.ctx.Exception()
	if err == nil {
		return &EvaluationError{Script: name, Message: "unknown engine failure"}
	}

	var qjsErr *quickjs.Error
	if errors.As(err, &qjsErr) {
		return &EvaluationError{
			Script:  name,
			Message: qjsErr.Cause,
			Stack:   stackTrace(name, qjsErr.Stack, smap),
		}
	}
	return &EvaluationError{Script: name, Message: err.Error()}
}

// Global the engine's global object handle. Total.
func (runtime *Runtime) Global() *quickjs.Value {
	var global *quickjs.Value
	runtime.invokeSync(func() { global = runtime.ctx.Globals() })
	return global
}

// CreateObject allocate a new plain object in the engine. Total.
func (runtime *Runtime) CreateObject() *quickjs.Value {
	var object *quickjs.Value
	runtime.invokeSync(func() { object = runtime.ctx.NewObject() })
	return object
}

// DrainJSEventLoop run the engine's pending jobs to quiescence. Callable
// from the host's idle path, returns when no more jobs are pending.
func (runtime *Runtime) DrainJSEventLoop() {
	runtime.invokeSync(func() { runtime.ctx.Loop() })
}

// RunGC ask the engine to collect garbage, then drain the finalization jobs
// it queued
func (runtime *Runtime) RunGC() {
	runtime.invokeSync(func() {
		runtime.engine.RunGC()
		runtime.ctx.Loop()
	})
}

// Dispose release the engine context, and the engine itself when this handle
// owns it. Must be the last step of the bridge teardown.
func (runtime *Runtime) Dispose() {
	runtime.invokeSync(func() {
		runtime.refs.Dispose()
		if runtime.ctx != nil {
			runtime.ctx.Close()
			runtime.ctx = nil
		}
		if runtime.owned && runtime.engine != nil {
			runtime.engine.Close()
		}
		runtime.engine = nil
	})
	runtime.bytecode.Purge()
	log.Trace("[qjs] [%s] runtime disposed", runtime.ID)
}
