package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/buke/quickjs-go"
	"github.com/yaoapp/kun/log"
)

// UnknownClassError the host class has no registered script constructor
type UnknownClassError struct {
	Name string
}

func (err *UnknownClassError) Error() string {
	return fmt.Sprintf("class %s is not registered", err.Name)
}

// ClassRegistry host class identity -> script-side constructor mapping.
// Same store-and-serve discipline as the module registry, the constructor
// objects are built elsewhere and handed in fully formed.
type ClassRegistry struct {
	classes map[reflect.Type]*quickjs.Value
	mutex   sync.Mutex
}

// NewClassRegistry create a new class registry
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{classes: map[reflect.Type]*quickjs.Value{}}
}

// Register map a host class to its script constructor
func (reg *ClassRegistry) Register(native reflect.Type, jsClass *quickjs.Value) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	if _, has := reg.classes[native]; has {
		log.Warn("[registry] the class %s is already registered, overwrite", native.String())
	}
	reg.classes[native] = jsClass
}

// Get the script constructor for a host class
func (reg *ClassRegistry) Get(native reflect.Type) (*quickjs.Value, bool) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	jsClass, has := reg.classes[native]
	return jsClass, has
}

// Len the number of registered classes
func (reg *ClassRegistry) Len() int {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	return len(reg.classes)
}

// Dispose release the script constructors. Must run on the engine thread.
func (reg *ClassRegistry) Dispose() {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	for native, jsClass := range reg.classes {
		if jsClass != nil {
			jsClass.Free()
		}
		delete(reg.classes, native)
	}
}
