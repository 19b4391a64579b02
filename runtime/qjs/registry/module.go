package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/buke/quickjs-go"
	"github.com/yaoapp/kun/log"
)

// CoreModuleName the name of the bootstrap module. The core module is
// registered by the host before any user module is reachable.
const CoreModuleName = "expo"

// ModuleObject a named, script-visible module surface. The JS object is
// built by the module-declaration subsystem on the host side, this registry
// only stores and serves it.
type ModuleObject struct {
	Name     string
	JSObject *quickjs.Value
}

// ModuleNotFoundError the module does not exist in the registry
type ModuleNotFoundError struct {
	Name string
}

func (err *ModuleNotFoundError) Error() string {
	return fmt.Sprintf("module %s does not exist", err.Name)
}

// ErrCoreModuleMissing the core module was not registered during bootstrap
var ErrCoreModuleMissing = fmt.Errorf("the core module is missing, the bridge bootstrap has not completed")

// ModuleRegistry name -> module object mapping. Populated once during
// install, sealed, then read-only. Reads after Seal take no lock.
type ModuleRegistry struct {
	modules map[string]*ModuleObject
	core    *ModuleObject
	sealed  bool
	mutex   sync.Mutex
}

// NewModuleRegistry create a new module registry
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: map[string]*ModuleObject{}}
}

// Register add a module. Registration after Seal is rejected, the registry
// is immutable once the bridge is installed.
func (reg *ModuleRegistry) Register(module *ModuleObject) error {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	if reg.sealed {
		return fmt.Errorf("module registry is sealed, cannot register %s", module.Name)
	}

	if _, has := reg.modules[module.Name]; has {
		log.Warn("[registry] the module %s is already registered, overwrite", module.Name)
	}
	reg.modules[module.Name] = module

	if module.Name == CoreModuleName {
		reg.core = module
	}
	return nil
}

// Seal mark the registry read-only
func (reg *ModuleRegistry) Seal() {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	reg.sealed = true
}

// Get lookup a module by name. Pure lookup, no side effects.
func (reg *ModuleRegistry) Get(name string) (*ModuleObject, error) {
	module, has := reg.modules[name]
	if !has {
		return nil, &ModuleNotFoundError{Name: name}
	}
	return module, nil
}

// Has check if a module exists. Total, never fails.
func (reg *ModuleRegistry) Has(name string) bool {
	_, has := reg.modules[name]
	return has
}

// Names the names of all registered modules. Snapshot of the mapping at the
// moment of the call, sorted so the order is stable within a call.
func (reg *ModuleRegistry) Names() []string {
	names := make([]string, 0, len(reg.modules))
	for name := range reg.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len the number of registered modules
func (reg *ModuleRegistry) Len() int {
	return len(reg.modules)
}

// Core the distinguished bootstrap module
func (reg *ModuleRegistry) Core() (*ModuleObject, error) {
	if reg.core == nil {
		return nil, ErrCoreModuleMissing
	}
	return reg.core, nil
}

// Dispose drop the mapping. The module objects themselves live in the
// script-side namespace installed by the host surface, the engine releases
// them with the context.
func (reg *ModuleRegistry) Dispose() {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()
	for name := range reg.modules {
		delete(reg.modules, name)
	}
	reg.core = nil
	reg.sealed = false
}
