package qjs

import (
	"fmt"

	"github.com/buke/quickjs-go"

	"github.com/mkhoussid/expo/runtime/qjs/registry"
)

// ModuleDeclaration a named module and the builder that reflects it into a
// script object. Builders run on the engine thread during install.
type ModuleDeclaration struct {
	Name  string
	Build func(ctx *quickjs.Context) (*quickjs.Value, error)
}

// StaticModuleProvider a ModuleProvider over a fixed set of declarations.
// Hosts with a real declaration subsystem implement ModuleProvider
// themselves, this one covers embedders and tests.
type StaticModuleProvider struct {
	Declarations []ModuleDeclaration
	Core         *ModuleDeclaration
}

// Modules build the script-visible module objects
func (provider *StaticModuleProvider) Modules(ctx *quickjs.Context) ([]*registry.ModuleObject, error) {
	modules := []*registry.ModuleObject{}
	for _, declaration := range provider.Declarations {
		if declaration.Build == nil {
			return nil, fmt.Errorf("module %s has no builder", declaration.Name)
		}
		jsObject, err := declaration.Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("module %s: %s", declaration.Name, err.Error())
		}
		modules = append(modules, &registry.ModuleObject{Name: declaration.Name, JSObject: jsObject})
	}
	return modules, nil
}

// CoreModule build the bootstrap module. Falls back to a plain object named
// after the core module when no declaration was given, the bootstrap
// facilities live on the host surface.
func (provider *StaticModuleProvider) CoreModule(ctx *quickjs.Context) (*registry.ModuleObject, error) {
	if provider.Core != nil {
		jsObject, err := provider.Core.Build(ctx)
		if err != nil {
			return nil, err
		}
		return &registry.ModuleObject{Name: registry.CoreModuleName, JSObject: jsObject}, nil
	}
	return &registry.ModuleObject{Name: registry.CoreModuleName, JSObject: ctx.NewObject()}, nil
}
