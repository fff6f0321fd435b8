// ABOUTME: Loads a bundle's executable module by interpreting its Go source with yaegi
// ABOUTME: Resolves the Init entry point and checks its signature against the manifest mode

package plugins

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/2389/botfleet/internal/pluginapi"
)

// Module is a loaded bundle entry point. Exactly one field is set, matching
// the manifest's alwaysLoaded flag.
type Module struct {
	PerBot   pluginapi.PerBotFunc
	AlwaysOn pluginapi.AlwaysOnFunc
}

// Loader turns a bundle directory and its manifest into a Module.
type Loader interface {
	Load(dir string, m Manifest) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(dir string, m Manifest) (Module, error)

// Load implements Loader.
func (f LoaderFunc) Load(dir string, m Manifest) (Module, error) { return f(dir, m) }

// ScriptLoader interprets the bundle's main file. The source is a single
// package main file that may import the standard library and "fleet":
//
//	package main
//
//	import "fleet"
//
//	func Init(a fleet.Agent, c fleet.BotConfig) error { ... }
//
// Always-on bundles declare func Init(s fleet.Surface) error instead.
type ScriptLoader struct{}

// Load implements Loader.
func (ScriptLoader) Load(dir string, m Manifest) (mod Module, err error) {
	main := m.MainFile()
	if !filepath.IsLocal(main) {
		return Module{}, fmt.Errorf("%w: main %q escapes the bundle", ErrPluginLoad, main)
	}
	src, err := os.ReadFile(filepath.Join(dir, main))
	if err != nil {
		return Module{}, fmt.Errorf("%w: reading %s: %v", ErrPluginLoad, main, err)
	}

	// The interpreter panics on some malformed programs.
	defer func() {
		if r := recover(); r != nil {
			mod = Module{}
			err = fmt.Errorf("%w: interpreting %s: %v", ErrPluginLoad, main, r)
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return Module{}, fmt.Errorf("%w: %v", ErrPluginLoad, err)
	}
	if err := i.Use(pluginapi.Symbols); err != nil {
		return Module{}, fmt.Errorf("%w: %v", ErrPluginLoad, err)
	}

	if _, err := i.Eval(string(src)); err != nil {
		return Module{}, fmt.Errorf("%w: %s: %v", ErrPluginLoad, main, err)
	}
	v, err := i.Eval("Init")
	if err != nil {
		return Module{}, fmt.Errorf("%w: %s has no Init: %v", ErrPluginLoad, main, err)
	}

	if m.AlwaysLoaded {
		fn, ok := v.Interface().(func(pluginapi.Surface) error)
		if !ok {
			return Module{}, fmt.Errorf("%w: always-on Init must be func(fleet.Surface) error, got %s", ErrPluginLoad, v.Type())
		}
		return Module{AlwaysOn: fn}, nil
	}

	fn, ok := v.Interface().(func(pluginapi.Agent, pluginapi.BotConfig) error)
	if !ok {
		return Module{}, fmt.Errorf("%w: per-bot Init must be func(fleet.Agent, fleet.BotConfig) error, got %s", ErrPluginLoad, v.Type())
	}
	return Module{PerBot: fn}, nil
}
