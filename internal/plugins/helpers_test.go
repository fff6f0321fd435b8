// ABOUTME: Shared test doubles for the plugins package: agents, surfaces, loaders and recorders
// ABOUTME: Also helpers that write bundle directories to a temp plugin root

package plugins

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/botfleet/internal/pluginapi"
)

// fakeAgent records chat lines and listeners.
type fakeAgent struct {
	name string

	mu        sync.Mutex
	chats     []string
	quits     int
	listeners map[pluginapi.EventType][]func(pluginapi.Event)
}

func newFakeAgent(name string) *fakeAgent {
	return &fakeAgent{name: name, listeners: make(map[pluginapi.EventType][]func(pluginapi.Event))}
}

func (a *fakeAgent) Username() string { return a.name }

func (a *fakeAgent) Chat(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chats = append(a.chats, text)
	return nil
}

func (a *fakeAgent) Quit() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quits++
	return nil
}

func (a *fakeAgent) On(t pluginapi.EventType, fn func(pluginapi.Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners[t] = append(a.listeners[t], fn)
}

func (a *fakeAgent) emit(ev pluginapi.Event) {
	a.mu.Lock()
	fns := append([]func(pluginapi.Event){}, a.listeners[ev.Type]...)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (a *fakeAgent) Chats() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.chats...)
}

// fakeSurface records registered routes and emitted events.
type fakeSurface struct {
	mu       sync.Mutex
	mux      *http.ServeMux
	patterns []string
	emitted  []string
	resets   int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{mux: http.NewServeMux()}
}

func (s *fakeSurface) Handle(pattern string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns, pattern)
	s.mux.Handle(pattern, h)
}

func (s *fakeSurface) HandleFunc(pattern string, fn func(http.ResponseWriter, *http.Request)) {
	s.Handle(pattern, http.HandlerFunc(fn))
}

func (s *fakeSurface) Emit(event string, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitted = append(s.emitted, event)
}

func (s *fakeSurface) Logger() *slog.Logger { return slog.Default() }

func (s *fakeSurface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.patterns = nil
	s.mux = http.NewServeMux()
}

// recorder counts activation and install outcomes.
type recorder struct {
	mu          sync.Mutex
	activations map[string]int
	failures    map[string]int
	installs    map[string]int
}

func newRecorder() *recorder {
	return &recorder{
		activations: make(map[string]int),
		failures:    make(map[string]int),
		installs:    make(map[string]int),
	}
}

func (r *recorder) PluginActivation(plugin, _ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures[plugin]++
		return
	}
	r.activations[plugin]++
}

func (r *recorder) PluginInstall(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.installs[op+":"+result]++
}

// stubLoader builds modules from a per-folder table without interpreting
// any source. Folders missing from the table get a no-op entry point that
// matches their manifest mode.
type stubLoader struct {
	mu      sync.Mutex
	modules map[string]Module
}

func newStubLoader() *stubLoader {
	return &stubLoader{modules: make(map[string]Module)}
}

func (l *stubLoader) set(folder string, m Module) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.modules[folder] = m
}

func (l *stubLoader) Load(dir string, m Manifest) (Module, error) {
	if _, err := os.Stat(filepath.Join(dir, m.MainFile())); err != nil {
		return Module{}, err
	}
	l.mu.Lock()
	mod, ok := l.modules[filepath.Base(dir)]
	l.mu.Unlock()
	if ok {
		return mod, nil
	}
	if m.AlwaysLoaded {
		return Module{AlwaysOn: func(pluginapi.Surface) error { return nil }}, nil
	}
	return Module{PerBot: func(pluginapi.Agent, pluginapi.BotConfig) error { return nil }}, nil
}

// writeBundle creates a bundle folder with a JSON manifest and an empty module.
func writeBundle(t *testing.T, root, folder string, alwaysLoaded bool) {
	t.Helper()
	dir := filepath.Join(root, folder)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := `{"name":"` + folder + `","description":"test bundle","ui":"ui","alwaysLoaded":`
	if alwaysLoaded {
		manifest += "true}"
	} else {
		manifest += "false}"
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, manifestJSON), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, defaultMain), []byte("package main\n"), 0o644))
}

// discover runs a full discovery and fails the test if it is interrupted.
func discover(t *testing.T, reg *Registry) []string {
	t.Helper()
	ids, err := reg.Discover(t.Context())
	require.NoError(t, err)
	return ids
}
