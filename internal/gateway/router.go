// ABOUTME: Replaceable HTTP router for routes registered by always-on plugins
// ABOUTME: Tolerates re-registration of a pattern and is cleared on every plugin reload

package gateway

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/2389/botfleet/internal/pluginapi"
	"github.com/2389/botfleet/internal/status"
)

type pluginRoute struct {
	pattern string
	handler http.Handler
}

// pluginRouter serves plugin routes and hands unmatched requests to
// fallback. Registering a pattern twice replaces the earlier handler.
type pluginRouter struct {
	fallback http.Handler

	mu     sync.RWMutex
	mux    *http.ServeMux
	routes []pluginRoute
}

func newPluginRouter(fallback http.Handler) *pluginRouter {
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	return &pluginRouter{fallback: fallback, mux: http.NewServeMux()}
}

// Handle registers h for pattern. An invalid or conflicting pattern panics,
// like http.ServeMux; the plugin host recovers it as an activation failure.
func (r *pluginRouter) Handle(pattern string, h http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, rt := range r.routes {
		if rt.pattern == pattern {
			r.routes[i].handler = h
			r.mux = buildMux(r.routes)
			return
		}
	}
	r.mux.Handle(pattern, h)
	r.routes = append(r.routes, pluginRoute{pattern: pattern, handler: h})
}

// Reset drops every plugin route.
func (r *pluginRouter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mux = http.NewServeMux()
	r.routes = nil
}

// Patterns lists registered patterns in registration order.
func (r *pluginRouter) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.routes))
	for i, rt := range r.routes {
		out[i] = rt.pattern
	}
	return out
}

func (r *pluginRouter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	mux := r.mux
	r.mu.RUnlock()

	// mux.ServeHTTP rather than the matched handler so path values are set.
	if _, pattern := mux.Handler(req); pattern != "" {
		mux.ServeHTTP(w, req)
		return
	}
	r.fallback.ServeHTTP(w, req)
}

func buildMux(routes []pluginRoute) *http.ServeMux {
	mux := http.NewServeMux()
	for _, rt := range routes {
		mux.Handle(rt.pattern, rt.handler)
	}
	return mux
}

// surface is the management surface handed to always-on plugins.
type surface struct {
	router      *pluginRouter
	broadcaster *status.Broadcaster
	logger      *slog.Logger
}

func (s *surface) Handle(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
	s.logger.Debug("plugin route registered", "pattern", pattern)
}

func (s *surface) HandleFunc(pattern string, fn func(http.ResponseWriter, *http.Request)) {
	s.Handle(pattern, http.HandlerFunc(fn))
}

func (s *surface) Emit(event string, payload any) {
	s.broadcaster.Emit(event, payload)
}

func (s *surface) Logger() *slog.Logger { return s.logger }

// Reset clears plugin routes before always-on bundles are activated again.
func (s *surface) Reset() { s.router.Reset() }

var _ pluginapi.Surface = (*surface)(nil)
