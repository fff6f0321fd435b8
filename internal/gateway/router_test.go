// ABOUTME: Tests for the replaceable plugin router and the plugin surface
// ABOUTME: Covers fallback, re-registration, reset and emitted frames

package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/botfleet/internal/status"
)

func text(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestPluginRouter(t *testing.T) {
	t.Run("unmatched requests fall through", func(t *testing.T) {
		r := newPluginRouter(text("fallback"))
		r.Handle("GET /api/a", text("a"))

		assert.Equal(t, "a", serve(r, http.MethodGet, "/api/a").Body.String())
		assert.Equal(t, "fallback", serve(r, http.MethodGet, "/api/b").Body.String())
		assert.Equal(t, "fallback", serve(r, http.MethodPost, "/api/a").Body.String(), "method mismatch is not claimed")
	})

	t.Run("nil fallback is a 404", func(t *testing.T) {
		r := newPluginRouter(nil)
		assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/x").Code)
	})

	t.Run("re-registering replaces the handler", func(t *testing.T) {
		r := newPluginRouter(nil)
		r.Handle("GET /api/a", text("first"))
		r.Handle("GET /api/b", text("b"))
		require.NotPanics(t, func() { r.Handle("GET /api/a", text("second")) })

		assert.Equal(t, "second", serve(r, http.MethodGet, "/api/a").Body.String())
		assert.Equal(t, "b", serve(r, http.MethodGet, "/api/b").Body.String())
		assert.Equal(t, []string{"GET /api/a", "GET /api/b"}, r.Patterns())
	})

	t.Run("reset drops every route", func(t *testing.T) {
		r := newPluginRouter(text("fallback"))
		r.Handle("GET /api/a", text("a"))
		r.Reset()

		assert.Empty(t, r.Patterns())
		assert.Equal(t, "fallback", serve(r, http.MethodGet, "/api/a").Body.String())
		r.Handle("GET /api/a", text("again"))
		assert.Equal(t, "again", serve(r, http.MethodGet, "/api/a").Body.String())
	})

	t.Run("invalid pattern panics", func(t *testing.T) {
		r := newPluginRouter(nil)
		assert.Panics(t, func() { r.Handle("GET", text("x")) })
	})
}

func TestSurface(t *testing.T) {
	b := status.NewBroadcaster(nil, nil)
	defer b.Close()
	frames, _ := b.Subscribe(t.Context())
	<-frames // snapshot

	r := newPluginRouter(nil)
	s := &surface{router: r, broadcaster: b, logger: testLogger()}

	s.HandleFunc("GET /api/x", func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "x") })
	assert.Equal(t, "x", serve(r, http.MethodGet, "/api/x").Body.String())

	s.Emit("notice", "hi")
	f := <-frames
	assert.Equal(t, "notice", f.Event)
	assert.Equal(t, "hi", f.Data)

	s.Reset()
	assert.Empty(t, r.Patterns())
	assert.NotNil(t, s.Logger())
}
