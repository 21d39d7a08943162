package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreseed/torrentio/pkg/snapshot"
)

func TestObserverMethods(t *testing.T) {
	c := New()

	c.Subscribers(3)
	c.Delivered(2, 1)
	c.Delivered(4, 0)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.EventSubscribers))
	assert.Equal(t, 6.0, testutil.ToFloat64(c.SnapshotsDelivered))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SubscribersDropped))
}

func TestObserveSnapshot(t *testing.T) {
	c := New()

	c.ObserveSnapshot(snapshot.Snapshot{
		Torrents: []snapshot.View{
			{ID: "a", Status: snapshot.StatusPaused},
			{ID: "b", Status: snapshot.StatusPaused},
			{ID: "c", Status: snapshot.StatusSeeding},
		},
		Stats: snapshot.Stats{DHTNodes: 120},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Torrents.WithLabelValues("paused")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Torrents.WithLabelValues("seeding")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Torrents.WithLabelValues("queued")))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.DHTNodes))
}

func TestMiddlewareAndHandler(t *testing.T) {
	c := New()

	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/torrents/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", c.Handler())

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/torrents/"+id, nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(c.RequestsTotal.WithLabelValues("GET", "/torrents/{id}", "404")))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "torrentio_http_requests_total"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
