package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/images/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("GET", "/images/"+id, http.NoBody))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
	}

	got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(GroupImages, "/images/{id}", "GET", "404"))
	if got < 2 {
		t.Errorf("expected both requests under one route label, got %f", got)
	}
}

func TestMiddleware_DefaultStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/ok", http.NoBody))

	if testutil.ToFloat64(httpRequestsTotal.WithLabelValues(GroupOps, "/ok", "GET", "200")) < 1 {
		t.Error("expected implicit 200 to be recorded")
	}
}

func TestMiddleware_SkipsMetricsScrapes(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Handle("/metrics", promhttp.Handler())

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", http.NoBody))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(GroupOps, "/metrics", "GET", "200")); got != 0 {
		t.Errorf("expected scrapes to be unrecorded, got %f", got)
	}
}

func TestRouteGroup(t *testing.T) {
	tests := map[string]string{
		"/":                GroupUI,
		"/search/text":     GroupUI,
		"/search/image":    GroupUI,
		"/api/search/text": GroupAPI,
		"/images/{id}":     GroupImages,
		"/healthz":         GroupOps,
		"unmatched":        GroupOps,
	}
	for pattern, want := range tests {
		if got := routeGroup(pattern); got != want {
			t.Errorf("routeGroup(%q) = %q, want %q", pattern, got, want)
		}
	}
}
