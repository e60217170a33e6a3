package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// Route groups of the web UI.
const (
	GroupUI     = "ui"
	GroupAPI    = "api"
	GroupImages = "images"
	GroupOps    = "ops"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imgsearch",
			Subsystem: "web",
			Name:      "request_duration_seconds",
			Help:      "Web request duration in seconds by route group",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"route_group", "route", "method", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imgsearch",
			Subsystem: "web",
			Name:      "requests_total",
			Help:      "Web requests by route group",
		},
		[]string{"route_group", "route", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
}

// routeGroup maps a chi route pattern to the part of the UI it serves.
func routeGroup(pattern string) string {
	switch {
	case pattern == "/" || strings.HasPrefix(pattern, "/search/"):
		return GroupUI
	case strings.HasPrefix(pattern, "/api/"):
		return GroupAPI
	case strings.HasPrefix(pattern, "/images/"):
		return GroupImages
	default:
		return GroupOps
	}
}

// Middleware records request duration and count per route group.
// Scrapes of /metrics are not recorded.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if route == "/metrics" {
				return
			}

			labels := prometheus.Labels{
				"route_group": routeGroup(route),
				"route":       route,
				"method":      r.Method,
				"status":      strconv.Itoa(ww.status),
			}
			httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
			httpRequestsTotal.With(labels).Inc()
		})
	}
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}
