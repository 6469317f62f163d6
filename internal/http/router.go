// Package http expone la superficie REST: listados desde el estado local,
// mutaciones vía pipeline y reordenamientos vía reindexador.
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dcastineira/procesos/internal/observability/logger"
	"github.com/dcastineira/procesos/internal/store/core"
)

// Deps agrupa las dependencias del router.
type Deps struct {
	Procesos *Surface
	Tareas   *Surface
	Repo     core.RecordRepository
	Registry *prometheus.Registry
}

// NewRouter arma el router de la API.
func NewRouter(deps *Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if deps.Registry != nil {
		r.Use(httpMetrics(deps.Registry))
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", deps.handleReadyz)

	r.Route("/v1/{collection}", func(r chi.Router) {
		r.Get("/", deps.handleList)
		r.Post("/", deps.handleCreate)
		r.Post("/reorder", deps.handleReorder)
		r.Get("/{id}", deps.handleGet)
		r.Patch("/{id}", deps.handleMutate)
		r.Delete("/{id}", deps.handleDelete)
	})
	return r
}

// requestLogger inyecta en el contexto un logger con los campos del
// request y loguea cada request terminada con su status y latencia. Los
// handlers lo recuperan con logger.From(ctx).
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLog := logger.Named("http").With(
			logger.RequestID(middleware.GetReqID(r.Context())),
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
		)
		ctx := logger.ToContext(r.Context(), reqLog)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		reqLog.Info("request completado",
			logger.Status(ww.Status()),
			logger.Duration(time.Since(start)),
		)
	})
}

// httpMetrics instrumenta requests con contadores y latencias por ruta.
func httpMetrics(reg prometheus.Registerer) func(http.Handler) http.Handler {
	requests := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Requests HTTP por método, ruta y status.",
	}, []string{"method", "route", "status"})
	duration := promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latencia de requests HTTP.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			requests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
			duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}
