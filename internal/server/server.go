// package server contains the router, middleware and handlers of the dlx HTTP API
package server

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dlx/internal/metrics"
	"github.com/desertthunder/dlx/internal/shared"
	"golang.org/x/time/rate"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Route binds a method and path pattern to a handler.
type Route struct {
	Method  string
	Path    string // [http.ServeMux] pattern, wildcards allowed
	Handler http.HandlerFunc
}

// Pattern returns the [http.ServeMux] pattern for the route.
func (r Route) Pattern() string {
	if r.Method == "" {
		return r.Path
	}
	return r.Method + " " + r.Path
}

// Handler groups the routes of one area of the API.
type Handler interface {
	Routes() []Route
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers every route of a [Handler]
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// NewRouter builds the API router with the standard middleware stack:
// panic recovery, access logging, CORS when enabled, and rate limiting
// when [shared.ServerConfig.RateLimitRPS] is positive.
func NewRouter(cfg shared.ServerConfig, api Handler, m *metrics.Collector, logger *log.Logger) *BasicRouter {
	logger = shared.WithLogger(logger, "component", "http")

	r := NewBasicRouter()
	r.Use(Recover(logger), Logging(logger, m))
	if cfg.CORS {
		r.Use(CORS)
	}
	preflight := cfg.CORS
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		r.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)))
	}

	r.Handler(api)
	if preflight {
		r.Handle(http.MethodOptions, "/", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
	}
	if m != nil {
		r.Handle(http.MethodGet, "/metrics", m.Handler())
	}
	return r
}

// NewHTTPServer wraps handler in an [http.Server] listening on cfg's address.
func NewHTTPServer(cfg shared.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
