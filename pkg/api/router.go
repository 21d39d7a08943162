package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Router handles HTTP routing for the API
type Router struct {
	mux     *chi.Mux
	version string
}

// NewRouter creates a router with request IDs, panic recovery, request
// logging and CORS applied to every route, followed by extra.
func NewRouter(version string, logger *zap.Logger, corsOrigins []string, extra ...Middleware) *Router {
	mux := chi.NewRouter()

	mux.Use(RequestIDMiddleware())
	mux.Use(RecoveryMiddleware(logger))
	mux.Use(LoggingMiddleware(logger))
	mux.Use(CORSMiddleware(corsOrigins))
	for _, m := range extra {
		mux.Use(m)
	}

	mux.NotFound(NotFoundHandler())
	mux.MethodNotAllowed(MethodNotAllowedHandler())

	return &Router{mux: mux, version: version}
}

// RegisterRoutes registers the built-in endpoints plus routes, both under
// /api and at the root.
func (r *Router) RegisterRoutes(routes func(chi.Router)) {
	register := func(cr chi.Router) {
		cr.Get("/health", r.handleHealth())
		cr.Get("/version", r.handleVersion())
		if routes != nil {
			routes(cr)
		}
	}

	r.mux.Route("/api", register)
	register(r.mux)
}

// Handle registers handler at the root only.
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, handler)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// handleHealth returns the health check handler
func (r *Router) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		WriteOK(w, HealthResponse{OK: true})
	}
}

// VersionResponse represents the version info response
type VersionResponse struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// handleVersion returns the version info handler
func (r *Router) handleVersion() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		WriteOK(w, VersionResponse{
			Version:   r.version,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		})
	}
}

// NotFoundHandler returns a 404 handler
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, NotFound("endpoint not found"))
	}
}

// MethodNotAllowedHandler returns a 405 handler
func MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, NewAPIError(ErrCodeBadRequest, "method not allowed", http.StatusMethodNotAllowed))
	}
}

// ParseJSON parses JSON request body into target struct
func ParseJSON(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return BadRequest("missing request body")
	}

	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return BadRequest("invalid JSON: " + strings.TrimSpace(err.Error()))
	}

	return nil
}
