package web

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/wasl-gate/internal/web/handlers"
	"github.com/kozaktomas/wasl-gate/internal/web/static"
)

func (s *Server) setupRoutes() {
	configHandler := handlers.NewConfigHandler(s.config)
	callsHandler := handlers.NewCallsHandler(s.calls)
	cameraHandler := handlers.NewCameraHandler(s.calls, s.origins.CheckOrigin)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Streams live as long as the visitor stays on the page.
		r.Get("/calls/{id}/events", callsHandler.Events)
		r.Get("/calls/{id}/camera", cameraHandler.Serve)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/config", configHandler.Get)

			// Call flows
			r.Post("/calls", callsHandler.Create)
			r.Get("/calls/{id}", callsHandler.Get)
			r.Delete("/calls/{id}", callsHandler.Delete)
			r.Post("/calls/{id}/view", callsHandler.SetView)
			r.Post("/calls/{id}/meeting", callsHandler.CreateMeeting)
			r.Post("/calls/{id}/join", callsHandler.JoinMeeting)
			r.Post("/calls/{id}/leave", callsHandler.Leave)
			r.Post("/calls/{id}/verification/retry", callsHandler.RetryVerification)
		})
	})

	// Serve static files for frontend (SPA)
	s.router.Get("/*", s.serveSPA)
}

// serveSPA serves the single-page application
func (s *Server) serveSPA(w http.ResponseWriter, r *http.Request) {
	if !static.HasIndex() {
		servePlaceholder(w)
		return
	}

	fsys := static.FS()
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "index.html"
	}

	if stat, err := fs.Stat(fsys, path); err == nil && !stat.IsDir() {
		// Add cache headers for static assets
		if strings.HasPrefix(path, "assets/") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		http.ServeFileFS(w, r, fsys, path)
		return
	}

	// For SPA routing, serve index.html for non-asset paths
	if strings.HasPrefix(path, "assets/") {
		http.NotFound(w, r)
		return
	}
	index, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		servePlaceholder(w)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(index)
}

// servePlaceholder is shown when no client build is embedded.
func servePlaceholder(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Wasl Video Call</title>
    <style>
        body { font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #0f172a; color: #e2e8f0; }
        .container { text-align: center; }
        h1 { color: #16a34a; }
        a { color: #38bdf8; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Wasl Video Call</h1>
        <p>The browser client is not built yet.</p>
        <p>API is available at <a href="/api/v1/health">/api/v1/health</a></p>
    </div>
</body>
</html>`))
}
