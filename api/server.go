/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a proxy
  3. Logger:     logrus request logging (method, path, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the React front end

ROUTE GROUPS:
  /api/residents/*   Residents, their ledger and payments
  /api/payments      Month register, single-record creation
  /api/generate      Monthly generation
  /api/overdue/*     Status refresh
  /api/defaulters/*  Defaulter report and reminders
  /api/runs          Run log
  /api/sheets/*      Google Sheets bridge
  /api/scenarios/*   Demo societies (dev only)
  /*                 Static files (frontend)

STATIC FILE SERVING:
  When StaticDir holds the built React app, serves it and falls back to
  index.html for client-side routing.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	CORSOrigins []string
	StaticDir   string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/residents", func(r chi.Router) {
			r.Get("/", h.ListResidents)
			r.Post("/", h.CreateResident)
			r.Get("/{id}", h.GetResident)
			r.Put("/{id}", h.UpdateResident)
			r.Delete("/{id}", h.DeleteResident)
			r.Put("/{id}/maintenance", h.ChangeMaintenance)
			r.Get("/{id}/payments", h.GetResidentPayments)
			r.Put("/{id}/payments/{period}", h.RecordPayment)
			r.Patch("/{id}/payments/{period}", h.AdjustPeriod)
			r.Delete("/{id}/payments/{period}", h.DeletePaymentPeriod)
			r.Get("/{id}/carry-forward", h.GetCarryForward)
			r.Post("/{id}/recalculate", h.Recalculate)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/", h.ListPayments)
			r.Post("/", h.CreatePaymentPeriod)
		})

		r.Post("/generate", h.Generate)
		r.Post("/overdue/refresh", h.RefreshOverdue)

		r.Route("/defaulters", func(r chi.Router) {
			r.Get("/", h.ListDefaulters)
			r.Post("/notify", h.NotifyDefaulters)
		})

		r.Get("/runs", h.ListRuns)

		r.Route("/sheets", func(r chi.Router) {
			r.Post("/export", h.ExportSheets)
			r.Post("/import", h.ImportSheets)
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	mountStatic(r, opts.StaticDir)
	return r
}

func mountStatic(r chi.Router, staticDir string) {
	if staticDir == "" {
		staticDir = "./web/dist"
	}
	if _, err := os.Stat(staticDir); err != nil {
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>RWA Ledger</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>RWA Ledger API</h1>
<p>The frontend is not built. Set STATIC_DIR to the built React app.</p>
<ul>
<li><a href="/api/residents">/api/residents</a> - Residents</li>
<li><a href="/api/payments">/api/payments</a> - This month's register</li>
<li><a href="/api/defaulters">/api/defaulters</a> - Defaulters</li>
<li><a href="/api/runs">/api/runs</a> - Run log</li>
</ul>
</body>
</html>`))
		})
		return
	}

	fileServer := http.FileServer(http.Dir(staticDir))
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		fullPath := filepath.Join(staticDir, filepath.Clean("/"+r.URL.Path))
		if _, err := os.Stat(fullPath); os.IsNotExist(err) {
			// SPA routing: serve index.html
			http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request through logrus.
func RequestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			entry := requestLogger(logger, r).WithFields(logrus.Fields{
				"status":   ww.Status(),
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start).String(),
			})
			switch {
			case ww.Status() >= http.StatusInternalServerError:
				entry.Error("request")
			case ww.Status() >= http.StatusBadRequest:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
		})
	}
}

func requestLogger(logger logrus.FieldLogger, r *http.Request) logrus.FieldLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"remote":     r.RemoteAddr,
	})
}
