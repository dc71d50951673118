package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter mounts every endpoint of the analysis service.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware(handler.corsOrigin))

	r.Get("/", handler.root)
	r.Get("/health", handler.health)
	r.Get("/model/info", handler.modelInfo)

	r.Route("/analyze", func(r chi.Router) {
		r.Post("/environmental", handler.analyzeEnvironmental)
		r.Post("/change", handler.analyzeChange)
		r.Post("/glaciers", handler.featureReport(glacierFeature))
		r.Post("/drainage", handler.featureReport(drainageFeature))
		r.Post("/roads", handler.featureReport(roadFeature))
	})

	r.Route("/analysis", func(r chi.Router) {
		r.Get("/history", handler.history)
		r.Get("/stats", handler.stats)
		r.Get("/{id}", handler.historyEntry)
	})

	r.Route("/satellite", func(r chi.Router) {
		r.Post("/compare", handler.compare)
		r.Post("/predict", handler.predict)
	})

	return r
}
