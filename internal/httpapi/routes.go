package httpapi

import "github.com/go-chi/chi/v5"

// SetupRoutes mounts the provisioning endpoints under /api/Admin/Provision
// (§6 HTTP surface).
func SetupRoutes(r chi.Router, h *Handler) {
	r.Route("/api/Admin/Provision", func(r chi.Router) {
		r.Get("/networks", h.Networks)
		r.Post("/connect", h.Connect)
		r.Get("/status", h.Status)
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Get("/docs/openapi.yaml", ServeOpenAPISpec)
	})
}
