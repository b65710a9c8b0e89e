package health

import (
	"github.com/gofiber/fiber/v2"
)

// FiberHandler exposes the probes on the app's HTTP surface.
type FiberHandler struct {
	service *Service
}

func NewFiberHandler(service *Service) *FiberHandler {
	return &FiberHandler{service: service}
}

// RegisterRoutes mounts the probe endpoints, with the Kubernetes aliases.
func (h *FiberHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/healthz", h.Health)
	app.Get("/livez", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/readyz", h.Ready)
}

func (h *FiberHandler) Health(c *fiber.Ctx) error {
	return c.JSON(h.service.Health(c.Context()))
}

// Ready returns 503 while any dependency fails readiness, so load
// balancers stop routing sessions here before the errors surface to users.
func (h *FiberHandler) Ready(c *fiber.Ctx) error {
	response := h.service.Ready(c.Context())

	status := fiber.StatusOK
	if !response.Ready {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(response)
}
