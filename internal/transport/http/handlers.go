package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AdminHandlers serves hub status.
type AdminHandlers struct {
	hub HubStatus
	log *zerolog.Logger
}

// NewAdminHandlers creates a new admin handlers instance.
func NewAdminHandlers(hub HubStatus, logger *zerolog.Logger) *AdminHandlers {
	return &AdminHandlers{
		hub: hub,
		log: logger,
	}
}

// ClientsResponse represents the registered clients.
type ClientsResponse struct {
	Clients  []string `json:"clients"`
	Count    int      `json:"count"`
	QueueLen int      `json:"queue_len"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness.
// GET /health
func (h *AdminHandlers) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Clients lists the names registered with the hub, in connection order.
// GET /clients
func (h *AdminHandlers) Clients(c *gin.Context) {
	names := h.hub.Clients()
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, ClientsResponse{
		Clients:  names,
		Count:    len(names),
		QueueLen: h.hub.QueueLen(),
	})
}
