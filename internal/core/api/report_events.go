package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

type eventRequest struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

type screenRequest struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// registerReportRoutes registers the reporting endpoints.
//
// POST /v1/events    {"name": "...", "parameters": {...}}
// POST /v1/screens   {"path": "...", "title": "...", "category": "..."}
// POST /v1/dispatch
func registerReportRoutes(r gin.IRoutes, client Client) {
	r.POST("/events", func(c *gin.Context) {
		var req eventRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON payload")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			badRequest(c, "name required")
			return
		}
		// Schema validation happens in the pipeline once configuration is known.
		client.ReportEvent(req.Name, req.Parameters)
		accepted(c)
	})

	r.POST("/screens", func(c *gin.Context) {
		var req screenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid JSON payload")
			return
		}
		if strings.TrimSpace(req.Path) == "" {
			badRequest(c, "path required")
			return
		}
		client.ReportScreenVisit(req.Path, req.Title, req.Category)
		accepted(c)
	})

	r.POST("/dispatch", func(c *gin.Context) {
		client.DispatchNow()
		accepted(c)
	})
}
