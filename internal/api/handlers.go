package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ragrelay/ragrelay/internal/search"
	"github.com/ragrelay/ragrelay/pkg/errors"
	"github.com/ragrelay/ragrelay/pkg/resilience"
)

// SearchHandler serves the search API
type SearchHandler struct {
	service *search.Service
}

// NewSearchHandler creates a search handler
func NewSearchHandler(service *search.Service) *SearchHandler {
	return &SearchHandler{service: service}
}

// SearchRequest is the JSON body of a search call
type SearchRequest struct {
	Query   string            `json:"query" binding:"required"`
	TopK    int               `json:"top_k"`
	Filters map[string]string `json:"filters"`
}

// Search handles POST /api/v1/search
func (h *SearchHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponseFrom(c, errors.NewValidationError("invalid search request: "+err.Error()))
		return
	}

	resp, err := h.service.Search(c.Request.Context(), &search.Query{
		Text:    req.Query,
		TopK:    req.TopK,
		Filters: req.Filters,
	})
	if err != nil {
		ErrorResponseFrom(c, err)
		return
	}

	SuccessResponse(c, resp)
}

// ServicesHandler exposes registry state for operators
type ServicesHandler struct {
	registry *resilience.Registry
}

// NewServicesHandler creates a services handler
func NewServicesHandler(registry *resilience.Registry) *ServicesHandler {
	return &ServicesHandler{registry: registry}
}

// List handles GET /api/v1/services
func (h *ServicesHandler) List(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	SuccessResponse(c, h.registry.GetSystemHealth(ctx))
}

// Reset handles POST /api/v1/services/:name/reset
func (h *ServicesHandler) Reset(c *gin.Context) {
	name := c.Param("name")
	svc, ok := h.registry.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{
			Success: false,
			Error: &APIError{
				Code:    "SERVICE_NOT_FOUND",
				Message: "no service registered under " + name,
			},
			RequestID: requestID(c),
			Timestamp: time.Now(),
		})
		return
	}

	svc.Reset()
	SuccessResponse(c, gin.H{"reset": name})
}
