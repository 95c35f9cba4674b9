package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kenjohansen/optin-manager-sub000/internal/core/domain"
	"github.com/kenjohansen/optin-manager-sub000/internal/usecase"
)

// ProgramHandler exposes the program catalog endpoints.
type ProgramHandler struct {
	catalog *usecase.CatalogService
	logger  *zap.Logger
}

// NewProgramHandler constructs a ProgramHandler.
func NewProgramHandler(catalog *usecase.CatalogService, log *zap.Logger) *ProgramHandler {
	if log == nil {
		log = zap.NewNop()
	}

	return &ProgramHandler{
		catalog: catalog,
		logger:  log,
	}
}

// RegisterRoutes binds the catalog routes.
func (h *ProgramHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.listPrograms)
	r.POST("", h.createProgram)
}

func (h *ProgramHandler) listPrograms(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "catalog service unavailable"))
		return
	}

	var (
		programs []domain.Program
		err      error
	)
	if c.Query("include") == "all" {
		programs, err = h.catalog.List(c.Request.Context())
	} else {
		programs, err = h.catalog.ListActive(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("list programs failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "could not load program catalog"))
		return
	}

	payload := make([]ProgramPayload, 0, len(programs))
	for _, program := range programs {
		payload = append(payload, ProgramPayload{
			ID:     program.ID,
			Name:   program.Name,
			Type:   string(program.Type),
			Status: string(program.Status),
		})
	}

	c.JSON(http.StatusOK, payload)
}

type createProgramRequest struct {
	Name string `json:"name" binding:"required"`
	Type string `json:"type" binding:"required"`
}

func (h *ProgramHandler) createProgram(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "catalog service unavailable"))
		return
	}

	var req createProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid program payload"))
		return
	}

	programType := domain.ProgramType(strings.ToLower(strings.TrimSpace(req.Type)))
	program, err := h.catalog.Create(c.Request.Context(), strings.TrimSpace(req.Name), programType)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrProgramNameRequired, Status: http.StatusBadRequest, Message: "program name is required"},
		}, http.StatusInternalServerError, "could not create program")
		return
	}

	c.JSON(http.StatusCreated, ProgramPayload{
		ID:     program.ID,
		Name:   program.Name,
		Type:   string(program.Type),
		Status: string(program.Status),
	})
}
