package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conversant/backend/internal/http/response"
	"github.com/conversant/backend/internal/services"
)

type VisualizeHandler struct {
	visualizer services.VisualizationService
}

func NewVisualizeHandler(visualizer services.VisualizationService) *VisualizeHandler {
	return &VisualizeHandler{visualizer: visualizer}
}

func (vh *VisualizeHandler) Generate(c *gin.Context) {
	var req struct {
		SolverOutput string `json:"solverOutput"`
		Context      string `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	jobID, err := vh.visualizer.Generate(c.Request.Context(), req.SolverOutput, req.Context)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobId": jobID})
}

func (vh *VisualizeHandler) Get(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("jobId query parameter is required"))
		return
	}
	raw, ok, err := vh.visualizer.Result(c.Request.Context(), jobID)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	if !ok {
		response.RespondAccepted(c, gin.H{"status": "pending"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}
