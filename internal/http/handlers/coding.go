package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/conversant/backend/internal/http/response"
	"github.com/conversant/backend/internal/services"
)

type CodingHandler struct {
	coding services.CodingService
}

func NewCodingHandler(coding services.CodingService) *CodingHandler {
	return &CodingHandler{coding: coding}
}

func (ch *CodingHandler) Execute(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	jobID, err := ch.coding.Execute(c.Request.Context(), req.Code)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"jobId": jobID})
}

func (ch *CodingHandler) Get(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request",
			fmt.Errorf("jobId query parameter is required"))
		return
	}
	raw, ok, err := ch.coding.Result(c.Request.Context(), jobID)
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
