package controller

import (
	"context"
	"net/http"
	"strings"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/service"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// JobService is the part of the orchestrator the HTTP layer needs.
type JobService interface {
	Submit(ctx context.Context, sub model.Submission) (string, error)
	Result(ctx context.Context, id string) (model.Status, error)
	Stats() service.Stats
}

// JudgeController handles job submission and result polling.
type JudgeController struct {
	jobs JobService
}

// NewJudgeController creates a new controller.
func NewJudgeController(jobs JobService) *JudgeController {
	return &JudgeController{jobs: jobs}
}

// SubmitRequest is the body of POST /submit.
type SubmitRequest struct {
	Lang  string  `json:"lang"`
	Code  string  `json:"code"`
	Input *string `json:"input"`
}

// Register mounts the job routes on r. Guards run before Submit only.
func (h *JudgeController) Register(r gin.IRouter, submitGuards ...gin.HandlerFunc) {
	r.POST("/submit", append(submitGuards, h.Submit)...)
	r.GET("/result/:id", h.GetResult)
	r.GET("/healthz", h.Health)
}

// Submit accepts a job and answers with its id as plain text.
func (h *JudgeController) Submit(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}
	id, err := h.jobs.Submit(c.Request.Context(), model.Submission{
		Lang:  req.Lang,
		Code:  req.Code,
		Input: req.Input,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Text(c, id)
}

// GetResult reports running, done with its result, or 404.
func (h *JudgeController) GetResult(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.BadRequest(c, "Invalid job id")
		return
	}
	status, err := h.jobs.Result(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, status.ToResponse())
}

// Health reports liveness with pool counters.
func (h *JudgeController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pool": h.jobs.Stats()})
}
