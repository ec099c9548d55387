package controller

import (
	"context"

	"codejudge/internal/question/model"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// SavedMessage is the plain-text body returned by a successful save.
const SavedMessage = "saved"

// Repository is the question storage used by the controller.
type Repository interface {
	Save(ctx context.Context, q model.Question) error
	Get(ctx context.Context, id string) (model.Question, error)
	List(ctx context.Context) ([]model.Summary, error)
}

// QuestionController serves the question bank.
type QuestionController struct {
	repo Repository
}

// NewQuestionController creates a new controller.
func NewQuestionController(repo Repository) *QuestionController {
	return &QuestionController{repo: repo}
}

// Register mounts the question routes on r.
func (h *QuestionController) Register(r gin.IRouter) {
	r.POST("/save", h.Save)
	r.GET("/api/questions", h.List)
	r.GET("/api/questions/:id", h.Get)
}

// Save stores the posted question.
func (h *QuestionController) Save(c *gin.Context) {
	var q model.Question
	if err := c.ShouldBindJSON(&q); err != nil {
		response.BadRequest(c, "Invalid question body")
		return
	}
	if err := h.repo.Save(c.Request.Context(), q); err != nil {
		response.Error(c, err)
		return
	}
	response.Text(c, SavedMessage)
}

// List returns every question summary.
func (h *QuestionController) List(c *gin.Context) {
	items, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, items)
}

// Get returns one full question.
func (h *QuestionController) Get(c *gin.Context) {
	q, err := h.repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, q)
}
