package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/proctorhq/invigil-backend/internal/config"
	"github.com/proctorhq/invigil-backend/internal/model"
	"github.com/proctorhq/invigil-backend/internal/response"
	"github.com/proctorhq/invigil-backend/internal/service"
	"github.com/proctorhq/invigil-backend/internal/validator"
)

// ExamHandler handles exam authoring endpoints. Admin only.
type ExamHandler struct {
	cfg         *config.Config
	examService *service.ExamService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(cfg *config.Config, examService *service.ExamService) *ExamHandler {
	return &ExamHandler{cfg: cfg, examService: examService}
}

// Create godoc
// POST /api/v1/admin/exams
func (h *ExamHandler) Create(c *gin.Context) {
	var req model.CreateExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam, err := h.examService.Create(c.Request.Context(), &req)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// List godoc
// GET /api/v1/admin/exams
func (h *ExamHandler) List(c *gin.Context) {
	exams, err := h.examService.List(c.Request.Context())
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exams": exams})
}

// Get godoc
// GET /api/v1/admin/exams/:id
func (h *ExamHandler) Get(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	exam, err := h.examService.GetByID(c.Request.Context(), examID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// Delete godoc
// DELETE /api/v1/admin/exams/:id
// Removes the exam with its questions, attempts and monitoring logs.
func (h *ExamHandler) Delete(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	if err := h.examService.Delete(c.Request.Context(), examID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ImportQuestions godoc
// POST /api/v1/admin/exams/:id/questions
// Imports question rows from a JSON body.
func (h *ExamHandler) ImportQuestions(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.ImportQuestionsRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	inserted, err := h.examService.ImportQuestions(c.Request.Context(), examID, req.Rows)
	if err != nil {
		h.failImport(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"imported": inserted})
}

// UploadQuestions godoc
// POST /api/v1/admin/exams/:id/questions/upload
// Imports question rows from an uploaded xlsx workbook.
func (h *ExamHandler) UploadQuestions(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	if fileHeader.Size > h.cfg.MaxImportBytes {
		response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadFormat)
		return
	}
	defer file.Close()

	rows, err := service.ParseQuestionSheet(file)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrBadFormat)
		return
	}

	inserted, err := h.examService.ImportQuestions(c.Request.Context(), examID, rows)
	if err != nil {
		h.failImport(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"imported": inserted})
}

func (h *ExamHandler) failImport(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, model.ErrBadFormat):
		response.Fail(c, http.StatusBadRequest, response.ErrBadFormat)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
