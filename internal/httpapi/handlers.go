package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/neurobridge-labs/reelforge/internal/domain"
	"github.com/neurobridge-labs/reelforge/internal/jobs"
	"github.com/neurobridge-labs/reelforge/internal/operator"
	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

// Handlers binds the operator command plane and read-model queries to
// HTTP. Grounded on the teacher's handlers.JobsHandler shape (a thin
// struct wrapping one or two services, each method doing decode ->
// delegate -> JSON).
type Handlers struct {
	db     *gorm.DB
	op     *operator.Operator
	jobSvc *jobs.Service
	log    *logger.Logger
}

func NewHandlers(db *gorm.DB, op *operator.Operator, jobSvc *jobs.Service, log *logger.Logger) *Handlers {
	return &Handlers{db: db, op: op, jobSvc: jobSvc, log: log.With("component", "HTTPHandlers")}
}

// commandRequest is the wire shape POST /v1/commands accepts; it maps
// directly onto operator.Envelope.
type commandRequest struct {
	Type      operator.Command `json:"type"`
	ProjectID uuid.UUID        `json:"projectId"`
	CommandID string           `json:"commandId"`
	Payload   json.RawMessage  `json:"payload"`
}

func (h *Handlers) PostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	env := operator.Envelope{
		Type:      req.Type,
		ProjectID: req.ProjectID,
		CommandID: req.CommandID,
		Payload:   req.Payload,
	}

	if err := h.op.Dispatch(c.Request.Context(), env); err != nil {
		if errors.Is(err, operator.ErrLockBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "project is locked by another command"})
			return
		}
		h.log.Warn("command dispatch failed", "type", req.Type, "project_id", req.ProjectID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *Handlers) GetProject(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	var project domain.Project
	err = h.db.WithContext(c.Request.Context()).Where("id = ?", id).First(&project).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, project)
}

func (h *Handlers) ListProjectJobs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return
	}
	rows, err := h.jobSvc.ListJobs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": rows})
}
