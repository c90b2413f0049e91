package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gonasi/gonasi-backend/internal/http/response"
	"github.com/gonasi/gonasi-backend/internal/platform/ctxutil"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/services"
)

type PublishHandler struct {
	log     *logger.Logger
	publish services.PublishService
}

func NewPublishHandler(log *logger.Logger, publish services.PublishService) *PublishHandler {
	return &PublishHandler{log: log.With("handler", "PublishHandler"), publish: publish}
}

type unpublishBody struct {
	Reason string `json:"reason" binding:"required"`
}

// POST /api/organizations/:orgID/courses/:courseID/publish
func (h *PublishHandler) Publish(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	orgID, courseID, ok := orgCourseParams(c)
	if !ok {
		return
	}
	res, err := h.publish.Publish(c.Request.Context(), services.PublishRequest{
		CourseID:       courseID,
		OrganizationID: orgID,
		UserID:         userID,
	})
	if err != nil {
		h.log.Warn("publish failed", "course_id", courseID, "organization_id", orgID, "error", err)
		respondPublishError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/organizations/:orgID/courses/:courseID/unpublish
func (h *PublishHandler) Unpublish(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	orgID, courseID, ok := orgCourseParams(c)
	if !ok {
		return
	}
	var body unpublishBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Reason) == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_reason", errors.New("reason is required"))
		return
	}
	res, err := h.publish.Unpublish(c.Request.Context(), services.UnpublishRequest{
		CourseID:       courseID,
		OrganizationID: orgID,
		UserID:         userID,
		Reason:         body.Reason,
	})
	if err != nil {
		h.log.Warn("unpublish failed", "course_id", courseID, "error", err)
		response.RespondServiceError(c, "unpublish_failed", err)
		return
	}
	response.RespondOK(c, res)
}

func respondPublishError(c *gin.Context, err error) {
	var pe *services.PublishError
	if !errors.As(err, &pe) {
		response.RespondServiceError(c, "publish_failed", err)
		return
	}
	status := pe.HTTPStatus()
	switch {
	case pe.Phase == services.PhaseValidate:
		response.RespondErrorDetails(c, status, "validation_failed", err, gin.H{"violations": pe.Violations})
	case status == http.StatusNotFound:
		response.RespondError(c, status, "course_not_found", err)
	case status == http.StatusConflict:
		response.RespondError(c, status, "publish_conflict", err)
	default:
		response.RespondError(c, status, pe.Phase+"_failed", err)
	}
}

func requireUser(c *gin.Context) (uuid.UUID, bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("unauthorized"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func orgCourseParams(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	orgID, err := uuid.Parse(c.Param("orgID"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	courseID, err := uuid.Parse(c.Param("courseID"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_course_id", err)
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, courseID, true
}
