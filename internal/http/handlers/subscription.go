package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gonasi/gonasi-backend/internal/http/response"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/services"
)

type SubscriptionHandler struct {
	log  *logger.Logger
	subs services.SubscriptionService
}

func NewSubscriptionHandler(log *logger.Logger, subs services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{log: log.With("handler", "SubscriptionHandler"), subs: subs}
}

type downgradeBody struct {
	TargetTier string `json:"target_tier" binding:"required"`
}

// POST /api/organizations/:orgID/subscription/downgrade
func (h *SubscriptionHandler) Downgrade(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}
	orgID, err := uuid.Parse(c.Param("orgID"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_organization_id", err)
		return
	}
	var body downgradeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_target_tier", errors.New("target_tier is required"))
		return
	}
	res, err := h.subs.Downgrade(c.Request.Context(), services.DowngradeRequest{
		OrganizationID: orgID,
		TargetTier:     body.TargetTier,
		RequestedBy:    userID,
	})
	if err != nil {
		h.log.Warn("downgrade failed", "organization_id", orgID, "target_tier", body.TargetTier, "error", err)
		response.RespondServiceError(c, "downgrade_failed", err)
		return
	}
	response.RespondOK(c, res)
}
