package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gonasi/gonasi-backend/internal/http/response"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
	"github.com/gonasi/gonasi-backend/internal/services"
)

const (
	maxWebhookBody  = 1 << 20
	signatureHeader = "x-paystack-signature"
)

type WebhookHandler struct {
	log      *logger.Logger
	webhooks services.WebhookService
}

func NewWebhookHandler(log *logger.Logger, webhooks services.WebhookService) *WebhookHandler {
	return &WebhookHandler{log: log.With("handler", "WebhookHandler"), webhooks: webhooks}
}

// Paystack handles POST /webhooks/paystack. The raw body is kept byte-for-byte
// for signature verification. The client IP honours forwarding headers only
// from the engine's trusted proxies.
func (h *WebhookHandler) Paystack(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "body_too_large", err)
		return
	}
	headers := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		key := strings.ToLower(k)
		if key == "authorization" || key == "cookie" {
			continue
		}
		headers[key] = strings.Join(v, ",")
	}
	resp := h.webhooks.Handle(c.Request.Context(), services.WebhookRequest{
		Body:      body,
		Headers:   headers,
		ClientIP:  c.ClientIP(),
		Signature: c.GetHeader(signatureHeader),
	})
	c.JSON(resp.Status, resp)
}
