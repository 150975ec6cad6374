package handlers

import (
	"io"
	"strings"

	"github.com/dujiao-next/reconciler/internal/http/response"
	"github.com/dujiao-next/reconciler/internal/service"

	"github.com/gin-gonic/gin"
)

const maxWebhookBodyBytes = 1 << 20

// Webhook 支付网关回调入口，:provider 为网关名称
func (h *Handler) Webhook(c *gin.Context) {
	log := requestLog(c)
	providerName := strings.ToLower(strings.TrimSpace(c.Param("provider")))
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes+1))
	if err != nil {
		log.Warnw("webhook_body_read_failed", "provider", providerName, "error", err)
		respondError(c, response.CodeBadRequest, "webhook body unreadable", nil)
		return
	}
	if len(body) > maxWebhookBodyBytes {
		log.Warnw("webhook_body_too_large", "provider", providerName, "body_size", len(body))
		respondError(c, response.CodeBadRequest, "webhook body too large", nil)
		return
	}
	log.Infow("webhook_received",
		"provider", providerName,
		"client_ip", c.ClientIP(),
		"body_size", len(body),
	)

	result, err := h.WebhookDispatcher.Dispatch(c.Request.Context(), service.WebhookInput{
		Provider: providerName,
		Headers:  c.Request.Header.Clone(),
		Body:     body,
	})
	if err != nil {
		log.Warnw("webhook_handle_failed", "provider", providerName, "error", err)
		respondWebhookError(c, err)
		return
	}
	response.Success(c, result)
}
