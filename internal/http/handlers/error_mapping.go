package handlers

import (
	"errors"

	"github.com/dujiao-next/reconciler/internal/http/response"
	"github.com/dujiao-next/reconciler/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError 定义业务错误到接口错误响应的映射关系。
type mappedHandlerError struct {
	target error
	code   int
	msg    string
}

// respondWithMappedError 按规则输出错误，HTTP 状态码与业务码一致
func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackCode int, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			respondError(c, rule.code, rule.msg, nil)
			return
		}
	}
	respondError(c, fallbackCode, fallbackMsg, err)
}

func concatMappedHandlerErrors(groups ...[]mappedHandlerError) []mappedHandlerError {
	total := 0
	for _, group := range groups {
		total += len(group)
	}
	result := make([]mappedHandlerError, 0, total)
	for _, group := range groups {
		result = append(result, group...)
	}
	return result
}

func respondError(c *gin.Context, code int, msg string, err error) {
	appErr := response.WrapError(code, msg, err)
	if err != nil {
		requestLog(c).Errorw("handler_error",
			"code", appErr.Code,
			"message", appErr.Message,
			"error", err,
		)
	}
	response.Fail(c, appErr)
}

var webhookErrorRules = []mappedHandlerError{
	{target: service.ErrWebhookSignatureInvalid, code: response.CodeUnauthorized, msg: "webhook signature invalid"},
	{target: service.ErrWebhookPayloadInvalid, code: response.CodeBadRequest, msg: "webhook payload invalid"},
	{target: service.ErrGatewayNotFound, code: response.CodeNotFound, msg: "payment provider not found"},
	{target: service.ErrOrderNotFound, code: response.CodeNotFound, msg: "order not found"},
	{target: service.ErrOrderNotPaid, code: response.CodeConflict, msg: "order not paid yet"},
	{target: service.ErrPaymentProviderInvalid, code: response.CodeBadRequest, msg: "payment provider mismatch"},
}

var reconcileErrorRules = []mappedHandlerError{
	{target: service.ErrReconcileSecretMissing, code: response.CodeServiceUnavailable, msg: "reconcile secret not configured"},
	{target: service.ErrReconcileUnauthorized, code: response.CodeUnauthorized, msg: "unauthorized"},
}

var commissionErrorRules = []mappedHandlerError{
	{target: service.ErrCommissionNotFound, code: response.CodeNotFound, msg: "commission not found"},
	{target: service.ErrCommissionStatusInvalid, code: response.CodeConflict, msg: "commission status invalid"},
	{target: service.ErrAffiliateNotFound, code: response.CodeNotFound, msg: "affiliate not found"},
	{target: service.ErrPayoutUpdateFailed, code: response.CodeBadRequest, msg: "payout update failed"},
}

func respondWebhookError(c *gin.Context, err error) {
	respondWithMappedError(c, err, webhookErrorRules, response.CodeInternal, "webhook processing failed")
}

func respondReconcileError(c *gin.Context, err error) {
	respondWithMappedError(c, err, reconcileErrorRules, response.CodeInternal, "reconcile failed")
}

func respondCommissionError(c *gin.Context, err error) {
	respondWithMappedError(c, err, concatMappedHandlerErrors(reconcileErrorRules, commissionErrorRules), response.CodeInternal, "commission update failed")
}
