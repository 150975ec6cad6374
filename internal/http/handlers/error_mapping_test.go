package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dujiao-next/reconciler/internal/service"

	"github.com/gin-gonic/gin"
)

func TestRespondWebhookErrorStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("%w: bad", service.ErrWebhookSignatureInvalid), want: http.StatusUnauthorized},
		{err: service.ErrWebhookPayloadInvalid, want: http.StatusBadRequest},
		{err: fmt.Errorf("%w: alipay", service.ErrGatewayNotFound), want: http.StatusNotFound},
		{err: service.ErrOrderNotFound, want: http.StatusNotFound},
		{err: service.ErrOrderNotPaid, want: http.StatusConflict},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondWebhookError(c, tc.err)
		if w.Code != tc.want {
			t.Fatalf("%v: want %d got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestRespondCommissionErrorStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		err  error
		want int
	}{
		{err: service.ErrCommissionNotFound, want: http.StatusNotFound},
		{err: service.ErrCommissionStatusInvalid, want: http.StatusConflict},
		{err: service.ErrAffiliateNotFound, want: http.StatusNotFound},
		{err: service.ErrReconcileSecretMissing, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondCommissionError(c, tc.err)
		if w.Code != tc.want {
			t.Fatalf("%v: want %d got %d", tc.err, tc.want, w.Code)
		}
	}
}

func TestConcatMappedHandlerErrorsDoesNotAlias(t *testing.T) {
	base := []mappedHandlerError{{target: service.ErrOrderNotFound, code: 404, msg: "a"}}
	merged := concatMappedHandlerErrors(base, reconcileErrorRules)
	merged[0].msg = "changed"
	if base[0].msg != "a" {
		t.Fatalf("base rules must not be mutated")
	}
	if len(merged) != 1+len(reconcileErrorRules) {
		t.Fatalf("unexpected merged length %d", len(merged))
	}
}

func TestNormalizePagination(t *testing.T) {
	cases := []struct {
		page, size, wantPage, wantSize int
	}{
		{0, 0, 1, 20},
		{3, 50, 3, 50},
		{1, 1000, 1, 100},
	}
	for _, tc := range cases {
		page, size := normalizePagination(tc.page, tc.size)
		if page != tc.wantPage || size != tc.wantSize {
			t.Fatalf("normalize(%d,%d) = (%d,%d)", tc.page, tc.size, page, size)
		}
	}
}
