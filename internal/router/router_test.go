package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/gateway"
	"github.com/dujiao-next/reconciler/internal/idempotency"
	"github.com/dujiao-next/reconciler/internal/metrics"
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/provider"
	"github.com/dujiao-next/reconciler/internal/repository"
	"github.com/dujiao-next/reconciler/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const testSignatureHeader = "X-Test-Signature"

// webhookGateway 报文即事件 JSON，签名头为 ok 视为验签通过
type webhookGateway struct {
	mu        sync.Mutex
	transfers []gateway.TransferInput
}

func (g *webhookGateway) Name() string { return constants.GatewayStripe }

func (g *webhookGateway) CreateCharge(context.Context, gateway.ChargeInput) (*gateway.ChargeResult, error) {
	return nil, gateway.ErrUnsupported
}

func (g *webhookGateway) Capture(context.Context, string, string) (*gateway.StatusResult, error) {
	return nil, gateway.ErrUnsupported
}

func (g *webhookGateway) GetStatus(context.Context, string) (*gateway.StatusResult, error) {
	return nil, gateway.ErrUnsupported
}

func (g *webhookGateway) Transfer(_ context.Context, input gateway.TransferInput) (*gateway.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transfers = append(g.transfers, input)
	return &gateway.TransferResult{TransferRef: "tr_" + input.IdempotencyKey, Status: gateway.StatusSucceeded}, nil
}

func (g *webhookGateway) GetAccountCapabilities(context.Context, string) (*gateway.Capabilities, error) {
	return nil, gateway.ErrUnsupported
}

func (g *webhookGateway) ParseWebhook(_ context.Context, headers http.Header, body []byte) (*gateway.Event, error) {
	if headers.Get(testSignatureHeader) != "ok" {
		return nil, fmt.Errorf("%w: bad signature", gateway.ErrSignatureInvalid)
	}
	var event gateway.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrPayloadInvalid, err)
	}
	event.Provider = constants.GatewayStripe
	return &event, nil
}

func setupRouterTest(t *testing.T, secret string) (*gin.Engine, *provider.Container) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:router_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := models.MigrateDB(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: "debug"},
		Payout:    config.PayoutConfig{Provider: constants.GatewayStripe, MaxAttempts: 5, TransferTimeoutSeconds: 5, LeaseSeconds: 60},
		Reconcile: config.ReconcileConfig{Secret: secret, AffiliateTimeoutSeconds: 10},
	}
	c := &provider.Container{
		Config:           cfg,
		DB:               db,
		Metrics:          metrics.NewNoop(),
		Gateways:         gateway.NewRegistry(&webhookGateway{}),
		OrderRepo:        repository.NewOrderRepository(db),
		CouponRepo:       repository.NewCouponRepository(db),
		AffiliateRepo:    repository.NewAffiliateRepository(db),
		CommissionRepo:   repository.NewCommissionRepository(db),
		WebhookEventRepo: repository.NewWebhookEventRepository(db),
		PayoutLease:      idempotency.NewMemoryGuard(time.Minute),
	}
	c.MarkerStore = idempotency.NewGormGuard(c.WebhookEventRepo, time.Hour)
	c.WebhookGuard = c.MarkerStore
	c.CommissionService = service.NewCommissionService(c.CommissionRepo, c.AffiliateRepo, c.OrderRepo, nil, cfg.Commission, cfg.Payout)
	c.OrderLedger = service.NewOrderLedger(c.OrderRepo, c.CouponRepo, c.AffiliateRepo, c.CommissionService, c.Gateways, nil, cfg.Payout)
	c.PayoutEngine = service.NewPayoutEngine(c.CommissionRepo, c.AffiliateRepo, c.OrderRepo, c.Gateways, c.PayoutLease, c.Metrics, cfg.Payout)
	c.WebhookDispatcher = service.NewWebhookDispatcher(c.Gateways, c.WebhookGuard, c.OrderLedger, c.Metrics)
	c.ReconcileService = service.NewReconcileService(c.AffiliateRepo, c.PayoutEngine, c.Gateways, c.Metrics, cfg.Reconcile, cfg.Payout)
	return SetupRouter(cfg, c), c
}

func createAffiliateOrder(t *testing.T, c *provider.Container, orderNo string) {
	t.Helper()
	profile, err := c.AffiliateRepo.GetProfileByCode("AFF1")
	if err != nil {
		t.Fatalf("get affiliate failed: %v", err)
	}
	if profile == nil {
		profile = &models.AffiliateProfile{
			UserID:           7,
			AffiliateCode:    "AFF1",
			Status:           constants.AffiliateStatusActive,
			CommissionType:   constants.CommissionTypePercent,
			CommissionRate:   models.MustMoney("10"),
			PayoutProvider:   constants.GatewayStripe,
			PayoutAccountRef: "acct_AFF1",
			PayoutsEnabled:   true,
		}
		if err := c.AffiliateRepo.CreateProfile(profile); err != nil {
			t.Fatalf("create affiliate failed: %v", err)
		}
	}
	_, err = c.OrderLedger.CreateOrder(context.Background(), service.CreateOrderInput{
		OrderNo:       orderNo,
		UserID:        1,
		Currency:      "USD",
		Provider:      constants.GatewayStripe,
		AffiliateCode: "AFF1",
		Items: []service.CreateOrderItemInput{
			{ProductID: 1, Title: "Plan", UnitPrice: models.MustMoney("40.00"), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
}

func postWebhook(t *testing.T, r *gin.Engine, providerName, signature string, event gateway.Event) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+providerName, bytes.NewReader(body))
	req.Header.Set(testSignatureHeader, signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	StatusCode int             `json:"status_code"`
	Msg        string          `json:"msg"`
	Data       json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var resp envelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response failed: %v body=%s", err, w.Body.String())
	}
	return resp
}

func TestWebhookRouteProcessesPaymentOnce(t *testing.T) {
	r, c := setupRouterTest(t, "sweep-secret")
	createAffiliateOrder(t, c, "RC-R1")

	event := gateway.Event{
		EventID:   "evt_r1",
		Kind:      gateway.KindPaymentCompleted,
		OrderNo:   "RC-R1",
		ChargeRef: "ch_r1",
	}
	w := postWebhook(t, r, "stripe", "ok", event)
	if w.Code != http.StatusOK {
		t.Fatalf("webhook status want 200 got %d body=%s", w.Code, w.Body.String())
	}
	var result service.WebhookDispatchResult
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &result); err != nil {
		t.Fatalf("unmarshal result failed: %v", err)
	}
	if result.Result != service.WebhookResultProcessed || !result.Changed {
		t.Fatalf("unexpected result: %+v", result)
	}

	w = postWebhook(t, r, "stripe", "ok", event)
	if w.Code != http.StatusOK {
		t.Fatalf("duplicate webhook status want 200 got %d", w.Code)
	}
	if err := json.Unmarshal(decodeEnvelope(t, w).Data, &result); err != nil {
		t.Fatalf("unmarshal result failed: %v", err)
	}
	if result.Result != service.WebhookResultDuplicate {
		t.Fatalf("second delivery should be duplicate, got %s", result.Result)
	}

	order, err := c.OrderRepo.GetByOrderNo("RC-R1")
	if err != nil || order == nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.Status != constants.OrderStatusCompleted {
		t.Fatalf("order should be completed, got %s", order.Status)
	}
	rows, total, err := c.CommissionService.List(context.Background(), service.CommissionListInput{AffiliateCode: "AFF1", Page: 1, PageSize: 20})
	if err != nil || total != 1 || len(rows) != 1 {
		t.Fatalf("expected one commission, total=%d err=%v", total, err)
	}
}

func TestWebhookRouteErrorStatuses(t *testing.T) {
	r, _ := setupRouterTest(t, "sweep-secret")

	cases := []struct {
		name       string
		provider   string
		signature  string
		event      gateway.Event
		wantStatus int
	}{
		{name: "bad signature", provider: "stripe", signature: "bad", event: gateway.Event{EventID: "evt_1", Kind: gateway.KindPaymentCompleted, OrderNo: "X"}, wantStatus: http.StatusUnauthorized},
		{name: "unknown provider", provider: "alipay", signature: "ok", event: gateway.Event{EventID: "evt_2", Kind: gateway.KindPaymentCompleted, OrderNo: "X"}, wantStatus: http.StatusNotFound},
		{name: "unknown order", provider: "stripe", signature: "ok", event: gateway.Event{EventID: "evt_3", Kind: gateway.KindPaymentCompleted, OrderNo: "MISSING", ChargeRef: "ch_x"}, wantStatus: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postWebhook(t, r, tc.provider, tc.signature, tc.event)
			if w.Code != tc.wantStatus {
				t.Fatalf("status want %d got %d body=%s", tc.wantStatus, w.Code, w.Body.String())
			}
			if resp := decodeEnvelope(t, w); resp.StatusCode != tc.wantStatus {
				t.Fatalf("status_code want %d got %d", tc.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestReconcileRoutesRequireCredential(t *testing.T) {
	r, _ := setupRouterTest(t, "sweep-secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/payouts", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing credential want 401 got %d", w.Code)
	}

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reconcile/commissions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong credential want 401 got %d", w.Code)
	}
}

func TestReconcileRoutesFailClosedWithoutSecret(t *testing.T) {
	r, _ := setupRouterTest(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/payouts", nil)
	req.Header.Set("Authorization", "Bearer anything")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured sweep want 503 got %d", w.Code)
	}
}

func TestReconcilePayoutSweepRoute(t *testing.T) {
	r, c := setupRouterTest(t, "sweep-secret")
	createAffiliateOrder(t, c, "RC-R2")
	w := postWebhook(t, r, "stripe", "ok", gateway.Event{EventID: "evt_r2", Kind: gateway.KindPaymentCompleted, OrderNo: "RC-R2", ChargeRef: "ch_r2"})
	if w.Code != http.StatusOK {
		t.Fatalf("webhook failed: %d %s", w.Code, w.Body.String())
	}
	rows, _, err := c.CommissionService.List(context.Background(), service.CommissionListInput{AffiliateCode: "AFF1", Page: 1, PageSize: 20})
	if err != nil || len(rows) != 1 {
		t.Fatalf("list commissions failed: %v", err)
	}

	// 审核
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/reconcile/commissions/%d/approve", rows[0].ID), nil)
	req.Header.Set("Authorization", "Bearer sweep-secret")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("approve want 200 got %d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/reconcile/payouts", nil)
	req.Header.Set("Authorization", "Bearer sweep-secret")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("sweep want 200 got %d body=%s", w.Code, w.Body.String())
	}
	var summary service.SweepSummary
	if err := json.Unmarshal(w.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal summary failed: %v", err)
	}
	if summary.Processed != 1 || summary.Succeeded != 1 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	row, err := c.CommissionRepo.GetByID(rows[0].ID)
	if err != nil || row == nil {
		t.Fatalf("get commission failed: %v", err)
	}
	if row.Status != constants.CommissionStatusPaid {
		t.Fatalf("commission should be paid, got %s", row.Status)
	}
	attempts, _ := c.CommissionRepo.ListAttempts(row.ID)
	if len(attempts) != 1 || attempts[0].Trigger != constants.PayoutTriggerAPI {
		t.Fatalf("attempt should record api trigger: %+v", attempts)
	}
}

func TestReconcileCommissionRouteValidation(t *testing.T) {
	r, _ := setupRouterTest(t, "sweep-secret")

	cases := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{name: "invalid id", path: "/api/v1/reconcile/commissions/abc/approve", wantStatus: http.StatusBadRequest},
		{name: "missing commission", path: "/api/v1/reconcile/commissions/404/approve", wantStatus: http.StatusNotFound},
		{name: "mark paid without ref", path: "/api/v1/reconcile/commissions/1/mark-paid", body: `{}`, wantStatus: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, tc.path, bytes.NewBufferString(tc.body))
			req.Header.Set("Authorization", "Bearer sweep-secret")
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)
			if w.Code != tc.wantStatus {
				t.Fatalf("status want %d got %d body=%s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	r, _ := setupRouterTest(t, "sweep-secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz want 200 got %d", w.Code)
	}
	var status map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal health failed: %v", err)
	}
	if status["database"] != "ok" || status["redis"] != "disabled" || status["reconcile_configured"] != true {
		t.Fatalf("unexpected health: %+v", status)
	}
}
