package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/gateway"
	"github.com/dujiao-next/reconciler/internal/idempotency"
	"github.com/dujiao-next/reconciler/internal/metrics"
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/queue"
	"github.com/dujiao-next/reconciler/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const fakeSignatureHeader = "X-Fake-Signature"

type fakeGateway struct {
	mu   sync.Mutex
	name string

	transferErr   error
	transferCalls []gateway.TransferInput
	transfers     map[string]string

	status     *gateway.StatusResult
	statusErr  error
	capture    *gateway.StatusResult
	captureErr error
	caps       *gateway.Capabilities
	capsErr    error
	charges    []gateway.ChargeInput
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name, transfers: map[string]string{}}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreateCharge(_ context.Context, input gateway.ChargeInput) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, input)
	return &gateway.ChargeResult{
		ProviderRef: "cs_" + input.OrderNo,
		PayURL:      "https://pay.example/" + input.OrderNo,
		Status:      gateway.StatusPending,
	}, nil
}

func (g *fakeGateway) Capture(_ context.Context, providerRef, _ string) (*gateway.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	if g.capture != nil {
		return g.capture, nil
	}
	return &gateway.StatusResult{ProviderRef: providerRef, ChargeRef: "cap_" + providerRef, Status: gateway.StatusSucceeded}, nil
}

func (g *fakeGateway) GetStatus(_ context.Context, providerRef string) (*gateway.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	if g.status != nil {
		return g.status, nil
	}
	return &gateway.StatusResult{ProviderRef: providerRef, Status: gateway.StatusPending}, nil
}

// Transfer 同一幂等键返回同一转账ID
func (g *fakeGateway) Transfer(_ context.Context, input gateway.TransferInput) (*gateway.TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transferCalls = append(g.transferCalls, input)
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	ref, ok := g.transfers[input.IdempotencyKey]
	if !ok {
		ref = fmt.Sprintf("tr_%d", len(g.transfers)+1)
		g.transfers[input.IdempotencyKey] = ref
	}
	return &gateway.TransferResult{TransferRef: ref, Status: gateway.StatusSucceeded}, nil
}

func (g *fakeGateway) GetAccountCapabilities(_ context.Context, accountRef string) (*gateway.Capabilities, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.capsErr != nil {
		return nil, g.capsErr
	}
	if g.caps != nil {
		return g.caps, nil
	}
	return nil, gateway.ErrUnsupported
}

// ParseWebhook 报文即事件 JSON，签名头为 ok 视为验签通过
func (g *fakeGateway) ParseWebhook(_ context.Context, headers http.Header, body []byte) (*gateway.Event, error) {
	if headers.Get(fakeSignatureHeader) != "ok" {
		return nil, fmt.Errorf("%w: bad signature", gateway.ErrSignatureInvalid)
	}
	var event gateway.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrPayloadInvalid, err)
	}
	event.Provider = g.name
	return &event, nil
}

func (g *fakeGateway) transferCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.transferCalls)
}

type fakeQueue struct {
	mu       sync.Mutex
	notifies []queue.OrderPaidNotifyPayload
	payouts  []queue.CommissionPayoutPayload
	err      error
}

func (q *fakeQueue) EnqueueOrderPaidNotify(payload queue.OrderPaidNotifyPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.notifies = append(q.notifies, payload)
	return nil
}

func (q *fakeQueue) EnqueueCommissionPayout(payload queue.CommissionPayoutPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.payouts = append(q.payouts, payload)
	return nil
}

type serviceTestEnv struct {
	db          *gorm.DB
	orders      *repository.GormOrderRepository
	coupons     *repository.GormCouponRepository
	affiliates  *repository.GormAffiliateRepository
	commissions *repository.GormCommissionRepository
	gw          *fakeGateway
	registry    *gateway.Registry
	queue       *fakeQueue
	guard       *idempotency.MemoryGuard

	commissionSvc *CommissionService
	ledger        *OrderLedger
	engine        *PayoutEngine
	dispatcher    *WebhookDispatcher
	reconcile     *ReconcileService
}

func setupServiceTest(t *testing.T, mutate ...func(cfg *config.Config)) *serviceTestEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	return newServiceTestEnv(t, db, mutate...)
}

// newServiceTestEnv 在已迁移的数据库上装配全部服务
func newServiceTestEnv(t *testing.T, db *gorm.DB, mutate ...func(cfg *config.Config)) *serviceTestEnv {
	t.Helper()
	cfg := &config.Config{
		Payout: config.PayoutConfig{
			Provider:               constants.GatewayStripe,
			MaxAttempts:            5,
			TransferTimeoutSeconds: 5,
			LeaseSeconds:           60,
		},
		Reconcile: config.ReconcileConfig{
			Secret:                  "sweep-secret",
			AffiliateTimeoutSeconds: 10,
			TokenMaxAgeSeconds:      300,
		},
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	env := &serviceTestEnv{
		db:          db,
		orders:      repository.NewOrderRepository(db),
		coupons:     repository.NewCouponRepository(db),
		affiliates:  repository.NewAffiliateRepository(db),
		commissions: repository.NewCommissionRepository(db),
		gw:          newFakeGateway(constants.GatewayStripe),
		queue:       &fakeQueue{},
		guard:       idempotency.NewMemoryGuard(time.Minute),
	}
	env.registry = gateway.NewRegistry(env.gw)
	m := metrics.NewNoop()
	env.commissionSvc = NewCommissionService(env.commissions, env.affiliates, env.orders, env.queue, cfg.Commission, cfg.Payout)
	env.ledger = NewOrderLedger(env.orders, env.coupons, env.affiliates, env.commissionSvc, env.registry, env.queue, cfg.Payout)
	env.engine = NewPayoutEngine(env.commissions, env.affiliates, env.orders, env.registry,
		idempotency.NewMemoryGuard(time.Duration(cfg.Payout.LeaseSeconds)*time.Second), m, cfg.Payout)
	env.dispatcher = NewWebhookDispatcher(env.registry, env.guard, env.ledger, m)
	env.reconcile = NewReconcileService(env.affiliates, env.engine, env.registry, m, cfg.Reconcile, cfg.Payout)
	return env
}

func (env *serviceTestEnv) createAffiliate(t *testing.T, code string) *models.AffiliateProfile {
	t.Helper()
	profile := &models.AffiliateProfile{
		UserID:           99,
		AffiliateCode:    code,
		Status:           constants.AffiliateStatusActive,
		CommissionType:   constants.CommissionTypePercent,
		CommissionRate:   models.MustMoney("20"),
		PayoutProvider:   constants.GatewayStripe,
		PayoutAccountRef: "acct_" + code,
		PayoutsEnabled:   true,
	}
	if err := env.affiliates.CreateProfile(profile); err != nil {
		t.Fatalf("create affiliate failed: %v", err)
	}
	return profile
}

func (env *serviceTestEnv) createCoupon(t *testing.T, code, value string) *models.Coupon {
	t.Helper()
	coupon := &models.Coupon{Code: code, Type: constants.CouponTypeFixed, Value: models.MustMoney(value), IsActive: true}
	if err := env.coupons.Create(coupon); err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}
	return coupon
}

func (env *serviceTestEnv) createOrder(t *testing.T, orderNo, price, couponCode, affiliateCode string) *models.Order {
	t.Helper()
	order, err := env.ledger.CreateOrder(context.Background(), CreateOrderInput{
		OrderNo:       orderNo,
		UserID:        1,
		Currency:      "usd",
		Provider:      constants.GatewayStripe,
		CouponCode:    couponCode,
		AffiliateCode: affiliateCode,
		Items: []CreateOrderItemInput{
			{ProductID: 1, Title: "Plan", UnitPrice: models.MustMoney(price), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func (env *serviceTestEnv) completeOrder(t *testing.T, order *models.Order) *TransitionResult {
	t.Helper()
	result, err := env.ledger.CompletePayment(context.Background(), PaymentEvent{
		Provider:  constants.GatewayStripe,
		EventID:   "evt_paid_" + order.OrderNo,
		OrderNo:   order.OrderNo,
		ChargeRef: "ch_" + order.OrderNo,
		Amount:    order.TotalAmount.StringFixed(2),
		Currency:  order.Currency,
	})
	if err != nil {
		t.Fatalf("complete payment failed: %v", err)
	}
	return result
}

func (env *serviceTestEnv) reloadOrder(t *testing.T, id uint) *models.Order {
	t.Helper()
	order, err := env.orders.GetByID(id)
	if err != nil || order == nil {
		t.Fatalf("reload order failed: %v", err)
	}
	return order
}

func (env *serviceTestEnv) reloadProfile(t *testing.T, id uint) *models.AffiliateProfile {
	t.Helper()
	profile, err := env.affiliates.GetProfileByID(id)
	if err != nil || profile == nil {
		t.Fatalf("reload profile failed: %v", err)
	}
	return profile
}

func (env *serviceTestEnv) reloadCommission(t *testing.T, id uint) *models.AffiliateCommission {
	t.Helper()
	row, err := env.commissions.GetByID(id)
	if err != nil || row == nil {
		t.Fatalf("reload commission failed: %v", err)
	}
	return row
}

func (env *serviceTestEnv) commissionForOrder(t *testing.T, orderID uint) *models.AffiliateCommission {
	t.Helper()
	var rows []models.AffiliateCommission
	if err := env.db.Where("order_id = ?", orderID).Find(&rows).Error; err != nil {
		t.Fatalf("query commissions failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one commission for order %d, got %d", orderID, len(rows))
	}
	return &rows[0]
}

func assertMoney(t *testing.T, label string, got models.Money, want string) {
	t.Helper()
	if !got.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: want %s got %s", label, want, got.StringFixed(2))
	}
}

// assertAggregates 校验 pending + paid ≤ total 且 pending ≥ 0
func assertAggregates(t *testing.T, profile *models.AffiliateProfile) {
	t.Helper()
	if profile.PendingCommission.Decimal.IsNegative() {
		t.Fatalf("pending commission negative: %s", profile.PendingCommission.String())
	}
	sum := profile.PendingCommission.Decimal.Add(profile.PaidCommission.Decimal)
	if sum.GreaterThan(profile.TotalCommission.Decimal) {
		t.Fatalf("pending %s + paid %s exceeds total %s",
			profile.PendingCommission.String(), profile.PaidCommission.String(), profile.TotalCommission.String())
	}
}
