package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/gateway"
	"github.com/dujiao-next/reconciler/internal/models"
)

// paidOrderWithApprovedCommission 下单、支付并审核佣金
func paidOrderWithApprovedCommission(t *testing.T, env *serviceTestEnv, orderNo, price, affiliateCode string) (*models.Order, *models.AffiliateCommission) {
	t.Helper()
	order := env.createOrder(t, orderNo, price, "", affiliateCode)
	env.completeOrder(t, order)
	commission := env.commissionForOrder(t, order.ID)
	approved, err := env.commissionSvc.Approve(context.Background(), commission.ID)
	if err != nil {
		t.Fatalf("approve commission failed: %v", err)
	}
	return env.reloadOrder(t, order.ID), approved
}

func TestHappyPathCommissionPayout(t *testing.T) {
	env := setupServiceTest(t)
	profile := env.createAffiliate(t, "AFF1")
	order, commission := paidOrderWithApprovedCommission(t, env, "RC-100", "100.00", "AFF1")
	assertMoney(t, "commission", commission.CommissionAmount, "20")

	outcome, err := env.engine.PayCommission(context.Background(), commission.ID, constants.PayoutTriggerManual)
	if err != nil {
		t.Fatalf("pay commission failed: %v", err)
	}
	if outcome.Result != constants.PayoutResultSucceeded || outcome.TransferRef == "" || outcome.Attempt != 1 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if env.gw.transferCount() != 1 {
		t.Fatalf("expected one transfer, got %d", env.gw.transferCount())
	}
	call := env.gw.transferCalls[0]
	if call.IdempotencyKey != fmt.Sprintf("commission_payout_%d", commission.ID) {
		t.Fatalf("unexpected idempotency key: %s", call.IdempotencyKey)
	}
	if call.SourceChargeRef != order.ChargeRef || call.Destination != "acct_AFF1" || call.Amount != "20.00" {
		t.Fatalf("unexpected transfer input: %+v", call)
	}
	if call.Metadata["order_no"] != order.OrderNo || call.Metadata["affiliate_code"] != "AFF1" {
		t.Fatalf("transfer metadata should carry order and affiliate: %+v", call.Metadata)
	}

	row := env.reloadCommission(t, commission.ID)
	if row.Status != constants.CommissionStatusPaid || row.TransferStatus != constants.TransferStatusProcessing {
		t.Fatalf("unexpected commission state: %s/%s", row.Status, row.TransferStatus)
	}
	if row.TransferRef != outcome.TransferRef || row.PaidAt == nil || row.TransferAttemptCount != 1 {
		t.Fatalf("unexpected commission transfer fields: %+v", row)
	}
	p := env.reloadProfile(t, profile.ID)
	assertMoney(t, "pending_commission", p.PendingCommission, "0")
	assertMoney(t, "paid_commission", p.PaidCommission, "20")
	assertMoney(t, "total_paid_out", p.TotalPaidOut, "20")
	assertAggregates(t, p)

	attempts, _ := env.commissions.ListAttempts(commission.ID)
	if len(attempts) != 1 || attempts[0].Result != constants.PayoutResultSucceeded || attempts[0].Trigger != constants.PayoutTriggerManual {
		t.Fatalf("unexpected attempts: %+v", attempts)
	}
}

func TestPayCommissionNeverTransfersTwice(t *testing.T) {
	env := setupServiceTest(t)
	env.createAffiliate(t, "AFF1")
	_, commission := paidOrderWithApprovedCommission(t, env, "RC-101", "100.00", "AFF1")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.engine.PayCommission(ctx, commission.ID, constants.PayoutTriggerSweep); err != nil {
				t.Errorf("pay commission failed: %v", err)
			}
		}()
	}
	wg.Wait()

	again, err := env.engine.PayCommission(ctx, commission.ID, constants.PayoutTriggerSweep)
	if err != nil {
		t.Fatalf("pay commission failed: %v", err)
	}
	if again.Result != constants.PayoutResultSkipped {
		t.Fatalf("paid commission should be skipped, got %+v", again)
	}
	if env.gw.transferCount() != 1 {
		t.Fatalf("expected exactly one transfer, got %d", env.gw.transferCount())
	}
	attempts, _ := env.commissions.ListAttempts(commission.ID)
	if len(attempts) != 1 {
		t.Fatalf("expected one audit row, got %d", len(attempts))
	}
}

func TestPayoutAttemptCeiling(t *testing.T) {
	env := setupServiceTest(t)
	profile := env.createAffiliate(t, "AFF1")
	_, commission := paidOrderWithApprovedCommission(t, env, "RC-102", "100.00", "AFF1")
	env.gw.transferErr = fmt.Errorf("%w: rate limited", gateway.ErrRequestFailed)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := env.engine.PayAffiliate(ctx, profile, constants.PayoutTriggerSweep); err != nil {
			t.Fatalf("pay affiliate #%d failed: %v", i+1, err)
		}
	}
	if env.gw.transferCount() != 5 {
		t.Fatalf("transfer should be attempted 5 times, got %d", env.gw.transferCount())
	}
	row := env.reloadCommission(t, commission.ID)
	if row.TransferAttemptCount != 5 || row.TransferStatus != constants.TransferStatusFailed || row.TransferError == "" {
		t.Fatalf("unexpected commission after failures: %+v", row)
	}
	if row.Status != constants.CommissionStatusApproved {
		t.Fatalf("failed commission should stay approved, got %s", row.Status)
	}
	payable, _ := env.commissions.ListPayable(profile.ID, 5)
	if len(payable) != 0 {
		t.Fatalf("commission at ceiling should not be selected, got %d", len(payable))
	}
	p := env.reloadProfile(t, profile.ID)
	assertMoney(t, "pending_commission", p.PendingCommission, "20")
	assertMoney(t, "paid_commission", p.PaidCommission, "0")

	rows, total, err := env.commissionSvc.List(ctx, CommissionListInput{NeedsAction: true})
	if err != nil || total != 1 || rows[0].ID != commission.ID {
		t.Fatalf("commission at ceiling should need action: total=%d err=%v", total, err)
	}
}

func TestPayoutRetrySucceedsWithSameKey(t *testing.T) {
	env := setupServiceTest(t)
	env.createAffiliate(t, "AFF1")
	_, commission := paidOrderWithApprovedCommission(t, env, "RC-103", "100.00", "AFF1")
	ctx := context.Background()

	env.gw.transferErr = errors.New("timeout")
	first, _ := env.engine.PayCommission(ctx, commission.ID, constants.PayoutTriggerSweep)
	if first.Result != constants.PayoutResultFailed {
		t.Fatalf("first attempt should fail: %+v", first)
	}
	env.gw.transferErr = nil
	second, err := env.engine.PayCommission(ctx, commission.ID, constants.PayoutTriggerSweep)
	if err != nil || second.Result != constants.PayoutResultSucceeded || second.Attempt != 2 {
		t.Fatalf("retry should succeed on attempt 2: %v %+v", err, second)
	}
	if env.gw.transferCalls[0].IdempotencyKey != env.gw.transferCalls[1].IdempotencyKey {
		t.Fatalf("retries must reuse the idempotency key")
	}
	row := env.reloadCommission(t, commission.ID)
	if row.TransferError != "" || row.TransferAttemptCount != 2 {
		t.Fatalf("unexpected commission after retry: %+v", row)
	}
}

func TestPayoutSkipsAffiliateWithPayoutsDisabled(t *testing.T) {
	env := setupServiceTest(t)
	profile := env.createAffiliate(t, "AFF1")
	_, commission := paidOrderWithApprovedCommission(t, env, "RC-104", "100.00", "AFF1")
	if err := env.db.Model(profile).Update("payouts_enabled", false).Error; err != nil {
		t.Fatalf("disable payouts failed: %v", err)
	}

	outcome, err := env.engine.PayCommission(context.Background(), commission.ID, constants.PayoutTriggerSweep)
	if err != nil || outcome.Result != constants.PayoutResultSkipped {
		t.Fatalf("expected skipped outcome: %v %+v", err, outcome)
	}
	if env.gw.transferCount() != 0 {
		t.Fatalf("no transfer expected")
	}
	if row := env.reloadCommission(t, commission.ID); row.TransferAttemptCount != 0 {
		t.Fatalf("skip must not consume an attempt, got %d", row.TransferAttemptCount)
	}
}

func TestPayoutResolvesSourceChargeLazily(t *testing.T) {
	env := setupServiceTest(t)
	env.createAffiliate(t, "AFF1")
	order, commission := paidOrderWithApprovedCommission(t, env, "RC-105", "100.00", "AFF1")
	if err := env.db.Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]interface{}{"charge_ref": "", "provider_ref": "pi_105"}).Error; err != nil {
		t.Fatalf("reset charge ref failed: %v", err)
	}
	env.gw.status = &gateway.StatusResult{ProviderRef: "pi_105", ChargeRef: "ch_lazy", Status: gateway.StatusSucceeded}

	outcome, err := env.engine.PayCommission(context.Background(), commission.ID, constants.PayoutTriggerSweep)
	if err != nil || outcome.Result != constants.PayoutResultSucceeded {
		t.Fatalf("payout should succeed: %v %+v", err, outcome)
	}
	if env.gw.transferCalls[0].SourceChargeRef != "ch_lazy" {
		t.Fatalf("unexpected source charge: %s", env.gw.transferCalls[0].SourceChargeRef)
	}
	if got := env.reloadOrder(t, order.ID).ChargeRef; got != "ch_lazy" {
		t.Fatalf("resolved charge ref should be persisted, got %q", got)
	}
}

func TestPayoutMissingSourceChargeRecordsFailure(t *testing.T) {
	env := setupServiceTest(t)
	env.createAffiliate(t, "AFF1")
	order, commission := paidOrderWithApprovedCommission(t, env, "RC-106", "100.00", "AFF1")
	if err := env.db.Model(&models.Order{}).Where("id = ?", order.ID).Update("charge_ref", "").Error; err != nil {
		t.Fatalf("reset charge ref failed: %v", err)
	}

	outcome, err := env.engine.PayCommission(context.Background(), commission.ID, constants.PayoutTriggerSweep)
	if err != nil || outcome.Result != constants.PayoutResultFailed {
		t.Fatalf("expected failed outcome: %v %+v", err, outcome)
	}
	if env.gw.transferCount() != 0 {
		t.Fatalf("transfer must not be called without a source charge")
	}
	row := env.reloadCommission(t, commission.ID)
	if row.TransferAttemptCount != 1 || row.TransferError == "" {
		t.Fatalf("missing source charge should count as an attempt: %+v", row)
	}
}

func TestRefundAfterPayoutFlagsReversal(t *testing.T) {
	env := setupServiceTest(t)
	profile := env.createAffiliate(t, "AFF1")
	order, commission := paidOrderWithApprovedCommission(t, env, "RC-107", "100.00", "AFF1")
	ctx := context.Background()
	if _, err := env.engine.PayCommission(ctx, commission.ID, constants.PayoutTriggerSweep); err != nil {
		t.Fatalf("pay commission failed: %v", err)
	}

	if _, err := env.ledger.RefundPayment(ctx, PaymentEvent{Provider: "stripe", OrderNo: order.OrderNo}); err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	row := env.reloadCommission(t, commission.ID)
	if row.Status != constants.CommissionStatusCancelled || !row.ReversalRequired {
		t.Fatalf("paid commission should be cancelled with reversal flag: %+v", row)
	}
	p := env.reloadProfile(t, profile.ID)
	assertMoney(t, "paid_commission", p.PaidCommission, "20")
	assertMoney(t, "total_paid_out", p.TotalPaidOut, "20")
	assertMoney(t, "total_commission", p.TotalCommission, "20")
	assertAggregates(t, p)

	again, err := env.engine.PayCommission(ctx, commission.ID, constants.PayoutTriggerSweep)
	if err != nil || again.Result != constants.PayoutResultSkipped {
		t.Fatalf("cancelled commission must not be paid again: %v %+v", err, again)
	}
	if env.gw.transferCount() != 1 {
		t.Fatalf("expected one transfer in total, got %d", env.gw.transferCount())
	}
}

func TestTruncateErrorKeepsRuneBoundary(t *testing.T) {
	short := "  余额不足  "
	if got := truncateError(short); got != "余额不足" {
		t.Fatalf("short message should only be trimmed, got %q", got)
	}

	// 每个汉字 3 字节，1000 落在字符中间
	long := "xy" + strings.Repeat("收款账户异常", 200)
	got := truncateError(long)
	if !utf8.ValidString(got) {
		t.Fatalf("truncated message must stay valid utf-8")
	}
	if len(got) > 1000 || len(got) < 998 {
		t.Fatalf("truncated length want within [998,1000], got %d", len(got))
	}
	if !strings.HasPrefix(long, got) {
		t.Fatalf("truncated message should be a prefix of the original")
	}
}

func TestPayoutFailureWithMultibyteErrorCountsAttempt(t *testing.T) {
	env := setupServiceTest(t)
	env.createAffiliate(t, "AFF1")
	_, commission := paidOrderWithApprovedCommission(t, env, "RC-190", "100.00", "AFF1")
	env.gw.transferErr = errors.New("xy" + strings.Repeat("商户号余额不足", 200))

	outcome, err := env.engine.PayCommission(context.Background(), commission.ID, constants.PayoutTriggerManual)
	if err != nil {
		t.Fatalf("pay commission failed: %v", err)
	}
	if outcome.Result != constants.PayoutResultFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	row := env.reloadCommission(t, commission.ID)
	if row.TransferAttemptCount != 1 || !utf8.ValidString(row.TransferError) {
		t.Fatalf("failure should be recorded with a valid message: attempts=%d", row.TransferAttemptCount)
	}
}
