package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupRepositoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repository_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.MigrateDB(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func createTestProfile(t *testing.T, db *gorm.DB, code string) *models.AffiliateProfile {
	t.Helper()
	profile := &models.AffiliateProfile{
		AffiliateCode:    code,
		Status:           constants.AffiliateStatusActive,
		CommissionType:   constants.CommissionTypePercent,
		CommissionRate:   models.MustMoney("20"),
		PayoutProvider:   constants.GatewayStripe,
		PayoutAccountRef: "acct_" + code,
		PayoutsEnabled:   true,
	}
	if err := db.Create(profile).Error; err != nil {
		t.Fatalf("create profile failed: %v", err)
	}
	return profile
}

func TestCouponDecrementUsedCountNeverBelowZero(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewCouponRepository(db)
	coupon := &models.Coupon{Code: "SAVE10", Type: constants.CouponTypeFixed, Value: models.MustMoney("10"), IsActive: true}
	if err := repo.Create(coupon); err != nil {
		t.Fatalf("create coupon failed: %v", err)
	}

	if err := repo.IncrementUsedCount(coupon.ID, 1); err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	affected, err := repo.DecrementUsedCount(coupon.ID, 1)
	if err != nil || affected != 1 {
		t.Fatalf("first decrement: affected=%d err=%v", affected, err)
	}
	affected, err = repo.DecrementUsedCount(coupon.ID, 1)
	if err != nil {
		t.Fatalf("second decrement failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected floor to block decrement, affected=%d", affected)
	}

	got, err := repo.GetByID(coupon.ID)
	if err != nil || got == nil {
		t.Fatalf("reload coupon failed: %v", err)
	}
	if got.UsedCount != 0 {
		t.Fatalf("expected used_count 0, got %d", got.UsedCount)
	}
}

func TestCouponRedemptionUniquePerOrder(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewCouponRepository(db)
	first := &models.CouponRedemption{CouponID: 1, OrderID: 9, DiscountAmount: models.MustMoney("5")}
	if err := repo.CreateRedemption(first); err != nil {
		t.Fatalf("create redemption failed: %v", err)
	}
	err := repo.CreateRedemption(&models.CouponRedemption{CouponID: 1, OrderID: 9})
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}

	now := time.Now()
	if err := repo.MarkRedemptionReversed(1, 9, now); err != nil {
		t.Fatalf("mark reversed failed: %v", err)
	}
	row, err := repo.GetRedemptionByOrder(1, 9)
	if err != nil || row == nil {
		t.Fatalf("get redemption failed: %v", err)
	}
	if row.ReversedAt == nil {
		t.Fatalf("expected reversed_at to be set")
	}
}

func TestAffiliateAggregatesStayConsistent(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewAffiliateRepository(db)
	profile := createTestProfile(t, db, "AGG1")

	if err := repo.AddCommission(profile.ID, decimal.RequireFromString("100"), decimal.RequireFromString("20")); err != nil {
		t.Fatalf("add commission failed: %v", err)
	}
	if err := repo.AddCommission(profile.ID, decimal.RequireFromString("50"), decimal.RequireFromString("10")); err != nil {
		t.Fatalf("add commission failed: %v", err)
	}
	if err := repo.MovePendingToPaid(profile.ID, decimal.RequireFromString("20")); err != nil {
		t.Fatalf("move to paid failed: %v", err)
	}
	if err := repo.ReleasePendingCommission(profile.ID, decimal.RequireFromString("10")); err != nil {
		t.Fatalf("release pending failed: %v", err)
	}
	// 再次释放不会出现负数
	if err := repo.ReleasePendingCommission(profile.ID, decimal.RequireFromString("10")); err != nil {
		t.Fatalf("release pending failed: %v", err)
	}

	got, err := repo.GetProfileByID(profile.ID)
	if err != nil || got == nil {
		t.Fatalf("reload profile failed: %v", err)
	}
	if got.TotalRevenue.String() != "150.00" {
		t.Fatalf("unexpected total_revenue: %s", got.TotalRevenue)
	}
	if got.PendingCommission.String() != "0.00" {
		t.Fatalf("unexpected pending_commission: %s", got.PendingCommission)
	}
	if got.PaidCommission.String() != "20.00" || got.TotalPaidOut.String() != "20.00" {
		t.Fatalf("unexpected paid aggregates: paid=%s paid_out=%s", got.PaidCommission, got.TotalPaidOut)
	}
	if got.PendingCommission.Add(got.PaidCommission.Decimal).GreaterThan(got.TotalCommission.Decimal) {
		t.Fatalf("pending+paid exceeds total: %s+%s > %s", got.PendingCommission, got.PaidCommission, got.TotalCommission)
	}
}

func TestCommissionListPayableRespectsAttemptCeiling(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewCommissionRepository(db)
	profile := createTestProfile(t, db, "CEIL")

	rows := []models.AffiliateCommission{
		{AffiliateProfileID: profile.ID, OrderID: 1, Status: constants.CommissionStatusApproved, TransferStatus: constants.TransferStatusNone},
		{AffiliateProfileID: profile.ID, OrderID: 2, Status: constants.CommissionStatusApproved, TransferStatus: constants.TransferStatusFailed, TransferAttemptCount: 4},
		{AffiliateProfileID: profile.ID, OrderID: 3, Status: constants.CommissionStatusApproved, TransferStatus: constants.TransferStatusFailed, TransferAttemptCount: 5},
		{AffiliateProfileID: profile.ID, OrderID: 4, Status: constants.CommissionStatusPaid, TransferStatus: constants.TransferStatusProcessing, TransferRef: "tr_1"},
		{AffiliateProfileID: profile.ID, OrderID: 5, Status: constants.CommissionStatusPending, TransferStatus: constants.TransferStatusNone},
	}
	for i := range rows {
		rows[i].Currency = "usd"
		rows[i].CommissionType = constants.CommissionTypePercent
		if err := repo.Create(&rows[i]); err != nil {
			t.Fatalf("create commission failed: %v", err)
		}
	}

	payable, err := repo.ListPayable(profile.ID, 5)
	if err != nil {
		t.Fatalf("list payable failed: %v", err)
	}
	if len(payable) != 2 {
		t.Fatalf("expected 2 payable commissions, got %d", len(payable))
	}
	if payable[0].OrderID != 1 || payable[1].OrderID != 2 {
		t.Fatalf("unexpected payable orders: %d, %d", payable[0].OrderID, payable[1].OrderID)
	}

	flagged, total, err := repo.List(CommissionListFilter{NeedsAction: true, MaxAttempts: 5})
	if err != nil {
		t.Fatalf("list needs action failed: %v", err)
	}
	if total != 1 || len(flagged) != 1 || flagged[0].OrderID != 3 {
		t.Fatalf("expected ceiling commission to need action, total=%d", total)
	}
}

func TestCommissionTransferStateUpdatesAreConditional(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewCommissionRepository(db)
	profile := createTestProfile(t, db, "COND")
	row := &models.AffiliateCommission{
		AffiliateProfileID: profile.ID,
		OrderID:            11,
		CommissionType:     constants.CommissionTypePercent,
		Currency:           "usd",
		Status:             constants.CommissionStatusApproved,
		TransferStatus:     constants.TransferStatusNone,
	}
	if err := repo.Create(row); err != nil {
		t.Fatalf("create commission failed: %v", err)
	}
	now := time.Now()

	for i := 0; i < 3; i++ {
		if _, err := repo.RecordTransferFailure(row.ID, "timeout", now, 2); err != nil {
			t.Fatalf("record failure failed: %v", err)
		}
	}
	got, _ := repo.GetByID(row.ID)
	if got.TransferAttemptCount != 2 {
		t.Fatalf("expected attempts capped at 2, got %d", got.TransferAttemptCount)
	}

	affected, err := repo.MarkTransferSucceeded(row.ID, "tr_ok", now)
	if err != nil || affected != 1 {
		t.Fatalf("mark succeeded: affected=%d err=%v", affected, err)
	}
	affected, err = repo.MarkTransferSucceeded(row.ID, "tr_dup", now)
	if err != nil {
		t.Fatalf("second mark failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected second success update to be ignored")
	}
	got, _ = repo.GetByID(row.ID)
	if got.Status != constants.CommissionStatusPaid || got.TransferRef != "tr_ok" || got.TransferError != "" {
		t.Fatalf("unexpected commission state: %+v", got)
	}
}

func TestCommissionApprovePendingBefore(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewCommissionRepository(db)
	profile := createTestProfile(t, db, "HOLD")
	old := time.Now().Add(-10 * 24 * time.Hour)
	rows := []models.AffiliateCommission{
		{AffiliateProfileID: profile.ID, OrderID: 21, Status: constants.CommissionStatusPending, CreatedAt: old},
		{AffiliateProfileID: profile.ID, OrderID: 22, Status: constants.CommissionStatusPending},
	}
	for i := range rows {
		rows[i].Currency = "usd"
		rows[i].CommissionType = constants.CommissionTypePercent
		rows[i].TransferStatus = constants.TransferStatusNone
		if err := repo.Create(&rows[i]); err != nil {
			t.Fatalf("create commission failed: %v", err)
		}
	}
	now := time.Now()
	affected, err := repo.ApprovePendingBefore(now.Add(-7*24*time.Hour), now, 100)
	if err != nil {
		t.Fatalf("approve pending failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 approved, got %d", affected)
	}
	got, _ := repo.GetByID(rows[0].ID)
	if got.Status != constants.CommissionStatusApproved || got.ApprovedAt == nil {
		t.Fatalf("expected old commission approved: %+v", got)
	}
}

func TestWebhookEventInsertAndTakeOver(t *testing.T) {
	db := setupRepositoryTestDB(t)
	repo := NewWebhookEventRepository(db)
	now := time.Now()

	created, err := repo.Insert("stripe:evt_1", now.Add(time.Minute))
	if err != nil || !created {
		t.Fatalf("first insert: created=%v err=%v", created, err)
	}
	created, err = repo.Insert("stripe:evt_1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second insert failed: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate insert to report false")
	}
	took, err := repo.TakeOverExpired("stripe:evt_1", now, now.Add(time.Minute))
	if err != nil || took {
		t.Fatalf("live marker must not be taken over: took=%v err=%v", took, err)
	}
	later := now.Add(2 * time.Minute)
	took, err = repo.TakeOverExpired("stripe:evt_1", later, later.Add(time.Minute))
	if err != nil || !took {
		t.Fatalf("expired marker should be taken over: took=%v err=%v", took, err)
	}

	purged, err := repo.PurgeExpired(later.Add(2 * time.Minute))
	if err != nil || purged != 1 {
		t.Fatalf("purge: purged=%d err=%v", purged, err)
	}
}
