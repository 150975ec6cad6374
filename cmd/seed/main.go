package main

import (
	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/repository"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	affiliateRepo := repository.NewAffiliateRepository(models.DB)
	couponRepo := repository.NewCouponRepository(models.DB)

	// 推广用户
	profiles := []models.AffiliateProfile{
		{
			UserID:           1001,
			AffiliateCode:    "DEMO10",
			Status:           constants.AffiliateStatusActive,
			CommissionType:   constants.CommissionTypePercent,
			CommissionRate:   models.MustMoney("10"),
			PayoutProvider:   constants.GatewayStripe,
			PayoutAccountRef: "acct_demo10",
			PayoutsEnabled:   true,
		},
		{
			UserID:           1002,
			AffiliateCode:    "FLAT5",
			Status:           constants.AffiliateStatusActive,
			CommissionType:   constants.CommissionTypeFlat,
			FlatAmount:       models.MustMoney("5.00"),
			PayoutProvider:   constants.GatewayPaypal,
			PayoutAccountRef: "payee@example.com",
			PayoutsEnabled:   true,
		},
		{
			UserID:         1003,
			AffiliateCode:  "PAUSED",
			Status:         constants.AffiliateStatusSuspended,
			CommissionType: constants.CommissionTypePercent,
			CommissionRate: models.MustMoney("15"),
		},
	}
	for i := range profiles {
		profile := profiles[i]
		existing, err := affiliateRepo.GetProfileByCode(profile.AffiliateCode)
		if err != nil {
			stdLog.Printf("Failed to load affiliate %s: %v", profile.AffiliateCode, err)
			continue
		}
		if existing != nil {
			stdLog.Printf("Affiliate already exists: %s", profile.AffiliateCode)
			continue
		}
		if err := affiliateRepo.CreateProfile(&profile); err != nil {
			stdLog.Printf("Failed to create affiliate %s: %v", profile.AffiliateCode, err)
			continue
		}
		stdLog.Printf("Created affiliate: %s", profile.AffiliateCode)
	}

	// 优惠券
	coupons := []models.Coupon{
		{Code: "WELCOME5", Type: constants.CouponTypeFixed, Value: models.MustMoney("5.00"), UsageLimit: 100, IsActive: true},
		{Code: "SAVE20", Type: constants.CouponTypePercent, Value: models.MustMoney("20"), MaxDiscount: models.MustMoney("30.00"), IsActive: true},
	}
	for i := range coupons {
		coupon := coupons[i]
		existing, err := couponRepo.GetByCode(coupon.Code)
		if err != nil {
			stdLog.Printf("Failed to load coupon %s: %v", coupon.Code, err)
			continue
		}
		if existing != nil {
			stdLog.Printf("Coupon already exists: %s", coupon.Code)
			continue
		}
		if err := couponRepo.Create(&coupon); err != nil {
			stdLog.Printf("Failed to create coupon %s: %v", coupon.Code, err)
			continue
		}
		stdLog.Printf("Created coupon: %s", coupon.Code)
	}

	stdLog.Printf("Seed completed")
}
