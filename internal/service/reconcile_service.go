package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/gateway"
	"github.com/dujiao-next/reconciler/internal/metrics"
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/repository"
	"github.com/dujiao-next/reconciler/internal/telemetry"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
)

const defaultTokenMaxAge = 5 * time.Minute

// SweepError 推广用户级别的巡检错误
type SweepError struct {
	AffiliateCode string `json:"affiliateCode"`
	Error         string `json:"error"`
}

// SweepSummary 巡检汇总
type SweepSummary struct {
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Errors    []SweepError `json:"errors"`
}

// ReconcileService 对账巡检：校正收款能力并重新驱动待打款佣金
type ReconcileService struct {
	affiliateRepo repository.AffiliateRepository
	payouts       *PayoutEngine
	gateways      *gateway.Registry
	metrics       *metrics.Metrics
	cfg           config.ReconcileConfig
	payoutCfg     config.PayoutConfig
	now           func() time.Time

	// 同一进程内巡检串行执行
	mu sync.Mutex
}

// NewReconcileService 创建对账巡检服务
func NewReconcileService(
	affiliateRepo repository.AffiliateRepository,
	payouts *PayoutEngine,
	gateways *gateway.Registry,
	m *metrics.Metrics,
	cfg config.ReconcileConfig,
	payoutCfg config.PayoutConfig,
) *ReconcileService {
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	if cfg.AffiliateTimeoutSeconds <= 0 {
		cfg.AffiliateTimeoutSeconds = 60
	}
	return &ReconcileService{
		affiliateRepo: affiliateRepo,
		payouts:       payouts,
		gateways:      gateways,
		metrics:       m,
		cfg:           cfg,
		payoutCfg:     payoutCfg,
		now:           time.Now,
	}
}

// Configured 是否配置了共享密钥
func (s *ReconcileService) Configured() bool {
	return s.cfg.Secret != ""
}

// Run 执行一轮巡检，未配置密钥时拒绝运行
func (s *ReconcileService) Run(ctx context.Context, trigger string) (summary *SweepSummary, err error) {
	ctx, span := telemetry.StartSpan(ctx, "reconcile.sweep", attribute.String("reconcile.trigger", trigger))
	defer func() {
		if summary != nil {
			telemetry.AddSpanAttributes(span,
				attribute.Int("reconcile.processed", summary.Processed),
				attribute.Int("reconcile.succeeded", summary.Succeeded),
				attribute.Int("reconcile.failed", summary.Failed),
				attribute.Int("reconcile.skipped", summary.Skipped),
			)
		}
		telemetry.EndSpan(span, err)
	}()
	log := ledgerLogger(ctx, "trigger", trigger)
	if !s.Configured() {
		log.Errorw("reconcile_secret_missing")
		return nil, ErrReconcileSecretMissing
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	summary = &SweepSummary{Errors: []SweepError{}}
	profiles, err := s.affiliateRepo.ListPayoutCandidates(repository.AffiliatePayoutCandidateFilter{})
	if err != nil {
		s.metrics.RecordSweep(ctx, trigger, false, time.Since(started))
		log.Errorw("reconcile_list_candidates_failed", "error", err)
		return nil, err
	}
	log.Infow("reconcile_sweep_started", "candidates", len(profiles))

	for i := range profiles {
		if err := ctx.Err(); err != nil {
			summary.Errors = append(summary.Errors, SweepError{AffiliateCode: profiles[i].AffiliateCode, Error: err.Error()})
			break
		}
		summary.Processed++
		s.sweepAffiliate(ctx, &profiles[i], trigger, summary)
	}

	s.metrics.RecordSweep(ctx, trigger, len(summary.Errors) == 0, time.Since(started))
	log.Infow("reconcile_sweep_finished",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"errors", len(summary.Errors),
		"duration", time.Since(started).String(),
	)
	return summary, nil
}

func (s *ReconcileService) sweepAffiliate(ctx context.Context, profile *models.AffiliateProfile, trigger string, summary *SweepSummary) {
	log := ledgerLogger(ctx, "trigger", trigger, "affiliate_profile_id", profile.ID, "affiliate_code", profile.AffiliateCode)
	ctx, span := telemetry.StartSpan(ctx, "reconcile.affiliate",
		attribute.Int64("affiliate.profile_id", int64(profile.ID)),
		attribute.String("affiliate.code", profile.AffiliateCode),
	)
	var spanErr error
	defer func() {
		if r := recover(); r != nil {
			spanErr = fmt.Errorf("panic: %v", r)
			log.Errorw("reconcile_affiliate_panic", "panic", r)
			summary.Errors = append(summary.Errors, SweepError{
				AffiliateCode: profile.AffiliateCode,
				Error:         fmt.Sprintf("panic: %v", r),
			})
		}
		telemetry.EndSpan(span, spanErr)
	}()

	affCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.AffiliateTimeoutSeconds)*time.Second)
	defer cancel()

	if err := s.syncCapabilities(affCtx, profile); err != nil {
		spanErr = err
		log.Warnw("reconcile_capability_check_failed", "error", err)
		summary.Errors = append(summary.Errors, SweepError{AffiliateCode: profile.AffiliateCode, Error: err.Error()})
		return
	}
	if !profile.PayoutsEnabled {
		summary.Skipped++
		return
	}
	result, err := s.payouts.PayAffiliate(affCtx, profile, trigger)
	if result != nil {
		summary.Succeeded += result.Succeeded
		summary.Failed += result.Failed
		summary.Skipped += result.Skipped
	}
	if err != nil {
		spanErr = err
		log.Warnw("reconcile_affiliate_failed", "error", err)
		summary.Errors = append(summary.Errors, SweepError{AffiliateCode: profile.AffiliateCode, Error: err.Error()})
	}
}

// syncCapabilities 以网关侧收款能力为准校正本地标记，网关不支持查询时保留本地标记
func (s *ReconcileService) syncCapabilities(ctx context.Context, profile *models.AffiliateProfile) error {
	providerName := strings.TrimSpace(profile.PayoutProvider)
	if providerName == "" {
		providerName = s.payoutCfg.Provider
	}
	gw, err := s.gateways.Get(providerName)
	if err != nil {
		return err
	}
	caps, err := gw.GetAccountCapabilities(ctx, profile.PayoutAccountRef)
	if err != nil {
		if errors.Is(err, gateway.ErrUnsupported) {
			return nil
		}
		return err
	}
	if caps == nil || caps.PayoutsEnabled == profile.PayoutsEnabled {
		return nil
	}
	now := s.now()
	if err := s.affiliateRepo.UpdatePayoutsEnabled(profile.ID, caps.PayoutsEnabled, now); err != nil {
		return err
	}
	ledgerLogger(ctx, "affiliate_profile_id", profile.ID, "affiliate_code", profile.AffiliateCode).Infow("affiliate_payouts_enabled_changed",
		"from", profile.PayoutsEnabled,
		"to", caps.PayoutsEnabled,
		"details_submitted", caps.DetailsSubmitted,
	)
	profile.PayoutsEnabled = caps.PayoutsEnabled
	profile.PayoutCheckedAt = &now
	return nil
}

// Authenticate 校验触发凭证：共享密钥本身或以其签名的短期 JWT
func (s *ReconcileService) Authenticate(credential string) error {
	if !s.Configured() {
		return ErrReconcileSecretMissing
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ErrReconcileUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(credential), []byte(s.cfg.Secret)) == 1 {
		return nil
	}
	if strings.Count(credential, ".") != 2 {
		return ErrReconcileUnauthorized
	}
	return s.verifyToken(credential)
}

func (s *ReconcileService) verifyToken(tokenString string) error {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(constants.ReconcileTokenSubject),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrReconcileUnauthorized, err)
	}
	if claims.IssuedAt == nil || s.now().Sub(claims.IssuedAt.Time) > s.tokenMaxAge() {
		return fmt.Errorf("%w: token too old", ErrReconcileUnauthorized)
	}
	return nil
}

// IssueToken 签发短期触发凭证，供调度方使用
func (s *ReconcileService) IssueToken(now time.Time) (string, error) {
	if !s.Configured() {
		return "", ErrReconcileSecretMissing
	}
	if now.IsZero() {
		now = s.now()
	}
	claims := jwt.RegisteredClaims{
		Subject:   constants.ReconcileTokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenMaxAge())),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
}

func (s *ReconcileService) tokenMaxAge() time.Duration {
	if s.cfg.TokenMaxAgeSeconds > 0 {
		return time.Duration(s.cfg.TokenMaxAgeSeconds) * time.Second
	}
	return defaultTokenMaxAge
}
