package gateway

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/payment/paypal"
	"github.com/dujiao-next/reconciler/internal/payment/stripe"
	"github.com/dujiao-next/reconciler/internal/payment/wechatpay"
)

// Registry 按名称查找网关
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry 创建网关注册表
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		r.Register(gw)
	}
	return r
}

// Register 注册网关，同名覆盖
func (r *Registry) Register(gw Gateway) {
	if gw == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[strings.ToLower(gw.Name())] = gw
}

// Get 获取网关
func (r *Registry) Get(name string) (Gateway, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, name)
	}
	return gw, nil
}

// Names 已注册网关名称
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry 按配置装配网关，未配置的网关跳过
func BuildRegistry(cfg config.GatewaysConfig) (*Registry, error) {
	registry := NewRegistry()
	if len(cfg.Stripe) > 0 {
		parsed, err := stripe.ParseConfig(cfg.Stripe)
		if err == nil {
			err = stripe.ValidateConfig(parsed)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, constants.GatewayStripe, err)
		}
		registry.Register(NewStripe(parsed))
	}
	if len(cfg.Paypal) > 0 {
		parsed, err := paypal.ParseConfig(cfg.Paypal)
		if err == nil {
			err = paypal.ValidateConfig(parsed)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, constants.GatewayPaypal, err)
		}
		registry.Register(NewPaypal(parsed))
	}
	if len(cfg.Wechatpay) > 0 {
		parsed, err := wechatpay.ParseConfig(cfg.Wechatpay)
		if err == nil {
			err = wechatpay.ValidateConfig(parsed)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, constants.GatewayWechatpay, err)
		}
		registry.Register(NewWechatpay(parsed, nil))
	}
	return registry, nil
}
