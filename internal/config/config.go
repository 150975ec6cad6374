package config

import (
	"fmt"
	"strings"

	"github.com/dujiao-next/reconciler/internal/logger"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Queue       QueueConfig       `mapstructure:"queue"`
	CORS        CORSConfig        `mapstructure:"cors"`
	Security    SecurityConfig    `mapstructure:"security"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Payout      PayoutConfig      `mapstructure:"payout"`
	Commission  CommissionConfig  `mapstructure:"commission"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
	Gateways    GatewaysConfig    `mapstructure:"gateways"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

// LogConfig 日志配置
type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerOptions 转换为 logger 配置
func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabasePoolConfig 数据库连接池配置
type DatabasePoolConfig struct {
	MaxOpenConns           int `mapstructure:"max_open_conns"`
	MaxIdleConns           int `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int `mapstructure:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int `mapstructure:"conn_max_idle_time_seconds"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver string             `mapstructure:"driver"` // 数据库驱动（sqlite/postgres）
	DSN    string             `mapstructure:"dsn"`    // 数据库连接串
	Pool   DatabasePoolConfig `mapstructure:"pool"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// QueueConfig 异步队列配置
type QueueConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	Host        string         `mapstructure:"host"`
	Port        int            `mapstructure:"port"`
	Password    string         `mapstructure:"password"`
	DB          int            `mapstructure:"db"`
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// RateLimitConfig 限流规则，任一值为 0 时不限流
type RateLimitConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRequests   int `mapstructure:"max_requests"`
}

// SecurityConfig 接口防护配置
type SecurityConfig struct {
	WebhookRateLimit   RateLimitConfig `mapstructure:"webhook_rate_limit"`
	ReconcileRateLimit RateLimitConfig `mapstructure:"reconcile_rate_limit"`
}

// IdempotencyConfig 幂等标记配置
type IdempotencyConfig struct {
	Driver               string `mapstructure:"driver"` // redis / database / memory
	TTLSeconds           int    `mapstructure:"ttl_seconds"`
	PurgeIntervalSeconds int    `mapstructure:"purge_interval_seconds"`
}

// PayoutConfig 佣金打款配置
type PayoutConfig struct {
	AutoEnabled            bool   `mapstructure:"auto_enabled"`
	Provider               string `mapstructure:"provider"`
	MaxAttempts            int    `mapstructure:"max_attempts"`
	TransferTimeoutSeconds int    `mapstructure:"transfer_timeout_seconds"`
	LeaseSeconds           int    `mapstructure:"lease_seconds"`
}

// CommissionConfig 佣金确认配置
type CommissionConfig struct {
	AutoApprove              bool `mapstructure:"auto_approve"`
	HoldDays                 int  `mapstructure:"hold_days"`
	ApproveIntervalSeconds   int  `mapstructure:"approve_interval_seconds"`
	ApproveBatchSize         int  `mapstructure:"approve_batch_size"`
	ApproveImmediatelyOnPaid bool `mapstructure:"approve_immediately_on_paid"`
}

// ReconcileConfig 对账巡检配置
type ReconcileConfig struct {
	Secret                  string `mapstructure:"secret"`
	Cron                    string `mapstructure:"cron"`
	AffiliateTimeoutSeconds int    `mapstructure:"affiliate_timeout_seconds"`
	TokenMaxAgeSeconds      int    `mapstructure:"token_max_age_seconds"`
}

// GatewaysConfig 支付网关配置，各网关字段由对应支付包自行解析
type GatewaysConfig struct {
	Stripe    map[string]interface{} `mapstructure:"stripe"`
	Paypal    map[string]interface{} `mapstructure:"paypal"`
	Wechatpay map[string]interface{} `mapstructure:"wechatpay"`
}

// TelemetryConfig 指标上报配置
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Endpoint       string  `mapstructure:"endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Environment    string  `mapstructure:"environment"`
	IntervalSecond int     `mapstructure:"interval_seconds"`
	Tracing        bool    `mapstructure:"tracing"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// SetDefaults 设置默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./db/reconciler.db")
	v.SetDefault("database.pool.max_open_conns", 1)
	v.SetDefault("database.pool.max_idle_conns", 1)
	v.SetDefault("database.pool.conn_max_lifetime_seconds", 0)
	v.SetDefault("database.pool.conn_max_idle_time_seconds", 0)
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "rc")
	v.SetDefault("queue.enabled", true)
	v.SetDefault("queue.host", "127.0.0.1")
	v.SetDefault("queue.port", 6379)
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 1)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.queues", map[string]int{
		"default":  10,
		"critical": 5,
	})
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{
		"Content-Type",
		"Content-Length",
		"Authorization",
		"X-Request-ID",
	})
	v.SetDefault("cors.allow_credentials", false)
	v.SetDefault("cors.max_age", 600)
	v.SetDefault("security.webhook_rate_limit.window_seconds", 60)
	v.SetDefault("security.webhook_rate_limit.max_requests", 600)
	v.SetDefault("security.reconcile_rate_limit.window_seconds", 60)
	v.SetDefault("security.reconcile_rate_limit.max_requests", 30)
	v.SetDefault("idempotency.driver", "redis")
	v.SetDefault("idempotency.ttl_seconds", 300)
	v.SetDefault("idempotency.purge_interval_seconds", 600)
	v.SetDefault("payout.auto_enabled", false)
	v.SetDefault("payout.provider", "stripe")
	v.SetDefault("payout.max_attempts", 5)
	v.SetDefault("payout.transfer_timeout_seconds", 15)
	v.SetDefault("payout.lease_seconds", 60)
	v.SetDefault("commission.auto_approve", false)
	v.SetDefault("commission.hold_days", 7)
	v.SetDefault("commission.approve_interval_seconds", 300)
	v.SetDefault("commission.approve_batch_size", 200)
	v.SetDefault("commission.approve_immediately_on_paid", false)
	v.SetDefault("reconcile.secret", "")
	v.SetDefault("reconcile.cron", "@every 15m")
	v.SetDefault("reconcile.affiliate_timeout_seconds", 60)
	v.SetDefault("reconcile.token_max_age_seconds", 300)
	v.SetDefault("gateways.stripe", map[string]interface{}{})
	v.SetDefault("gateways.paypal", map[string]interface{}{})
	v.SetDefault("gateways.wechatpay", map[string]interface{}{})
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.service_name", "reconciler")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.interval_seconds", 30)
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.sample_rate", 0.1)
}

// Load 从 config.yml 加载配置
func Load() *Config {
	v := viper.GetViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")     // 从当前目录查找
	v.AddConfigPath("./")    // 备用路径
	v.AddConfigPath("../")   // 如果从 cmd/server 运行
	v.AddConfigPath("./etc") // etc 文件夹

	SetDefaults(v)

	// 环境变量支持
	v.AutomaticEnv()                                   // 自动读取环境变量
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 将 . 替换为 _ (例如 reconcile.secret -> RECONCILE_SECRET)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		logger.Warnw("config_file_read_failed",
			"error", err,
			"fallback", "env_or_defaults",
		)
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	cfg, err := Decode(v)
	if err != nil {
		logger.Errorw("config_unmarshal_failed", "error", err)
		panic(fmt.Errorf("配置解析失败: %w", err))
	}
	return cfg
}

// Decode 解析配置并做取值兜底
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Idempotency.Driver = strings.ToLower(strings.TrimSpace(c.Idempotency.Driver))
	if c.Idempotency.TTLSeconds <= 0 {
		c.Idempotency.TTLSeconds = 300
	}
	if c.Payout.MaxAttempts <= 0 {
		c.Payout.MaxAttempts = 5
	}
	if c.Payout.TransferTimeoutSeconds <= 0 {
		c.Payout.TransferTimeoutSeconds = 15
	}
	if c.Payout.LeaseSeconds <= 0 {
		c.Payout.LeaseSeconds = 60
	}
	c.Payout.Provider = strings.ToLower(strings.TrimSpace(c.Payout.Provider))
	if c.Commission.HoldDays < 0 {
		c.Commission.HoldDays = 0
	}
	if c.Reconcile.AffiliateTimeoutSeconds <= 0 {
		c.Reconcile.AffiliateTimeoutSeconds = 60
	}
	c.Reconcile.Secret = strings.TrimSpace(c.Reconcile.Secret)
}

// Validate 校验启动必需配置
func (c *Config) Validate() error {
	switch c.Idempotency.Driver {
	case "redis", "database":
	case "memory":
		if c.Server.Mode == "release" {
			return fmt.Errorf("idempotency.driver=memory 仅允许在 debug 模式下使用")
		}
	default:
		return fmt.Errorf("不支持的 idempotency.driver: %s", c.Idempotency.Driver)
	}
	if c.Idempotency.Driver == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("idempotency.driver=redis 需要启用 redis")
	}
	return nil
}
