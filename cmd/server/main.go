package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/dujiao-next/reconciler/internal/app"
	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	ansiReset     = "\033[0m"
	ansiBold      = "\033[1m"
	ansiDim       = "\033[2m"
	ansiCyan      = "\033[36m"
	ansiBrightMag = "\033[95m"
)

func main() {
	// 解析命令行参数
	var mode string
	var issueToken bool
	flag.StringVar(&mode, "mode", app.ModeAll, "启动模式: all (默认), api, worker")
	flag.BoolVar(&issueToken, "issue-token", false, "签发一次性对账触发凭证后退出")
	flag.Parse()

	// 加载配置
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	if err := cfg.Validate(); err != nil {
		stdLog.Fatalf("配置校验失败: %v", err)
	}

	if issueToken {
		reconcile := service.NewReconcileService(nil, nil, nil, nil, cfg.Reconcile, cfg.Payout)
		token, err := reconcile.IssueToken(time.Now())
		if err != nil {
			stdLog.Fatalf("签发对账凭证失败: %v", err)
		}
		fmt.Println(token)
		return
	}

	printStartupBanner()

	if cfg.Reconcile.Secret == "" {
		stdLog.Printf("警告: 未配置 reconcile.secret，对账巡检将拒绝执行")
	} else if isWeakSecret(cfg.Reconcile.Secret) {
		if cfg.Server.Mode == "release" {
			stdLog.Fatalf("reconcile secret 过弱或仍为默认值，请在生产环境中配置强随机密钥")
		}
		stdLog.Printf("警告: reconcile secret 过弱或仍为默认值，建议在生产环境中更换")
	}

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := app.Run(app.Options{
		Config:  cfg,
		Logger:  logger.S(),
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Mode:    mode,
	}); err != nil {
		stdLog.Fatalf("服务运行失败: %v", err)
	}
}

func printStartupBanner() {
	fmt.Println(ansiBrightMag + "╔══════════════════════════════════════════════════════════════════════╗" + ansiReset)
	fmt.Println(ansiBrightMag + "║               Dujiao-Next Reconciler 启动中                          ║" + ansiReset)
	fmt.Println(ansiBrightMag + "╚══════════════════════════════════════════════════════════════════════╝" + ansiReset)
	fmt.Println(ansiCyan + ansiBold + "订单对账 · 佣金打款 · 支付回调" + ansiReset)
	fmt.Println(ansiDim + "--------------------------------------------------------------" + ansiReset)
}

func isWeakSecret(secret string) bool {
	if len(secret) < 32 {
		return true
	}
	normalized := strings.ToLower(secret)
	if strings.Contains(normalized, "change-me") ||
		strings.Contains(normalized, "change-in-production") ||
		strings.Contains(normalized, "your-secret-key") {
		return true
	}
	return false
}
