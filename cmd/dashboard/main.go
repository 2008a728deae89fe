package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"market-dashboard-go/config"
	"market-dashboard-go/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/dashboard.yaml", "配置文件路径")
	checkOnly := flag.Bool("check", false, "只校验配置后退出")
	flag.Parse()

	if *checkOnly {
		if _, err := config.LoadWithEnvOverrides(*cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "配置无效: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("config ok")
		return
	}

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建组件失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	notify(daemon.SdNotifyReady)
	go watchdog(ctx, c)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigs {
		if sig == syscall.SIGHUP {
			// 手动重载：与文件监听走同一路径
			cfg, err := config.LoadWithEnvOverrides(*cfgPath)
			if err != nil {
				log.Printf("重载配置失败: %v", err)
				continue
			}
			c.ApplyConfig(cfg)
			continue
		}
		break
	}

	notify(daemon.SdNotifyStopping)
	cancel()
	if err := c.Stop(); err != nil {
		log.Printf("停止时出错: %v", err)
		os.Exit(1)
	}
}

// watchdog 在 systemd 开启 WatchdogSec 时按一半周期上报存活；组件不健康时停止上报。
func watchdog(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				log.Printf("health check failed: %v", err)
				continue
			}
			notify(daemon.SdNotifyWatchdog)
		}
	}
}

func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Printf("sd_notify %s: %v", state, err)
	}
}
