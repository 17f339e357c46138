/*
 * 主服务入口
 * @author: sun977
 * @date: 2025.11.27
 * @description: 配置加载 -> 日志初始化 -> 应用装配 -> 启动 -> 信号等待 -> 优雅停止。
 * 配置文件变更时热更新日志级别并重载Agent注册表。
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"neotasker/internal/app/master"
	"neotasker/internal/config"
	"neotasker/internal/pkg/logger"
)

func main() {
	configPath := os.Getenv("NEOTASKER_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs"
	}

	env := config.GetEnv()
	cfg, err := config.LoadConfig(configPath, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	loggerManager, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	app, err := master.NewApp(cfg)
	if err != nil {
		logger.Fatalf("failed to assemble application: %v", err)
	}

	// 配置热重载：日志配置变更即时生效，Agent画像整表重载
	watcher, err := config.NewConfigWatcher(configPath, env)
	if err != nil {
		logger.Warnf("config watcher unavailable: %v", err)
	} else {
		watcher.AddCallback(func(oldCfg, newCfg *config.Config) error {
			if err := loggerManager.UpdateConfig(&newCfg.Log); err != nil {
				logger.Errorf("failed to apply new log config: %v", err)
			}
			if err := app.ReloadRegistry(); err != nil {
				logger.Errorf("failed to reload agent registry: %v", err)
			}
			return nil
		})
		if err := watcher.Start(); err != nil {
			logger.Warnf("failed to start config watcher: %v", err)
		}
		defer watcher.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		logger.Fatalf("failed to start application: %v", err)
	}
	logger.Infof("neotasker master started, env=%s", cfg.App.Environment)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	cancel()
	if err := app.Stop(); err != nil {
		logger.Errorf("shutdown finished with errors: %v", err)
	}
}
