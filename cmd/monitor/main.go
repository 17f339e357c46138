/*
 * 监控服务入口
 * @author: sun977
 * @date: 2025.11.27
 * @description: 独立部署的监控进程：心跳检测 + 告警评估。
 * 与主服务共享Redis状态与MySQL告警表，经分布式锁避免多实例重复检测。
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"neotasker/internal/config"
	"neotasker/internal/model"
	"neotasker/internal/pkg/database"
	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/mq"
	"neotasker/internal/pkg/utils"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"
	"neotasker/internal/service/fabric"
	"neotasker/internal/service/monitor"
	"neotasker/internal/service/plugin"
)

func main() {
	configPath := os.Getenv("NEOTASKER_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs"
	}

	cfg, err := config.LoadConfig(configPath, config.GetEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewMySQLConnection(&cfg.Database.MySQL)
	if err != nil {
		logger.Fatalf("failed to init mysql: %v", err)
	}
	if err := db.AutoMigrate(&model.Alert{}); err != nil {
		logger.Fatalf("failed to migrate alert schema: %v", err)
	}

	redisClient, err := database.NewRedisConnection(&cfg.Database.Redis)
	if err != nil {
		logger.Fatalf("failed to init redis: %v", err)
	}

	mqManager := mq.NewRabbitMQManager(&cfg.RabbitMQ)
	mqManager.SetTopologyFunc(fabric.AssertTopology)
	if err := mqManager.Connect(); err != nil {
		logger.Fatalf("failed to init rabbitmq: %v", err)
	}

	taskRepo := mysqlrepo.NewTaskRepository(db)
	alertRepo := mysqlrepo.NewAlertRepository(db)
	statusRepo := redisrepo.NewAgentStatusRepository(redisClient)
	pubsubRepo := redisrepo.NewPubSubRepository(redisClient)
	lockRepo := redisrepo.NewLockRepository(redisClient)

	collector := monitor.NewCollector(taskRepo, statusRepo, mqManager)
	pluginRegistry := plugin.NewRegistry(cfg.Agent.PluginsPath)
	pluginRegistry.InitializeAll()
	alertEngine := monitor.NewAlertEngine(
		cfg.Agent.PluginsPath, cfg.Monitor.AlertCronSpec,
		collector, alertRepo, pubsubRepo, pluginRegistry.Notifiers())
	heartbeatMonitor := monitor.NewHeartbeatMonitor(
		&cfg.Agent, cfg.Monitor.HeartbeatCheckInterval, utils.GenerateUUID(),
		statusRepo, pubsubRepo, lockRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := heartbeatMonitor.Start(ctx); err != nil {
		logger.Fatalf("failed to start heartbeat monitor: %v", err)
	}
	if err := alertEngine.Start(); err != nil {
		logger.Fatalf("failed to start alert engine: %v", err)
	}
	logger.Infof("neotasker monitor started, env=%s", cfg.App.Environment)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	alertEngine.Stop()
	heartbeatMonitor.Stop()
	pluginRegistry.DestroyAll()
	cancel()

	if err := mqManager.Close(); err != nil {
		logger.Errorf("rabbitmq close failed: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Errorf("redis close failed: %v", err)
	}
}
