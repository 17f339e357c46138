/*
 * 应用组装根
 * @author: sun977
 * @date: 2025.11.27
 * @description: 显式依赖装配。
 * 所有组件在这里按依赖顺序构造并注入，不使用包级单例。
 * 启动顺序：基础设施(MySQL/Redis/RabbitMQ拓扑) -> 服务装配 ->
 * 消费者(监督器启动协议) -> 监控(心跳/告警) -> 实时桥 -> HTTP服务。
 * 停止顺序与启动相反，消费者先停保证在途消息处理完整。
 */

package master

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"neotasker/internal/config"
	"neotasker/internal/model"
	"neotasker/internal/pkg/database"
	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/mq"
	"neotasker/internal/pkg/utils"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"
	agentsvc "neotasker/internal/service/agent"
	"neotasker/internal/service/fabric"
	"neotasker/internal/service/monitor"
	"neotasker/internal/service/plugin"
	"neotasker/internal/service/realtime"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App 主服务应用
type App struct {
	cfg *config.Config

	db          *gorm.DB
	redisClient *redis.Client
	mqManager   *mq.RabbitMQManager

	registry   agentsvc.Registry
	master     agentsvc.MasterService
	supervisor agentsvc.Supervisor
	heartbeat  monitor.HeartbeatMonitor
	alerts     monitor.AlertEngine
	hub        *realtime.Hub
	bridge     *realtime.Bridge
	cache      *redisrepo.TieredCacheRepository
	plugins    *plugin.Registry

	httpServer *http.Server
}

// NewApp 装配主服务应用
func NewApp(cfg *config.Config) (*App, error) {
	// 基础设施
	db, err := database.NewMySQLConnection(&cfg.Database.MySQL)
	if err != nil {
		return nil, fmt.Errorf("failed to init mysql: %w", err)
	}
	if err := db.AutoMigrate(
		&model.Task{},
		&model.Agent{},
		&model.AgentAssignment{},
		&model.AuditLog{},
		&model.Alert{},
		&model.SystemSetting{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	redisClient, err := database.NewRedisConnection(&cfg.Database.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}

	mqManager := mq.NewRabbitMQManager(&cfg.RabbitMQ)
	mqManager.SetTopologyFunc(fabric.AssertTopology)
	if err := mqManager.Connect(); err != nil {
		return nil, fmt.Errorf("failed to init rabbitmq: %w", err)
	}

	// 仓库层
	taskRepo := mysqlrepo.NewTaskRepository(db)
	agentRepo := mysqlrepo.NewAgentRepository(db)
	assignmentRepo := mysqlrepo.NewAssignmentRepository(db)
	auditRepo := mysqlrepo.NewAuditRepository(db)
	alertRepo := mysqlrepo.NewAlertRepository(db)
	settingRepo := mysqlrepo.NewSettingRepository(db)
	statusRepo := redisrepo.NewAgentStatusRepository(redisClient)
	pubsubRepo := redisrepo.NewPubSubRepository(redisClient)
	lockRepo := redisrepo.NewLockRepository(redisClient)
	cacheRepo := redisrepo.NewTieredCacheRepository(redisClient, 5*time.Second)

	// 服务层
	publisher := fabric.NewPublisher(mqManager)
	registry := agentsvc.NewRegistry(cfg.Agent.PluginsPath)
	masterService := agentsvc.NewMasterService(
		taskRepo, assignmentRepo, auditRepo, statusRepo, pubsubRepo, publisher, registry)
	supervisor := agentsvc.NewSupervisor(
		&cfg.Agent, mqManager, masterService, registry, publisher,
		statusRepo, pubsubRepo, settingRepo, agentRepo)
	mqManager.SetConsumerFunc(supervisor.RebuildConsumers)

	// 监控
	collector := monitor.NewCollector(taskRepo, statusRepo, mqManager)
	// 告警引擎在装配时快照可用渠道，插件初始化须先行
	pluginRegistry := plugin.NewRegistry(cfg.Agent.PluginsPath)
	pluginRegistry.InitializeAll()
	alertEngine := monitor.NewAlertEngine(
		cfg.Agent.PluginsPath, cfg.Monitor.AlertCronSpec,
		collector, alertRepo, pubsubRepo, pluginRegistry.Notifiers())
	heartbeatMonitor := monitor.NewHeartbeatMonitor(
		&cfg.Agent, cfg.Monitor.HeartbeatCheckInterval, utils.GenerateUUID(),
		statusRepo, pubsubRepo, lockRepo)

	// 实时层
	hub := realtime.NewHub(&cfg.WebSocket)
	bridge := realtime.NewBridge(pubsubRepo, hub)

	app := &App{
		cfg:         cfg,
		db:          db,
		redisClient: redisClient,
		mqManager:   mqManager,
		registry:    registry,
		master:      masterService,
		supervisor:  supervisor,
		heartbeat:   heartbeatMonitor,
		alerts:      alertEngine,
		hub:         hub,
		bridge:      bridge,
		cache:       cacheRepo,
		plugins:     pluginRegistry,
	}

	router := app.setupRouter(alertRepo, statusRepo, taskRepo)
	app.httpServer = &http.Server{
		Addr:           cfg.Server.GetAddress(),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	return app, nil
}

// Start 按固定顺序启动全部组件
func (a *App) Start(ctx context.Context) error {
	if err := a.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	if err := a.heartbeat.Start(ctx); err != nil {
		return fmt.Errorf("failed to start heartbeat monitor: %w", err)
	}
	if err := a.alerts.Start(); err != nil {
		return fmt.Errorf("failed to start alert engine: %w", err)
	}
	if a.cfg.WebSocket.Enabled {
		go a.hub.Run()
		if err := a.bridge.Start(ctx); err != nil {
			return fmt.Errorf("failed to start event bridge: %w", err)
		}
	}

	go func() {
		logger.LogSystemEvent("http", "listening",
			fmt.Sprintf("HTTP server listening on %s", a.cfg.Server.GetAddress()),
			logrus.InfoLevel, nil)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed: %v", err)
		}
	}()
	return nil
}

// Stop 按与启动相反的顺序停止组件
func (a *App) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.LogError(fmt.Errorf("http shutdown failed: %w", err), "", "app", "", nil)
	}

	if a.cfg.WebSocket.Enabled {
		a.bridge.Stop()
		a.hub.Shutdown()
	}
	a.alerts.Stop()
	a.heartbeat.Stop()
	if err := a.supervisor.Stop(); err != nil {
		logger.LogError(err, "", "app", "", nil)
	}
	a.plugins.DestroyAll()

	if err := a.mqManager.Close(); err != nil {
		logger.LogError(err, "", "app", "", nil)
	}
	if err := a.redisClient.Close(); err != nil {
		logger.LogError(fmt.Errorf("redis close failed: %w", err), "", "app", "", nil)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			logger.LogError(fmt.Errorf("mysql close failed: %w", err), "", "app", "", nil)
		}
	}

	logger.LogSystemEvent("app", "stopped", "Application stopped", logrus.InfoLevel, nil)
	return nil
}

// ReloadRegistry 热重载Agent配置注册表，由配置监听器触发
func (a *App) ReloadRegistry() error {
	return a.registry.Reload()
}
