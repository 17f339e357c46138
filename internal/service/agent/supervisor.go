/*
 * Agent监督器
 * @author: sun977
 * @date: 2025.11.24
 * @description: 消费者生命周期管理。
 * 启动协议固定：先挂主编排者任务消费者，再挂结果消费者，
 * 最后按消费模式上限依次挂专家消费者。心跳发布器对所有活跃角色
 * 周期性写入带TTL的心跳标记并刷新状态哈希。
 * @func:
 * 1.Start/Stop 启动与停止全部消费者
 * 2.SetConsumptionMode 切换消费模式(持久化,重启消费者后生效)
 * 3.心跳发布循环
 * 4.重连后消费者重建
 */

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"neotasker/internal/config"
	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
	"neotasker/internal/pkg/mq"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"
	"neotasker/internal/service/fabric"
	"neotasker/internal/service/realtime"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Supervisor Agent监督器接口
type Supervisor interface {
	// Start 按启动协议挂载全部消费者并启动心跳发布
	Start(ctx context.Context) error
	// Stop 停止心跳发布与全部消费者
	Stop() error
	// SetConsumptionMode 切换消费模式
	SetConsumptionMode(ctx context.Context, mode model.ConsumptionMode) error
	// GetConsumptionMode 获取当前消费模式
	GetConsumptionMode() model.ConsumptionMode
	// ActiveRoles 返回当前有消费者在运行的角色列表
	ActiveRoles() []model.AgentRole
	// RebuildConsumers 连接重建后重新挂载全部消费者
	RebuildConsumers() error
}

// supervisor Agent监督器实现
type supervisor struct {
	cfg          *config.AgentConfig
	mqManager    *mq.RabbitMQManager
	master       MasterService
	registry     Registry
	runtimeTable map[model.AgentRole]RoleRuntime
	publisher    fabric.Publisher
	statusRepo   *redisrepo.AgentStatusRepository
	pubsubRepo   *redisrepo.PubSubRepository
	settingRepo  *mysqlrepo.SettingRepository
	agentRepo    *mysqlrepo.AgentRepository

	mu        sync.Mutex
	mode      model.ConsumptionMode
	consumers []*fabric.Consumer
	running   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor 创建Agent监督器实例
func NewSupervisor(
	cfg *config.AgentConfig,
	mqManager *mq.RabbitMQManager,
	master MasterService,
	registry Registry,
	publisher fabric.Publisher,
	statusRepo *redisrepo.AgentStatusRepository,
	pubsubRepo *redisrepo.PubSubRepository,
	settingRepo *mysqlrepo.SettingRepository,
	agentRepo *mysqlrepo.AgentRepository,
) Supervisor {
	return &supervisor{
		cfg:          cfg,
		mqManager:    mqManager,
		master:       master,
		registry:     registry,
		runtimeTable: BuildRuntimeTable(registry),
		publisher:    publisher,
		statusRepo:   statusRepo,
		pubsubRepo:   pubsubRepo,
		settingRepo:  settingRepo,
		agentRepo:    agentRepo,
	}
}

// Start 按启动协议挂载消费者
// 顺序固定：主编排者队列 -> 结果队列 -> 专家队列(按模式上限)
func (s *supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("supervisor already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mode = s.resolveMode(s.ctx)

	if err := s.startConsumersLocked(); err != nil {
		s.cancel()
		return err
	}

	s.running = true
	s.wg.Add(1)
	go s.heartbeatLoop()

	logger.LogSystemEvent("supervisor", "started",
		"Supervisor started", logrus.InfoLevel, map[string]interface{}{
			"mode":      string(s.mode),
			"consumers": len(s.consumers),
		})
	return nil
}

// resolveMode 解析启动时的消费模式：持久化设置优先，其次配置默认值
func (s *supervisor) resolveMode(ctx context.Context) model.ConsumptionMode {
	if value, err := s.settingRepo.GetSetting(ctx, model.SettingConsumptionMode); err == nil && value != "" {
		mode := model.ConsumptionMode(value)
		if mode.IsValid() {
			return mode
		}
	}

	mode := model.ConsumptionMode(s.cfg.DefaultMode)
	if !mode.IsValid() {
		mode = model.ModeStandard
	}
	return mode
}

// startConsumersLocked 挂载全部消费者，调用方持锁
func (s *supervisor) startConsumersLocked() error {
	s.consumers = nil

	// 1.主编排者任务消费者，必须最先就绪
	masterConsumer := fabric.NewConsumer(s.mqManager,
		fabric.RoleQueueName(model.RoleMasterOrchestrator), "master-orchestrator",
		s.handleMasterTask)
	if err := masterConsumer.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start master consumer: %w", err)
	}
	s.consumers = append(s.consumers, masterConsumer)

	// 2.结果消费者
	resultsConsumer := fabric.NewConsumer(s.mqManager,
		fabric.QueueResults, "results-master", s.handleResultDelivery)
	if err := resultsConsumer.Start(s.ctx); err != nil {
		return fmt.Errorf("failed to start results consumer: %w", err)
	}
	s.consumers = append(s.consumers, resultsConsumer)

	// 3.专家消费者，数量受消费模式上限约束
	limit := s.mode.SpecialistLimit()
	started := 0
	for _, role := range model.SpecialistRoles() {
		if started >= limit {
			break
		}
		runtime, ok := s.runtimeTable[role]
		if !ok {
			continue
		}

		consumer := s.buildSpecialistConsumer(role, runtime)
		if err := consumer.Start(s.ctx); err != nil {
			return fmt.Errorf("failed to start consumer for %s: %w", role, err)
		}
		s.consumers = append(s.consumers, consumer)
		started++

		s.markIdle(role)
	}
	s.markIdle(model.RoleMasterOrchestrator)

	return nil
}

// buildSpecialistConsumer 构造专家队列消费者
// 执行信封保证一条任务恰好产出一条结果消息
func (s *supervisor) buildSpecialistConsumer(role model.AgentRole, runtime RoleRuntime) *fabric.Consumer {
	profile := s.registry.GetProfile(role)
	envelope := NewEnvelope(runtime, profile.TaskTimeout)

	handler := func(ctx context.Context, delivery amqp.Delivery) error {
		var msg model.TaskMessage
		if err := json.Unmarshal(delivery.Body, &msg); err != nil {
			return fmt.Errorf("malformed task message: %w", err)
		}

		s.setCurrentTask(role, msg.TaskID)
		result := envelope.Run(ctx, &msg)
		s.setCurrentTask(role, "")

		// 结果发布失败时nack任务消息，经死信队列兜底
		if err := s.publisher.PublishResult(ctx, result); err != nil {
			return fmt.Errorf("failed to publish result for task %s: %w", msg.TaskID, err)
		}
		return nil
	}

	return fabric.NewConsumer(s.mqManager, fabric.RoleQueueName(role), role.Key(), handler)
}

// handleMasterTask 主编排者队列消息处理
// 路由到主编排者的任务直接走委派流程(子任务分解场景)。
// 一条消息恰好产出一条结果：委派完成后发布委派回执
func (s *supervisor) handleMasterTask(ctx context.Context, delivery amqp.Delivery) error {
	var msg model.TaskMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		return fmt.Errorf("malformed task message: %w", err)
	}

	task := &model.Task{
		TaskID:        msg.TaskID,
		ProjectID:     msg.ProjectID,
		ParentTaskID:  msg.ParentTaskID,
		Title:         msg.Title,
		Description:   msg.Description,
		Type:          msg.Type,
		Priority:      msg.Priority,
		Input:         msg.Input,
		CorrelationID: msg.CorrelationID,
		Attempt:       msg.Attempt - 1,
	}
	if err := s.master.DelegateTask(ctx, task); err != nil {
		return err
	}

	role := ResolveRole(task.Type)
	result := &model.ResultMessage{
		TaskID:        task.TaskID,
		ProjectID:     task.ProjectID,
		AgentRole:     model.RoleMasterOrchestrator,
		Success:       true,
		Output: model.JSONMap{
			"delegatedTo": role.String(),
			"routingKey":  fabric.TaskRoutingKey(role, task.Priority),
		},
		CorrelationID: task.CorrelationID,
		CompletedAt:   time.Now(),
	}
	if err := s.publisher.PublishResult(ctx, result); err != nil {
		return fmt.Errorf("failed to publish delegation result for task %s: %w", task.TaskID, err)
	}
	return nil
}

// handleResultDelivery 结果队列消息处理
func (s *supervisor) handleResultDelivery(ctx context.Context, delivery amqp.Delivery) error {
	var result model.ResultMessage
	if err := json.Unmarshal(delivery.Body, &result); err != nil {
		return fmt.Errorf("malformed result message: %w", err)
	}
	return s.master.HandleResult(ctx, &result)
}

// heartbeatLoop 心跳发布循环
// 周期性为所有活跃角色写入带TTL的心跳标记，标记TTL等于心跳超时阈值
func (s *supervisor) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	// 启动后立即发布一轮，不等首个周期
	s.publishHeartbeats()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishHeartbeats()
		}
	}
}

// publishHeartbeats 为全部活跃角色发布心跳标记
func (s *supervisor) publishHeartbeats() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	for _, role := range s.ActiveRoles() {
		info, err := s.statusRepo.GetStatus(ctx, role)
		var taskCount int64
		if err == nil && info != nil {
			taskCount = info.TasksHandled
		}

		mark := &model.HeartbeatMark{
			Role:      role,
			Timestamp: now,
			TaskCount: taskCount,
		}
		if err := s.statusRepo.SetHeartbeat(ctx, mark, s.cfg.HeartbeatTimeout); err != nil {
			logger.LogError(err, "", "supervisor", "", map[string]interface{}{
				"role": role.String(),
			})
			continue
		}
		if err := s.statusRepo.UpdateStatusField(ctx, role, "lastHeartbeat", now.Format(time.RFC3339)); err != nil {
			logger.LogError(err, "", "supervisor", "", map[string]interface{}{
				"role": role.String(),
			})
		}

		// 关系库心跳回写为尽力而为：权威活性在Redis标记，落库失败不影响心跳
		if s.agentRepo != nil {
			if err := s.agentRepo.TouchHeartbeat(ctx, role, now); err != nil {
				logger.LogError(err, "", "supervisor", "", map[string]interface{}{
					"role": role.String(),
				})
			}
		}
	}
}

// markIdle 将角色状态置为空闲待命
func (s *supervisor) markIdle(role model.AgentRole) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info := &model.AgentRuntimeInfo{
		Role:          role,
		Status:        model.AgentStatusIdle,
		LastHeartbeat: time.Now().Format(time.RFC3339),
		StartedAt:     time.Now().Format(time.RFC3339),
	}
	if err := s.statusRepo.SetStatus(ctx, info); err != nil {
		logger.LogError(err, "", "supervisor", "", map[string]interface{}{
			"role": role.String(),
		})
	}
}

// setCurrentTask 更新角色当前执行的任务
func (s *supervisor) setCurrentTask(role model.AgentRole, taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status := model.AgentStatusIdle
	if taskID != "" {
		status = model.AgentStatusBusy
	}
	if err := s.statusRepo.UpdateStatusField(ctx, role, "currentTaskId", taskID); err != nil {
		logger.LogError(err, "", "supervisor", "", nil)
	}
	if err := s.statusRepo.UpdateStatusField(ctx, role, "status", string(status)); err != nil {
		logger.LogError(err, "", "supervisor", "", nil)
	}
}

// ActiveRoles 返回当前有消费者在运行的角色列表
// 主编排者与结果消费者合并记作主编排者角色
func (s *supervisor) ActiveRoles() []model.AgentRole {
	s.mu.Lock()
	defer s.mu.Unlock()

	var roles []model.AgentRole
	seen := make(map[model.AgentRole]bool)
	for _, consumer := range s.consumers {
		if !consumer.IsRunning() {
			continue
		}
		role := roleFromQueue(consumer.Queue())
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	return roles
}

// roleFromQueue 从队列名反解角色
func roleFromQueue(queue string) model.AgentRole {
	if queue == fabric.QueueResults {
		return model.RoleMasterOrchestrator
	}
	for _, role := range model.AllAgentRoles() {
		if fabric.RoleQueueName(role) == queue {
			return role
		}
	}
	return ""
}

// SetConsumptionMode 切换消费模式
// 持久化新模式并广播事件；消费者数量在下一次启动时按新模式生效
func (s *supervisor) SetConsumptionMode(ctx context.Context, mode model.ConsumptionMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("invalid consumption mode: %s", mode)
	}

	s.mu.Lock()
	old := s.mode
	s.mode = mode
	s.mu.Unlock()

	if err := s.settingRepo.SetSetting(ctx, model.SettingConsumptionMode, string(mode),
		"active consumption mode"); err != nil {
		return fmt.Errorf("failed to persist consumption mode: %w", err)
	}

	logger.LogSystemEvent("supervisor", "mode_changed",
		fmt.Sprintf("Consumption mode changed from %s to %s", old, mode), logrus.InfoLevel,
		map[string]interface{}{
			"old_mode": string(old),
			"new_mode": string(mode),
		})

	event := realtime.NewEvent(realtime.EventModeChanged, map[string]interface{}{
		"oldMode": old,
		"newMode": mode,
	}, "")
	if err := s.pubsubRepo.Publish(ctx, redisrepo.ChannelSystem, event); err != nil {
		logger.LogError(fmt.Errorf("failed to broadcast mode change: %w", err), "", "supervisor", "", nil)
	}
	return nil
}

// GetConsumptionMode 获取当前消费模式
func (s *supervisor) GetConsumptionMode() model.ConsumptionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// RebuildConsumers 连接重建后重新挂载全部消费者
// 旧消费者的通道已随连接失效，只需关闭句柄后按启动协议重建
func (s *supervisor) RebuildConsumers() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	for _, consumer := range s.consumers {
		_ = consumer.Stop()
	}

	if err := s.startConsumersLocked(); err != nil {
		return fmt.Errorf("failed to rebuild consumers: %w", err)
	}

	logger.LogSystemEvent("supervisor", "consumers_rebuilt",
		"Consumers rebuilt after reconnect", logrus.InfoLevel, map[string]interface{}{
			"consumers": len(s.consumers),
		})
	return nil
}

// Stop 停止心跳发布与全部消费者
func (s *supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	consumers := s.consumers
	s.consumers = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	for _, consumer := range consumers {
		if err := consumer.Stop(); err != nil {
			logger.LogError(err, "", "supervisor", consumer.Queue(), nil)
		}
	}

	logger.LogSystemEvent("supervisor", "stopped",
		"Supervisor stopped", logrus.InfoLevel, nil)
	return nil
}
