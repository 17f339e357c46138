/*
 * 心跳监控器
 * @author: sun977
 * @date: 2025.11.25
 * @description: 周期性比对心跳标记与状态哈希，推导Agent存活状态。
 * 两级判定：心跳标记缺失 -> OFFLINE并广播agent.offline；
 * 标记存在但心跳时间已超过超时阈值 -> ERROR。
 * 状态迁移只在发生变化时广播一次，不会对同一状态反复告警；
 * MAINTENANCE为人工状态，监控不触碰。多实例部署时经分布式锁保证单实例执行。
 */

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"neotasker/internal/config"
	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
	redisrepo "neotasker/internal/repository/redis"
	"neotasker/internal/service/realtime"

	"github.com/sirupsen/logrus"
)

// heartbeatLockName 心跳检测分布式锁名
const heartbeatLockName = "heartbeat-check"

// HeartbeatMonitor 心跳监控器接口
type HeartbeatMonitor interface {
	// Start 启动周期检测
	Start(ctx context.Context) error
	// Stop 停止检测
	Stop()
	// CheckOnce 执行一轮检测(供测试与手动触发)
	CheckOnce(ctx context.Context) error
}

// heartbeatMonitor 心跳监控器实现
type heartbeatMonitor struct {
	cfg        *config.AgentConfig
	interval   time.Duration
	instanceID string

	statusRepo *redisrepo.AgentStatusRepository
	pubsubRepo *redisrepo.PubSubRepository
	lockRepo   *redisrepo.LockRepository

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewHeartbeatMonitor 创建心跳监控器实例
func NewHeartbeatMonitor(
	cfg *config.AgentConfig,
	interval time.Duration,
	instanceID string,
	statusRepo *redisrepo.AgentStatusRepository,
	pubsubRepo *redisrepo.PubSubRepository,
	lockRepo *redisrepo.LockRepository,
) HeartbeatMonitor {
	return &heartbeatMonitor{
		cfg:        cfg,
		interval:   interval,
		instanceID: instanceID,
		statusRepo: statusRepo,
		pubsubRepo: pubsubRepo,
		lockRepo:   lockRepo,
	}
}

// Start 启动周期检测
func (h *heartbeatMonitor) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return fmt.Errorf("heartbeat monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true

	h.wg.Add(1)
	go h.loop(runCtx)

	logger.LogSystemEvent("heartbeat_monitor", "started",
		"Heartbeat monitor started", logrus.InfoLevel, map[string]interface{}{
			"interval": h.interval.String(),
		})
	return nil
}

// loop 检测循环
func (h *heartbeatMonitor) loop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.CheckOnce(ctx); err != nil {
				logger.LogError(err, "", "heartbeat_monitor", "", nil)
			}
		}
	}
}

// CheckOnce 执行一轮检测
// 先抢分布式锁，抢不到说明另一实例正在检测，本轮直接跳过
func (h *heartbeatMonitor) CheckOnce(ctx context.Context) error {
	acquired, err := h.lockRepo.TryAcquire(ctx, heartbeatLockName, h.instanceID, h.interval)
	if err != nil {
		return fmt.Errorf("failed to acquire heartbeat lock: %w", err)
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := h.lockRepo.Release(ctx, heartbeatLockName, h.instanceID); err != nil {
			logger.LogError(err, "", "heartbeat_monitor", "", nil)
		}
	}()

	for _, role := range model.AllAgentRoles() {
		if err := h.checkRole(ctx, role); err != nil {
			logger.LogError(err, "", "heartbeat_monitor", "", map[string]interface{}{
				"role": role.String(),
			})
		}
	}
	return nil
}

// checkRole 检测单个角色的存活状态
func (h *heartbeatMonitor) checkRole(ctx context.Context, role model.AgentRole) error {
	mark, err := h.statusRepo.GetHeartbeat(ctx, role)
	if err != nil {
		return err
	}
	info, err := h.statusRepo.GetStatus(ctx, role)
	if err != nil {
		return err
	}

	// 状态记录不存在：该角色从未启动过，无需判定
	if info == nil {
		return nil
	}

	// 人工维护状态由运维手动摘除与恢复，监控不触碰
	if info.Status == model.AgentStatusMaintenance {
		return nil
	}

	// 心跳标记缺失：直接判定离线，已离线的角色不重复广播
	if mark == nil {
		if info.Status == model.AgentStatusOffline {
			return nil
		}
		return h.transition(ctx, role, info.Status, model.AgentStatusOffline)
	}

	// 标记存在但心跳时间已超过超时阈值：降级ERROR
	if time.Since(mark.Timestamp) > h.cfg.HeartbeatTimeout {
		if info.Status == model.AgentStatusError {
			return nil
		}
		return h.transition(ctx, role, info.Status, model.AgentStatusError)
	}

	// 心跳新鲜：之前被判定为异常/离线的角色恢复空闲
	if info.Status == model.AgentStatusError || info.Status == model.AgentStatusOffline {
		return h.transition(ctx, role, info.Status, model.AgentStatusIdle)
	}
	return nil
}

// transition 执行状态迁移并广播
// 迁移只在状态确实变化时发生，同一状态不会二次广播
func (h *heartbeatMonitor) transition(ctx context.Context, role model.AgentRole, from, to model.AgentStatus) error {
	if err := h.statusRepo.UpdateStatusField(ctx, role, "status", string(to)); err != nil {
		return fmt.Errorf("failed to update agent status: %w", err)
	}

	logger.LogSystemEvent("heartbeat_monitor", "status_transition",
		fmt.Sprintf("Agent %s transitioned from %s to %s", role, from, to), logrus.WarnLevel,
		map[string]interface{}{
			"role": role.String(),
			"from": string(from),
			"to":   string(to),
		})

	eventType := realtime.EventAgentStatus
	if to == model.AgentStatusOffline {
		eventType = realtime.EventAgentOffline
	}
	event := realtime.NewEvent(eventType, map[string]interface{}{
		"role": role,
		"from": from,
		"to":   to,
	}, "")
	if err := h.pubsubRepo.Publish(ctx, redisrepo.ChannelAgents, event); err != nil {
		logger.LogError(fmt.Errorf("failed to broadcast status transition: %w", err), "", "heartbeat_monitor", "", nil)
	}
	return nil
}

// Stop 停止检测
func (h *heartbeatMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	h.cancel()
	h.wg.Wait()

	logger.LogSystemEvent("heartbeat_monitor", "stopped",
		"Heartbeat monitor stopped", logrus.InfoLevel, nil)
}
