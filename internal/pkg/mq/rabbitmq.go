// RabbitMQ连接管理器
// 负责连接建立(指数退避重试)、通道管理、断线重连和拓扑重建
package mq

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"neotasker/internal/config"
	"neotasker/internal/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// TopologyFunc 拓扑声明回调
// 连接(重)建立后在新通道上重新声明交换机、队列和绑定
type TopologyFunc func(ch *amqp.Channel) error

// ConsumerFunc 消费者重建回调
// 重连后由上层重新挂载全部消费者
type ConsumerFunc func() error

// RabbitMQManager RabbitMQ连接管理器
type RabbitMQManager struct {
	config *config.RabbitMQConfig

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel // 发布专用通道

	topologyFn TopologyFunc
	consumerFn ConsumerFunc

	reconnecting bool // 重连保护标记，防止并发重连
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRabbitMQManager 创建RabbitMQ连接管理器
func NewRabbitMQManager(cfg *config.RabbitMQConfig) *RabbitMQManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &RabbitMQManager{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetTopologyFunc 设置拓扑声明回调，须在Connect之前调用
func (m *RabbitMQManager) SetTopologyFunc(fn TopologyFunc) {
	m.topologyFn = fn
}

// SetConsumerFunc 设置消费者重建回调
func (m *RabbitMQManager) SetConsumerFunc(fn ConsumerFunc) {
	m.consumerFn = fn
}

// Connect 建立连接，指数退避重试
// 重试间隔 = 基础延迟 * 2^(n-1) + 10%抖动，超过上限延迟后取上限
// 全部重试失败视为启动期致命错误，由调用方决定进程退出
func (m *RabbitMQManager) Connect() error {
	var lastErr error

	for attempt := 1; attempt <= m.config.MaxConnectRetry; attempt++ {
		if err := m.dial(); err != nil {
			lastErr = err
			delay := m.backoffDelay(attempt)
			logger.LogSystemEvent("rabbitmq", "connect_retry",
				fmt.Sprintf("RabbitMQ connect attempt %d/%d failed, retrying in %s",
					attempt, m.config.MaxConnectRetry, delay),
				logrus.WarnLevel, map[string]interface{}{
					"attempt": attempt,
					"error":   err.Error(),
				})

			select {
			case <-time.After(delay):
			case <-m.ctx.Done():
				return fmt.Errorf("rabbitmq connect cancelled: %w", m.ctx.Err())
			}
			continue
		}

		logger.LogSystemEvent("rabbitmq", "connected",
			"RabbitMQ connection established", logrus.InfoLevel, map[string]interface{}{
				"attempt": attempt,
			})
		return nil
	}

	return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w",
		m.config.MaxConnectRetry, lastErr)
}

// backoffDelay 计算第n次重试的退避延迟
func (m *RabbitMQManager) backoffDelay(attempt int) time.Duration {
	delay := m.config.ConnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.ConnectMaxDelay {
			delay = m.config.ConnectMaxDelay
			break
		}
	}
	// 10%抖动，避免多实例同时重连造成惊群
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	return delay + jitter
}

// dial 执行一次连接建立：连接、发布通道、拓扑声明、断线监听
func (m *RabbitMQManager) dial() error {
	conn, err := amqp.Dial(m.config.URL)
	if err != nil {
		return fmt.Errorf("amqp dial failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open publish channel: %w", err)
	}

	if m.topologyFn != nil {
		if err := m.topologyFn(ch); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("failed to assert topology: %w", err)
		}
	}

	m.mu.Lock()
	m.conn = conn
	m.channel = ch
	m.mu.Unlock()

	// 监听连接级关闭事件触发重连
	go m.watchConnection(conn)

	return nil
}

// watchConnection 监听连接关闭通知
func (m *RabbitMQManager) watchConnection(conn *amqp.Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	amqpErr, ok := <-closeCh
	if !ok || amqpErr == nil {
		// 主动关闭，无需重连
		return
	}

	logger.LogSystemEvent("rabbitmq", "connection_lost",
		"RabbitMQ connection lost, scheduling reconnect", logrus.ErrorLevel,
		map[string]interface{}{
			"code":   amqpErr.Code,
			"reason": amqpErr.Reason,
		})

	m.scheduleReconnect()
}

// scheduleReconnect 触发重连，重连标记保证同一时刻只有一个重连流程
func (m *RabbitMQManager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()
		}()

		if err := m.Connect(); err != nil {
			logger.LogSystemEvent("rabbitmq", "reconnect_failed",
				"RabbitMQ reconnect exhausted all attempts", logrus.ErrorLevel,
				map[string]interface{}{"error": err.Error()})
			return
		}

		// 重连成功后重新挂载消费者
		if m.consumerFn != nil {
			if err := m.consumerFn(); err != nil {
				logger.LogSystemEvent("rabbitmq", "consumer_rebuild_failed",
					"Failed to rebuild consumers after reconnect", logrus.ErrorLevel,
					map[string]interface{}{"error": err.Error()})
			}
		}
	}()
}

// GetChannel 获取发布专用通道
func (m *RabbitMQManager) GetChannel() (*amqp.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.channel == nil {
		return nil, fmt.Errorf("rabbitmq channel not ready")
	}
	return m.channel, nil
}

// NewConsumeChannel 为消费者创建独立通道并设置预取数量
// 每消费者独立通道 + prefetch 限制实现公平分发
func (m *RabbitMQManager) NewConsumeChannel() (*amqp.Channel, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consume channel: %w", err)
	}

	if err := ch.Qos(m.config.Prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set channel qos: %w", err)
	}

	return ch, nil
}

// IsConnected 判断连接是否可用
func (m *RabbitMQManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn != nil && !m.conn.IsClosed()
}

// Close 关闭连接，停止重连
func (m *RabbitMQManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.cancel()

	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			return fmt.Errorf("failed to close rabbitmq connection: %w", err)
		}
		m.conn = nil
	}

	logger.LogSystemEvent("rabbitmq", "closed",
		"RabbitMQ connection closed", logrus.InfoLevel, nil)
	return nil
}
