package config

import (
	"fmt"
	"time"
)

// Config 应用配置结构体 [这里的字段和配置文件中一级字段保持一致，否则会没有值]
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`       // 服务器配置
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`   // 数据库配置
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq" mapstructure:"rabbitmq"`   // 消息队列配置
	Log       LogConfig       `yaml:"log" mapstructure:"log"`             // 日志配置
	Agent     AgentConfig     `yaml:"agent" mapstructure:"agent"`         // Agent编排配置
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`     // 监控配置
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"` // WebSocket配置
	App       AppConfig       `yaml:"app" mapstructure:"app"`             // 应用配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                         // 服务器主机地址
	Port           int           `yaml:"port" mapstructure:"port"`                         // 服务器端口
	Mode           string        `yaml:"mode" mapstructure:"mode"`                         // 运行模式: debug, release, test
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`         // 读取超时时间
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`       // 写入超时时间
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 空闲超时时间
	MaxHeaderBytes int           `yaml:"max_header_bytes" mapstructure:"max_header_bytes"` // 最大请求头字节数
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql" mapstructure:"mysql"` // MySQL配置
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"` // Redis配置
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`                           // 数据库主机
	Port            int           `yaml:"port" mapstructure:"port"`                           // 数据库端口
	Username        string        `yaml:"username" mapstructure:"username"`                   // 用户名
	Password        string        `yaml:"password" mapstructure:"password"`                   // 密码
	Database        string        `yaml:"database" mapstructure:"database"`                   // 数据库名
	Charset         string        `yaml:"charset" mapstructure:"charset"`                     // 字符集
	ParseTime       bool          `yaml:"parse_time" mapstructure:"parse_time"`               // 是否解析时间
	Loc             string        `yaml:"loc" mapstructure:"loc"`                             // 时区
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`       // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`       // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"` // 连接最大生存时间
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`                 // 日志级别
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`                     // Redis主机
	Port         int           `yaml:"port" mapstructure:"port"`                     // Redis端口
	Password     string        `yaml:"password" mapstructure:"password"`             // Redis密码
	Database     int           `yaml:"database" mapstructure:"database"`             // Redis数据库索引
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`           // 连接池大小
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"` // 最小空闲连接数
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`     // 连接超时
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`     // 读取超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`   // 写入超时
}

// RabbitMQConfig 消息队列配置
// 初始连接采用指数退避重试，超过最大次数后视为启动期致命错误
type RabbitMQConfig struct {
	URL              string        `yaml:"url" mapstructure:"url"`                               // AMQP连接地址
	MaxConnectRetry  int           `yaml:"max_connect_retry" mapstructure:"max_connect_retry"`   // 初始连接最大重试次数
	ConnectBaseDelay time.Duration `yaml:"connect_base_delay" mapstructure:"connect_base_delay"` // 初始连接重试基础延迟
	ConnectMaxDelay  time.Duration `yaml:"connect_max_delay" mapstructure:"connect_max_delay"`   // 初始连接重试最大延迟
	Prefetch         int           `yaml:"prefetch" mapstructure:"prefetch"`                     // 每消费者预取数量(公平分发固定为1)
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式: json, text
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: stdout, stderr, file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 日志文件保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩日志文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// AgentConfig Agent编排配置
type AgentConfig struct {
	PluginsPath       string        `yaml:"plugins_path" mapstructure:"plugins_path"`             // Agent配置源根目录(config/prompts/rules三类文件)
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"` // 心跳发布间隔
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`   // 心跳超时阈值(同时作为心跳标记TTL)
	MaxRetryAttempts  int           `yaml:"max_retry_attempts" mapstructure:"max_retry_attempts"` // 任务最大重试次数
	DefaultMode       string        `yaml:"default_mode" mapstructure:"default_mode"`             // 默认消费模式: MINIMAL, STANDARD, HIGH_PERFORMANCE
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	HeartbeatCheckInterval time.Duration `yaml:"heartbeat_check_interval" mapstructure:"heartbeat_check_interval"` // 心跳检测间隔
	AlertCronSpec          string        `yaml:"alert_cron_spec" mapstructure:"alert_cron_spec"`                   // 告警评估cron表达式
}

// WebSocketConfig WebSocket配置
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`                     // 是否启用WebSocket
	Path            string        `yaml:"path" mapstructure:"path"`                           // WebSocket路径
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`   // 读缓冲区大小
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"` // 写缓冲区大小
	CheckOrigin     bool          `yaml:"check_origin" mapstructure:"check_origin"`           // 是否检查来源
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`         // 心跳Ping间隔
	WriteWait       time.Duration `yaml:"write_wait" mapstructure:"write_wait"`               // 写超时
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`     // 最大连接数
}

// AppConfig 应用配置
type AppConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`               // 应用名称
	Version     string `yaml:"version" mapstructure:"version"`         // 应用版本
	Environment string `yaml:"environment" mapstructure:"environment"` // 运行环境
	Debug       bool   `yaml:"debug" mapstructure:"debug"`             // 是否调试模式
	Timezone    string `yaml:"timezone" mapstructure:"timezone"`       // 时区
}

// GetAddress 获取服务器完整地址
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment 判断是否为开发环境
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction 判断是否为生产环境
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// IsTest 判断是否为测试环境
func (a *AppConfig) IsTest() bool {
	return a.Environment == "test"
}

// GetMySQLDSN 获取MySQL数据源名称
func (m *MySQLConfig) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=%s",
		m.Username, m.Password, m.Host, m.Port, m.Database, m.Charset, m.ParseTime, m.Loc)
}

// GetRedisAddress 获取Redis地址
func (r *RedisConfig) GetRedisAddress() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
