/*
 * 路由与HTTP处理器
 * @author: sun977
 * @date: 2025.11.27
 * @description: 对外HTTP面。处理器保持薄：参数校验与响应装配，
 * 业务全部下沉到服务层。
 * @func:
 * 1.健康检查
 * 2.任务提交/查询/取消
 * 3.Agent状态查询
 * 4.消费模式管理
 * 5.告警查询
 * 6.集成渠道入站Webhook
 * 7.WebSocket升级
 */

package master

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"neotasker/internal/model"
	"neotasker/internal/pkg/logger"
	mysqlrepo "neotasker/internal/repository/mysql"
	redisrepo "neotasker/internal/repository/redis"

	"github.com/gin-gonic/gin"
)

// alertCacheTTL 告警列表缓存时长，面板轮询间隔内复用同一份结果
const alertCacheTTL = 10 * time.Second

// createTaskRequest 任务提交请求体
type createTaskRequest struct {
	ProjectID    string        `json:"projectId" binding:"required"`
	Title        string        `json:"title" binding:"required"`
	Description  string        `json:"description"`
	Type         string        `json:"type" binding:"required"`
	Priority     string        `json:"priority"`
	Input        model.JSONMap `json:"input"`
	ParentTaskID string        `json:"parentTaskId"`
}

// setModeRequest 消费模式设置请求体
type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// setupRouter 装配gin路由
func (a *App) setupRouter(
	alertRepo *mysqlrepo.AlertRepository,
	statusRepo *redisrepo.AgentStatusRepository,
	taskRepo *mysqlrepo.TaskRepository,
) *gin.Engine {
	gin.SetMode(a.cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", a.handleHealth)
	if a.cfg.WebSocket.Enabled {
		router.GET(a.cfg.WebSocket.Path, func(c *gin.Context) {
			a.hub.ServeWS(c.Writer, c.Request)
		})
	}

	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.handleCreateTask)
		api.GET("/tasks/:taskId", a.handleGetTask(taskRepo))
		api.POST("/tasks/:taskId/cancel", a.handleCancelTask)
		api.GET("/agents/status", a.handleAgentStatus(statusRepo))
		api.GET("/system/consumption-mode", a.handleGetMode)
		api.PUT("/system/consumption-mode", a.handleSetMode)
		api.GET("/alerts", a.handleListAlerts(alertRepo))
		api.POST("/integrations/:name/webhook", a.handleIntegrationWebhook)
	}

	return router
}

// handleHealth 健康检查：汇报各依赖连通性
func (a *App) handleHealth(c *gin.Context) {
	mqOK := a.mqManager.IsConnected()
	redisOK := a.redisClient.Ping(c.Request.Context()).Err() == nil

	status := http.StatusOK
	overall := "ok"
	if !mqOK || !redisOK {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status": overall,
		"components": gin.H{
			"rabbitmq": mqOK,
			"redis":    redisOK,
		},
		"mode": a.supervisor.GetConsumptionMode(),
	})
}

// handleCreateTask 受理任务提交
func (a *App) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task := &model.Task{
		ProjectID:    req.ProjectID,
		Title:        req.Title,
		Description:  req.Description,
		Type:         model.TaskType(req.Type),
		Priority:     model.TaskPriority(req.Priority),
		Input:        req.Input,
		ParentTaskID: req.ParentTaskID,
	}

	if err := a.master.CreateTask(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"taskId": task.TaskID,
		"status": task.Status,
	})
}

// handleGetTask 查询单个任务
func (a *App) handleGetTask(taskRepo *mysqlrepo.TaskRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := taskRepo.GetTaskByTaskID(c.Request.Context(), c.Param("taskId"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if task == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusOK, task)
	}
}

// handleCancelTask 取消一个未终态的任务
func (a *App) handleCancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := a.master.CancelTask(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"taskId": taskID,
		"status": model.TaskStatusCancelled,
	})
}

// handleIntegrationWebhook 受理集成渠道的入站Webhook
// 签名校验通过后经熔断器执行动作，未注册或未初始化的渠道返回404
func (a *App) handleIntegrationWebhook(c *gin.Context) {
	integration, ok := a.plugins.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "integration not found"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if !integration.VerifyWebhook(c.Request.Header, body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
		return
	}

	var payload model.JSONMap
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json payload"})
			return
		}
	}
	action := "webhook"
	if v, ok := payload["action"].(string); ok && v != "" {
		action = v
	}

	result, err := integration.ExecuteFromWebhook(c.Request.Context(), action, payload)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleAgentStatus 查询全部Agent状态
func (a *App) handleAgentStatus(statusRepo *redisrepo.AgentStatusRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, err := statusRepo.GetAllStatuses(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"agents": statuses,
			"active": a.supervisor.ActiveRoles(),
		})
	}
}

// handleGetMode 查询当前消费模式
func (a *App) handleGetMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode": a.supervisor.GetConsumptionMode(),
	})
}

// handleSetMode 设置消费模式
// 新模式立即持久化并广播，消费者数量在下一次启动时按新模式生效
func (a *App) handleSetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mode := model.ConsumptionMode(req.Mode)
	if err := a.supervisor.SetConsumptionMode(c.Request.Context(), mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"mode": mode,
		"note": "consumer count takes effect after restart",
	})
}

// handleListAlerts 查询未解除告警
// 面板轮询场景走两级缓存，缓存窗口内的新告警由WebSocket事件流补足
func (a *App) handleListAlerts(alertRepo *mysqlrepo.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 || limit > 500 {
			limit = 50
		}

		cacheKey := "alerts:active:" + strconv.Itoa(limit)
		if cached, found, err := a.cache.Get(c.Request.Context(), cacheKey); err == nil && found {
			c.Data(http.StatusOK, "application/json", []byte(cached))
			return
		}

		alerts, err := alertRepo.GetActiveAlerts(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		body, err := json.Marshal(gin.H{"alerts": alerts})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := a.cache.Set(c.Request.Context(), cacheKey, string(body), alertCacheTTL); err != nil {
			logger.LogError(err, "", "http", "", nil)
		}
		c.Data(http.StatusOK, "application/json", body)
	}
}
