package controllers

import (
	"net/http"
)

// RootController 根控制器
type RootController struct {
	BaseController
	System string
}

func (c *RootController) Index() {
	c.JSON(http.StatusOK, map[string]string{
		"status": "online",
		"system": c.System,
	})
}

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
	Service string
	Engine  KnowledgeService
}

// Health 进程存活即返回UP，ready 表示向量库与向量化服务是否可用
func (c *HealthController) Health() {
	ready := c.Engine != nil && c.Engine.Ready()
	c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "UP",
		"service": c.Service,
		"ready":   ready,
	})
}
