package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
	"github.com/eatchicken1/frequency-ai-engine/internal/logger"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	_ = c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError 按AppError的HTTP状态码输出错误
func (c *BaseController) JSONAppError(err error) {
	appErr := apperrors.GetAppError(err)
	apperrors.Record(appErr, c.Ctx.Request.URL.Path)
	if appErr.HTTPCode >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.Ctx.Request.URL.Path),
			zap.String("code", string(appErr.Code)),
			zap.Error(err))
	}

	body := map[string]interface{}{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	}
	if appErr.Details != nil {
		body["details"] = appErr.Details
	}
	c.JSON(appErr.HTTPCode, body)
}

// bindJSON 解析请求体，失败时已写出400响应
func (c *BaseController) bindJSON(v interface{}) bool {
	body := c.Ctx.Input.RequestBody
	if len(strings.TrimSpace(string(body))) == 0 {
		c.JSONAppError(apperrors.NewValidationError("request body is empty"))
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		c.JSONAppError(apperrors.NewValidationError("invalid JSON body: " + err.Error()))
		return false
	}
	return true
}

// getClientIP 获取客户端真实IP地址
func (c *BaseController) getClientIP() string {
	if xForwardedFor := c.Ctx.Input.Header("X-Forwarded-For"); xForwardedFor != "" {
		ips := strings.Split(xForwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	if xRealIP := c.Ctx.Input.Header("X-Real-IP"); xRealIP != "" {
		return xRealIP
	}
	return c.Ctx.Input.IP()
}
