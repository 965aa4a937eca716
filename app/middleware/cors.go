package middleware

import (
	"net/http"

	"github.com/beego/beego/v2/server/web/context"
)

// CORS 返回跨域过滤器，allowedOrigins 为空或包含 "*" 时放行所有来源
func CORS(allowedOrigins []string) func(*context.Context) {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(ctx *context.Context) {
		origin := ctx.Input.Header("Origin")
		if origin != "" {
			if _, ok := allowed[origin]; ok || allowAll {
				ctx.Output.Header("Access-Control-Allow-Origin", origin)
				ctx.Output.Header("Access-Control-Allow-Credentials", "true")
				ctx.Output.Header("Vary", "Origin")
			}
		}
		ctx.Output.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Output.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		ctx.Output.Header("Access-Control-Max-Age", "3600")

		// 处理OPTIONS预检请求
		if ctx.Input.Method() == http.MethodOptions {
			ctx.Output.SetStatus(http.StatusNoContent)
			_ = ctx.Output.Body([]byte(""))
		}
	}
}
