package router

import (
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/app/controllers"
	"github.com/eatchicken1/frequency-ai-engine/app/middleware"
)

// Options 路由依赖
type Options struct {
	ServiceName    string
	Engine         controllers.KnowledgeService
	CORSOrigins    []string
	MetricsEnabled bool
	Logger         *zap.Logger
}

// InitKnowledgeRoutes 注册知识检索服务的全部路由
func InitKnowledgeRoutes(opts Options) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	web.InsertFilter("/*", web.BeforeRouter, middleware.RequestStart)
	web.InsertFilter("/*", web.BeforeRouter, middleware.CORS(opts.CORSOrigins))
	web.InsertFilter("/*", web.FinishRouter, middleware.RequestLog(opts.Logger), web.WithReturnOnOutput(false))

	web.Router("/", &controllers.RootController{System: opts.ServiceName}, "get:Index")
	web.Router("/health", &controllers.HealthController{Service: opts.ServiceName, Engine: opts.Engine}, "get:Health")
	if opts.MetricsEnabled {
		web.Handler("/metrics", promhttp.Handler())
	}

	knowledgeController := &controllers.KnowledgeController{Service: opts.Engine}
	web.Router("/ai/knowledge/ingest", knowledgeController, "post:Ingest")
	web.Router("/ai/knowledge/search", knowledgeController, "post:Search")
	web.Router("/ai/knowledge/train", knowledgeController, "post:Train")
	web.Router("/ai/knowledge/delete", knowledgeController, "post:Delete")
	web.Router("/ai/knowledge/batch-delete", knowledgeController, "post:BatchDelete")
}
