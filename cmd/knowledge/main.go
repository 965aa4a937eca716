package main

import (
	"log"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/app/bootstrap"
	"github.com/eatchicken1/frequency-ai-engine/app/router"
	"github.com/eatchicken1/frequency-ai-engine/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	router.InitKnowledgeRoutes(router.Options{
		ServiceName:    app.Config.Server.Name,
		Engine:         app.Engine,
		CORSOrigins:    app.Config.Server.CORSOrigins,
		MetricsEnabled: app.Config.Metrics.Enabled,
		Logger:         logger.Named("http"),
	})

	web.BConfig.AppName = app.Config.Server.Name
	web.BConfig.CopyRequestBody = true
	web.BConfig.Listen.HTTPPort = app.Config.Server.Port
	if app.Config.Server.Env == "production" {
		web.BConfig.RunMode = web.PROD
	}

	logger.Info("🚀 Starting Frequency AI Engine", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
