package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/internal/config"
	"github.com/eatchicken1/frequency-ai-engine/internal/database"
	"github.com/eatchicken1/frequency-ai-engine/internal/di"
	"github.com/eatchicken1/frequency-ai-engine/internal/knowledge"
	"github.com/eatchicken1/frequency-ai-engine/internal/logger"
)

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config *config.Config
	Engine *knowledge.Engine

	container    *dig.Container
	cleanupTasks []func() error
}

// Global app instance
var globalApp *App

// GetApp returns the global app instance
func GetApp() *App {
	return globalApp
}

// Init bootstraps configuration, logger and the knowledge engine.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	cfg, err := config.NewConfigLoader().Load()
	if err != nil {
		return nil, err
	}

	app, err := New(cfg, logger.GetLogger())
	if err != nil {
		return nil, err
	}
	globalApp = app
	return app, nil
}

// New 基于已加载的配置装配依赖并按需预热向量库
func New(cfg *config.Config, zl *zap.Logger) (*App, error) {
	container, err := di.NewContainer(cfg, zl)
	if err != nil {
		return nil, fmt.Errorf("register providers: %w", err)
	}

	app := &App{Config: cfg, container: container}

	err = container.Invoke(func(engine *knowledge.Engine, publisher knowledge.EventPublisher, rp *di.RedisProvider) {
		app.Engine = engine

		if closer, ok := publisher.(io.Closer); ok {
			app.cleanupTasks = append(app.cleanupTasks, closer.Close)
		}
		if rp.Created() {
			client := rp.Client()
			if cfg.Metrics.Enabled {
				if err := prometheus.Register(database.NewPoolCollector(client)); err != nil {
					zl.Warn("Failed to register redis pool metrics", zap.Error(err))
				}
			}
			app.cleanupTasks = append(app.cleanupTasks, client.Close)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("build knowledge engine: %w", err)
	}

	zl.Info("Knowledge engine assembled",
		zap.String("vector_store", cfg.Knowledge.VectorStore.Provider),
		zap.String("embedding", cfg.Knowledge.Embedding.Provider),
		zap.String("dedup", cfg.Knowledge.Dedup.Provider),
		zap.Bool("kafka", cfg.Kafka.Enabled),
		zap.String("storage", cfg.Storage.Provider))

	// 预热失败直接退出，避免带着不可用的向量库对外服务
	if cfg.Knowledge.VectorStore.Warmup {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Engine.Warmup(ctx); err != nil {
			app.Shutdown()
			return nil, fmt.Errorf("vector store warmup failed: %w", err)
		}
		zl.Info("Vector store warmed up")
	}

	return app, nil
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}
	a.cleanupTasks = nil

	logger.Sync()
}
