package di

import (
	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/internal/config"
)

// NewContainer 创建依赖注入容器并注册知识引擎的全部提供者
func NewContainer(cfg *config.Config, logger *zap.Logger) (*dig.Container, error) {
	container := dig.New()
	if err := RegisterProviders(container, cfg, logger); err != nil {
		return nil, err
	}
	return container, nil
}
