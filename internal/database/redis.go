package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/eatchicken1/frequency-ai-engine/internal/config"
)

// NewRedisClient 创建Redis客户端，连接失败只记录警告，由向量库初始化时报告
func NewRedisClient(cfg config.RedisConfig, logger *zap.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		DB:       cfg.DB,
		Password: cfg.Password,
		// FT.SEARCH 按 RESP2 数组解析
		Protocol:     2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := Ping(ctx, rdb); err != nil {
		logger.Warn("Redis暂不可用", zap.String("addr", cfg.Addr()), zap.Error(err))
	} else {
		logger.Info("Redis connected successfully", zap.String("addr", cfg.Addr()))
	}
	return rdb
}

// Ping 健康检查
func Ping(ctx context.Context, client redis.UniversalClient) error {
	if client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}
