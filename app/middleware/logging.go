package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/beego/beego/v2/server/web/context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const requestStartKey = "request_start"

var httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "echo_http_request_duration_seconds",
	Help:    "HTTP request latency by route and status.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "path", "status"})

// RequestStart 记录请求开始时间，挂在BeforeRouter
func RequestStart(ctx *context.Context) {
	ctx.Input.SetData(requestStartKey, time.Now())
}

// RequestLog 请求完成日志与耗时指标，挂在FinishRouter
func RequestLog(logger *zap.Logger) func(*context.Context) {
	return func(ctx *context.Context) {
		start, ok := ctx.Input.GetData(requestStartKey).(time.Time)
		if !ok {
			return
		}
		duration := time.Since(start)

		status := ctx.Output.Status
		if status == 0 {
			status = 200
		}
		path := ctx.Input.URL()

		// /metrics 抓取过于频繁，不记日志
		if !strings.HasPrefix(path, "/metrics") {
			fields := []zap.Field{
				zap.String("method", ctx.Input.Method()),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Int64("duration_ms", duration.Milliseconds()),
				zap.String("remote_addr", ctx.Input.IP()),
			}
			switch {
			case status >= 500:
				logger.Error("Request completed", fields...)
			case status >= 400:
				logger.Warn("Request completed", fields...)
			default:
				logger.Info("Request completed", fields...)
			}
		}

		// 指标按路由模式聚合，未匹配的路径统一归类
		route, _ := ctx.Input.GetData("RouterPattern").(string)
		if route == "" {
			route = "unmatched"
		}
		httpRequestDuration.WithLabelValues(ctx.Input.Method(), route, strconv.Itoa(status)).Observe(duration.Seconds())
	}
}
