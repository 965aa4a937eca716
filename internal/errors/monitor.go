package errors

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var errorCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "echo_errors_total",
		Help: "Total number of errors returned to callers by code and type",
	},
	[]string{"code", "type", "endpoint"},
)

// Record 记录一次返回给调用方的错误
func Record(appErr *AppError, endpoint string) {
	if appErr == nil {
		return
	}
	errorCounter.WithLabelValues(string(appErr.Code), appErr.Type.String(), endpoint).Inc()
}

// String 错误类型名称
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeSystem:
		return "system"
	case ErrorTypeBusiness:
		return "business"
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeExternal:
		return "external"
	default:
		return "unknown"
	}
}
