package knowledge

import (
	"context"
	"sync"
	"sync/atomic"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

// initGuard 后端连接的惰性初始化：成功后不再执行，并发调用方等待同一次初始化
type initGuard struct {
	mu       sync.Mutex
	done     atomic.Bool
	backend  string
	guidance string
}

func newInitGuard(backend, guidance string) *initGuard {
	return &initGuard{backend: backend, guidance: guidance}
}

// Do 执行初始化；失败返回 BackendUnavailable，不在本次调用内重试
func (g *initGuard) Do(ctx context.Context, fn func(context.Context) error) error {
	if g.done.Load() {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done.Load() {
		return nil
	}
	if err := fn(ctx); err != nil {
		return apperrors.NewBackendUnavailableError(g.backend, g.guidance).WithCause(err)
	}
	g.done.Store(true)
	return nil
}

// Ready 是否已完成初始化
func (g *initGuard) Ready() bool {
	return g.done.Load()
}
