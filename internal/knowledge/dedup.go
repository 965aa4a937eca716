package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL 去重记录保留时间
const DefaultDedupTTL = 7 * 24 * time.Hour

const memorySweepInterval = time.Minute

// DedupLedger 按 echo 记录已入库内容，CheckAndMark 必须是原子的 set-if-absent
type DedupLedger interface {
	// CheckAndMark 返回 true 表示首次出现并已记录；重复时不刷新过期时间
	CheckAndMark(ctx context.Context, echoID, contentHash string) (bool, error)
}

// ContentHash 计算内容的 sha256 十六进制摘要
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// MemoryLedger 单进程内存去重表，过期记录在访问时惰性清理
type MemoryLedger struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryLedger 创建内存去重表
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryLedger{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *MemoryLedger) CheckAndMark(ctx context.Context, echoID, contentHash string) (bool, error) {
	key := echoID + ":" + contentHash

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	if expiry, ok := l.entries[key]; ok && now.Before(expiry) {
		return false, nil
	}
	l.entries[key] = now.Add(l.ttl)
	return true, nil
}

// sweepLocked 最多每分钟扫描一次过期记录
func (l *MemoryLedger) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < memorySweepInterval {
		return
	}
	l.lastSweep = now
	for key, expiry := range l.entries {
		if !now.Before(expiry) {
			delete(l.entries, key)
		}
	}
}

// Len 当前记录数（含未清理的过期记录）
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RedisLedger 基于 SET NX PX 的共享去重表，适用于多实例部署
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

// NewRedisLedger 创建Redis去重表
func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisLedger{
		client: client,
		ttl:    ttl,
		prefix: "echo:dedup",
	}
}

func (l *RedisLedger) key(echoID, contentHash string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, echoID, contentHash)
}

func (l *RedisLedger) CheckAndMark(ctx context.Context, echoID, contentHash string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(echoID, contentHash), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup ledger setnx failed: %w", err)
	}
	return ok, nil
}
