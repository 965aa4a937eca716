package database

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPing(t *testing.T) {
	client, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")
	require.NoError(t, Ping(context.Background(), client))

	mock.ExpectPing().SetErr(errors.New("connection refused"))
	assert.ErrorContains(t, Ping(context.Background(), client), "connection refused")

	assert.Error(t, Ping(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

type staticPool struct {
	stats *redis.PoolStats
}

func (s staticPool) PoolStats() *redis.PoolStats { return s.stats }

func TestPoolCollector(t *testing.T) {
	collector := NewPoolCollector(staticPool{stats: &redis.PoolStats{Hits: 7, TotalConns: 3, IdleConns: 2}})

	assert.Equal(t, 6, testutil.CollectAndCount(collector))

	empty := NewPoolCollector(staticPool{})
	assert.Equal(t, 0, testutil.CollectAndCount(empty))
}
