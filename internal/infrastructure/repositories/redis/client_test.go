package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientOptions_Defaults(t *testing.T) {
	o := ClientOptions{Address: "localhost:6379"}.withDefaults()
	assert.Equal(t, defaultPoolSize, o.PoolSize)
	assert.Equal(t, defaultConnectTimeout, o.ConnectTimeout)
	assert.Equal(t, defaultOpTimeout, o.OpTimeout)

	ro := o.redisOptions()
	assert.Equal(t, "localhost:6379", ro.Addr)
	assert.Equal(t, 2, ro.MinIdleConns)
	assert.Equal(t, defaultOpTimeout, ro.ReadTimeout)
	assert.Equal(t, defaultOpTimeout, ro.WriteTimeout)
	assert.Equal(t, defaultOpTimeout, ro.PoolTimeout)
}

func TestClientOptions_KeepsExplicitValues(t *testing.T) {
	o := ClientOptions{PoolSize: 2, DB: 3, OpTimeout: 300 * time.Millisecond}.withDefaults()
	ro := o.redisOptions()
	assert.Equal(t, 2, ro.PoolSize)
	assert.Equal(t, 1, ro.MinIdleConns)
	assert.Equal(t, 3, ro.DB)
	assert.Equal(t, 300*time.Millisecond, ro.ReadTimeout)
}

func TestConnect_Unreachable(t *testing.T) {
	start := time.Now()
	client, err := Connect(context.Background(), ClientOptions{
		Address:        "127.0.0.1:1",
		ConnectTimeout: 500 * time.Millisecond,
	}, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClose_Nil(t *testing.T) {
	assert.NoError(t, Close(nil))
}
