package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/negrahodzic/UniVerse-sub000/config"
)

func TestOpen_Memory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.StoreMemory}}
	stores, err := Open(context.Background(), cfg, true)
	require.NoError(t, err)
	require.NotNil(t, stores.Memory)

	assert.Same(t, stores.Memory, stores.Users)
	assert.NoError(t, stores.Ping(context.Background()))
	assert.NoError(t, stores.Close(context.Background()))
}

func TestOpen_UnknownDriver(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}
	_, err := Open(context.Background(), cfg, false)
	assert.ErrorContains(t, err, "sqlite")
}

func TestOpenRedis_URLOverridesFields(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{Redis: config.RedisConfig{
		Host: "unreachable.invalid",
		Port: 1,
		URL:  "redis://" + mr.Addr() + "/2",
	}}

	client, err := OpenRedis(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, mr.Addr(), client.Options().Addr)
	assert.Equal(t, 2, client.Options().DB)
}

func TestOpenRedis_BadURL(t *testing.T) {
	cfg := &config.Config{Redis: config.RedisConfig{URL: "ftp://nope"}}
	_, err := OpenRedis(context.Background(), cfg)
	assert.Error(t, err)
}
