package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "SESSION_STORE", "TRANSPORT", "HTTP_TIMEOUT", "EMBED_HISTORY_LIMIT", "Model", "ARK_API_KEY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 20, cfg.Server.HistoryLimit)
	assert.Equal(t, StoreFile, cfg.Session.Backend)
	assert.NotEmpty(t, cfg.Session.Path)
	assert.Equal(t, TransportHTTP, cfg.Transport.Kind)
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.False(t, cfg.AI.Enabled())
}

func TestLoadServerAddr(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	server, err := loadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", server.Addr)

	t.Setenv("PORT", "80 80")
	_, err = loadServerConfig()
	assert.Error(t, err)
}

func TestHistoryLimitClamped(t *testing.T) {
	t.Setenv("EMBED_HISTORY_LIMIT", "0")
	server, err := loadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, 1, server.HistoryLimit)
}

func TestSessionStoreSelection(t *testing.T) {
	t.Setenv("SESSION_STORE", "sqlite")
	t.Setenv("SESSION_STORE_PATH", "")
	t.Setenv("REDIS_DB", "3")
	cfg, err := loadSessionStoreConfig()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Backend)
	assert.Contains(t, cfg.Path, "sessions.db")
	assert.Equal(t, 3, cfg.RedisDB)

	t.Setenv("SESSION_STORE", "floppy")
	_, err = loadSessionStoreConfig()
	assert.Error(t, err)
}

func TestTransportSelection(t *testing.T) {
	t.Setenv("TRANSPORT", "WS")
	t.Setenv("HTTP_TIMEOUT", "5")
	cfg, err := loadTransportConfig()
	require.NoError(t, err)
	assert.Equal(t, TransportWebSocket, cfg.Kind)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	t.Setenv("TRANSPORT", "carrier-pigeon")
	_, err = loadTransportConfig()
	assert.Error(t, err)
}

func TestAIEnabled(t *testing.T) {
	assert.True(t, AIConfig{Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
	assert.False(t, AIConfig{APIKey: "k"}.Enabled())
	assert.False(t, AIConfig{Model: "m", AccessKey: "a"}.Enabled())
}
