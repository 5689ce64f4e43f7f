package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaling-core/pkg/constants"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8083, cfg.Server.Port)
	assert.Equal(t, StoreCockroach, cfg.Store.Backend)
	assert.True(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Cassandra.Enabled)
	assert.Equal(t, constants.DefaultMaxSaveAttempts, cfg.Signaling.MaxSaveAttempts)
	assert.Equal(t, constants.MaxSignalPayloadBytes, cfg.Signaling.MaxPayloadBytes)
	assert.Empty(t, cfg.Store.MemoryMembers)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "MONGO")
	t.Setenv("MONGODB_DATABASE", "calls")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("CASSANDRA_ENABLED", "true")
	t.Setenv("CASSANDRA_HOSTS", "cass-1, cass-2 ,")
	t.Setenv("CALL_MAX_SAVE_ATTEMPTS", "5")
	t.Setenv("REDIS_HEALTH_CHECK_INTERVAL", "30s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, StoreMongo, cfg.Store.Backend)
	assert.Equal(t, "calls", cfg.Mongo.Database)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, []string{"cass-1", "cass-2"}, cfg.Cassandra.Hosts)
	assert.Equal(t, 5, cfg.Signaling.MaxSaveAttempts)
	assert.Equal(t, 30*time.Second, cfg.Signaling.RedisHealthPeriod)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:    ServerConfig{Environment: "production"},
			Store:     StoreConfig{Backend: StoreCockroach},
			JWT:       JWTConfig{Secret: strings.Repeat("s", 32)},
			Signaling: SignalingConfig{MaxSaveAttempts: 3, MaxWSConnections: 10},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }, "STORE_BACKEND"},
		{"missing secret", func(c *Config) { c.JWT.Secret = "" }, "JWT_SECRET must be set"},
		{"short secret", func(c *Config) { c.JWT.Secret = "short" }, "at least 32"},
		{"memory in production", func(c *Config) { c.Store.Backend = StoreMemory }, "not allowed in production"},
		{"zero attempts", func(c *Config) { c.Signaling.MaxSaveAttempts = 0 }, "CALL_MAX_SAVE_ATTEMPTS"},
		{"zero connections", func(c *Config) { c.Signaling.MaxWSConnections = 0 }, "MAX_SIGNALING_CONNECTIONS"},
		{"cassandra without hosts", func(c *Config) { c.Cassandra.Enabled = true }, "CASSANDRA_HOSTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("memory store outside production", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Environment = "development"
		cfg.JWT.Secret = ""
		cfg.Store.Backend = StoreMemory
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad_MemoryChatMembers(t *testing.T) {
	chatID, a, b := uuid.New(), uuid.New(), uuid.New()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("MEMORY_CHAT_MEMBERS", chatID.String()+":"+a.String()+","+b.String())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, map[uuid.UUID][]uuid.UUID{chatID: {a, b}}, cfg.Store.MemoryMembers)

	t.Setenv("MEMORY_CHAT_MEMBERS", chatID.String()+":not-a-user")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMORY_CHAT_MEMBERS")
}

func TestParseChatMembers(t *testing.T) {
	c1, c2 := uuid.New(), uuid.New()
	u1, u2, u3 := uuid.New(), uuid.New(), uuid.New()

	got, err := ParseChatMembers(" " + c1.String() + ": " + u1.String() + " , " + u2.String() + ",;" +
		c2.String() + ":" + u3.String() + ";;")
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID][]uuid.UUID{c1: {u1, u2}, c2: {u3}}, got)

	empty, err := ParseChatMembers("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	tests := []struct {
		name   string
		raw    string
		errMsg string
	}{
		{"missing separator", c1.String(), "is not chat:user,user"},
		{"bad chat", "chat-1:" + u1.String(), "invalid chat id"},
		{"bad user", c1.String() + ":" + u1.String() + ",bob", "invalid user id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChatMembers(tt.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
