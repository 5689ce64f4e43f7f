package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"signaling-core/pkg/constants"
	"signaling-core/pkg/env"
)

// Store backends
const (
	StoreMemory    = "memory"
	StoreCockroach = "cockroach"
	StoreMongo     = "mongo"
)

// Config holds all configuration for the signaling service
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	JWT       JWTConfig
	Log       LogConfig
	Signaling SignalingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Environment    string // development, staging, production
	ServiceName    string
	AllowedOrigins []string
}

// StoreConfig selects the session store and membership oracle backend
type StoreConfig struct {
	Backend string // memory, cockroach, mongo

	// MemoryMembers seeds the memory membership oracle, chat ID to members.
	// Set from MEMORY_CHAT_MEMBERS as "chat:user,user;chat:user,user".
	MemoryMembers map[uuid.UUID][]uuid.UUID
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

// MongoConfig holds MongoDB configuration
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis configuration. Redis is optional: without it
// call updates are only delivered to sockets on the same instance.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds configuration of the optional call event journal
type CassandraConfig struct {
	Enabled  bool
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// SignalingConfig holds call controller and WebSocket limits
type SignalingConfig struct {
	MaxSaveAttempts   int
	MaxWSConnections  int
	MaxPayloadBytes   int
	RedisHealthPeriod time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	members, err := ParseChatMembers(env.GetString("MEMORY_CHAT_MEMBERS", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           env.GetInt("PORT", 8083),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "signaling-service"),
			AllowedOrigins: env.GetStringSlice("CORS_ALLOWED_ORIGINS", ""),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(env.GetString("STORE_BACKEND", StoreCockroach)),
			MemoryMembers: members,
		},
		Database: DatabaseConfig{
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "signaling"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 25),
		},
		Mongo: MongoConfig{
			URI:      env.GetStringFromFile("MONGODB_URI", "mongodb://localhost:27017"),
			Database: env.GetString("MONGODB_DATABASE", "signaling"),
		},
		Redis: RedisConfig{
			Enabled:  env.GetBool("REDIS_ENABLED", true),
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 3*time.Second),
		},
		Cassandra: CassandraConfig{
			Enabled:  env.GetBool("CASSANDRA_ENABLED", false),
			Hosts:    env.GetStringSlice("CASSANDRA_HOSTS", "localhost"),
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "signaling"),
			Username: env.GetString("CASSANDRA_USER", ""),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		JWT: JWTConfig{
			Secret:            env.GetStringFromFile("JWT_SECRET", ""),
			AccessTokenExpiry: env.GetDuration("JWT_ACCESS_EXPIRY", constants.AccessTokenExpiry),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/signaling.log"),
		},
		Signaling: SignalingConfig{
			MaxSaveAttempts:   env.GetInt("CALL_MAX_SAVE_ATTEMPTS", constants.DefaultMaxSaveAttempts),
			MaxWSConnections:  env.GetInt("MAX_SIGNALING_CONNECTIONS", constants.DefaultMaxSignalingConnections),
			MaxPayloadBytes:   env.GetInt("MAX_SIGNAL_PAYLOAD_BYTES", constants.MaxSignalPayloadBytes),
			RedisHealthPeriod: env.GetDuration("REDIS_HEALTH_CHECK_INTERVAL", constants.RedisHealthCheckInterval),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreCockroach, StoreMongo:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of %s, %s, %s; got %q",
			StoreMemory, StoreCockroach, StoreMongo, c.Store.Backend)
	}

	if c.Server.Environment == "production" {
		if c.JWT.Secret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if c.Store.Backend == StoreMemory {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
	}

	if c.Signaling.MaxSaveAttempts < 1 {
		return fmt.Errorf("CALL_MAX_SAVE_ATTEMPTS must be at least 1")
	}
	if c.Signaling.MaxWSConnections < 1 {
		return fmt.Errorf("MAX_SIGNALING_CONNECTIONS must be at least 1")
	}
	if c.Cassandra.Enabled && len(c.Cassandra.Hosts) == 0 {
		return fmt.Errorf("CASSANDRA_HOSTS must be set when CASSANDRA_ENABLED=true")
	}

	return nil
}

// ParseChatMembers parses "chat:user,user;chat:user" into a member list per
// chat. Blank entries are skipped and a chat named twice keeps both lists.
func ParseChatMembers(raw string) (map[uuid.UUID][]uuid.UUID, error) {
	chats := make(map[uuid.UUID][]uuid.UUID)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		chatPart, usersPart, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("MEMORY_CHAT_MEMBERS: entry %q is not chat:user,user", entry)
		}
		chatID, err := uuid.Parse(strings.TrimSpace(chatPart))
		if err != nil {
			return nil, fmt.Errorf("MEMORY_CHAT_MEMBERS: invalid chat id %q: %w", chatPart, err)
		}

		for _, user := range strings.Split(usersPart, ",") {
			user = strings.TrimSpace(user)
			if user == "" {
				continue
			}
			userID, err := uuid.Parse(user)
			if err != nil {
				return nil, fmt.Errorf("MEMORY_CHAT_MEMBERS: invalid user id %q in chat %s: %w", user, chatID, err)
			}
			chats[chatID] = append(chats[chatID], userID)
		}
	}
	return chats, nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
