package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	callHandler "signaling-core/internal/handler/http/call"
	wsHandler "signaling-core/internal/handler/ws"
	"signaling-core/internal/middleware"
	cassandraRepo "signaling-core/internal/repository/cassandra"
	"signaling-core/internal/repository/cockroach"
	"signaling-core/internal/repository/memory"
	mongoRepo "signaling-core/internal/repository/mongo"
	redisRepo "signaling-core/internal/repository/redis"
	callService "signaling-core/internal/service/call"
	"signaling-core/pkg/config"
	"signaling-core/pkg/constants"
	appctx "signaling-core/pkg/context"
	"signaling-core/pkg/database"
	"signaling-core/pkg/jwt"
	"signaling-core/pkg/logger"
	"signaling-core/pkg/metrics"
)

const serviceName = "signaling-service"

// stores is the selected session store and membership oracle
type stores struct {
	calls      callService.CallRepository
	membership callService.MembershipOracle
	pool       middleware.PoolStatter
	ping       func(ctx context.Context) error
	close      func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. JWT
	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry, "auth-service", constants.TokenAudience)

	// 2. Session store and membership oracle
	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open session store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer st.close()

	// 3. Notification sinks
	var sinks callService.MultiSink

	var redisDB *database.RedisDB
	if cfg.Redis.Enabled {
		err = connectWithRetry(ctx, "redis", func() error {
			var connErr error
			redisDB, connErr = database.NewRedisDB(ctx, &database.RedisConfig{
				Host:     cfg.Redis.Host,
				Port:     cfg.Redis.Port,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
				PoolSize: cfg.Redis.PoolSize,
				Timeout:  cfg.Redis.Timeout,
			})
			return connErr
		})
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisDB.Close()
		redisDB.StartHealthCheck(ctx, cfg.Signaling.RedisHealthPeriod)
		sinks = append(sinks, redisRepo.NewCallPublisher(redisDB))
	}

	var eventRepo *cassandraRepo.CallEventRepository
	if cfg.Cassandra.Enabled {
		var cassandraDB *database.CassandraDB
		err = connectWithRetry(ctx, "cassandra", func() error {
			var connErr error
			cassandraDB, connErr = database.NewCassandraDB(&database.CassandraConfig{
				Hosts:    cfg.Cassandra.Hosts,
				Keyspace: cfg.Cassandra.Keyspace,
				Username: cfg.Cassandra.Username,
				Password: cfg.Cassandra.Password,
				Timeout:  cfg.Cassandra.Timeout,
			})
			return connErr
		})
		if err != nil {
			logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
		}
		defer cassandraDB.Close()
		eventRepo = cassandraRepo.NewCallEventRepository(cassandraDB)
		if err := eventRepo.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to prepare call journal", zap.Error(err))
		}
		sinks = append(sinks, cassandraRepo.NewCallJournal(eventRepo))
	}

	// 4. Metrics
	appMetrics := metrics.NewMetrics(serviceName, prometheus.DefaultRegisterer)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 5. Signaling hub and call service. The hub is itself a sink only when
	// there is no Redis to relay changes through.
	hubConfig := wsHandler.HubConfig{Metrics: appMetrics}
	if redisDB != nil {
		hubConfig.Subscriber = redisDB.Client
	}
	signalingHub := wsHandler.NewSignalingHub(hubConfig)
	defer signalingHub.Close()
	if redisDB == nil {
		sinks = append(sinks, signalingHub)
	}

	svc := callService.NewService(st.calls, st.membership, sinks,
		callService.WithMaxSaveAttempts(cfg.Signaling.MaxSaveAttempts),
		callService.WithMaxPayloadBytes(cfg.Signaling.MaxPayloadBytes),
	)

	signalingHdlr := wsHandler.NewSignalingHandler(signalingHub, svc, wsHandler.HandlerConfig{
		MaxConnections: cfg.Signaling.MaxWSConnections,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// 6. Handlers
	var events callHandler.EventLister
	if eventRepo != nil {
		events = eventRepo
	}
	callHdlr := callHandler.NewHandler(svc, events)

	// 7. Router
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.HealthCheck(serviceName, healthCheck(st, redisDB)))
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(prometheusMiddleware.Handler())

	router.GET("/metrics", middleware.MetricsHandler(prometheus.DefaultGatherer))

	var revocationChecker middleware.RevocationChecker
	if redisDB != nil {
		revocationChecker = middleware.NewRedisRevocationChecker(redisDB.Client)
	}

	calls := router.Group("/v1/calls")
	calls.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	if st.pool != nil {
		calls.Use(middleware.NewDBPoolLimiter(st.pool).Middleware())
	}
	{
		callHdlr.RegisterRoutes(calls)
		calls.GET("/ws/signaling", signalingHdlr.ServeWS)
	}

	// 8. Serve until signalled
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Signaling service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Backend),
			zap.Bool("redis", redisDB != nil),
			zap.Bool("journal", eventRepo != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down signaling service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		logger.Warn("Using in-memory session store; state is lost on restart")
		membership := memory.NewMembershipRepository()
		for chatID, members := range cfg.Store.MemoryMembers {
			membership.SetMembers(chatID, members...)
		}
		if len(cfg.Store.MemoryMembers) == 0 {
			logger.Warn("MEMORY_CHAT_MEMBERS is empty; every call request will be forbidden")
		}
		return &stores{
			calls:      memory.NewCallRepository(),
			membership: membership,
			ping:       func(context.Context) error { return nil },
			close:      func() {},
		}, nil

	case config.StoreCockroach:
		var db *database.CockroachDB
		err := connectWithRetry(ctx, "cockroach", func() error {
			var connErr error
			db, connErr = database.NewCockroachDB(ctx, &database.CockroachConfig{
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				Database: cfg.Database.Database,
				SSLMode:  cfg.Database.SSLMode,
				MaxConns: int32(cfg.Database.MaxConns),
			})
			return connErr
		})
		if err != nil {
			return nil, err
		}
		return &stores{
			calls:      cockroach.NewCallRepository(db.Pool),
			membership: cockroach.NewConversationRepository(db.Pool),
			pool:       db.Pool,
			ping:       db.Ping,
			close:      db.Close,
		}, nil

	case config.StoreMongo:
		var mdb *database.MongoDB
		err := connectWithRetry(ctx, "mongo", func() error {
			var connErr error
			mdb, connErr = database.NewMongoDB(ctx, &database.MongoConfig{
				URI:      cfg.Mongo.URI,
				Database: cfg.Mongo.Database,
			})
			return connErr
		})
		if err != nil {
			return nil, err
		}
		callRepo := mongoRepo.NewCallRepository(mdb.DB)
		if err := callRepo.EnsureIndexes(ctx); err != nil {
			logger.Warn("Failed to ensure call indexes", zap.Error(err))
		}
		return &stores{
			calls:      callRepo,
			membership: mongoRepo.NewChatMembershipRepository(mdb.DB),
			ping:       mdb.Ping,
			close:      func() { _ = mdb.Close(context.Background()) },
		}, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// connectWithRetry retries connect with exponential backoff
func connectWithRetry(ctx context.Context, name string, connect func() error) error {
	const maxRetries = 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err = connect(); err == nil {
			logger.Info("Connected", zap.String("backend", name), zap.Int("attempt", attempt))
			return nil
		}
		if attempt == maxRetries {
			break
		}

		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("Connection attempt failed, retrying",
			zap.String("backend", name),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, maxRetries, err)
}

func healthCheck(st *stores, redisDB *database.RedisDB) func(c *gin.Context) map[string]string {
	return func(c *gin.Context) map[string]string {
		ctx, cancel := appctx.WithStoreTimeout(c.Request.Context())
		defer cancel()

		deps := map[string]string{"store": "ok"}
		if err := st.ping(ctx); err != nil {
			deps["store"] = err.Error()
		}
		if redisDB != nil {
			deps["redis"] = "ok"
			if redisDB.IsDegraded() {
				deps["redis"] = "degraded"
			}
		}
		return deps
	}
}
