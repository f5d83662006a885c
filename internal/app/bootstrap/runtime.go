package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	cacheadapter "github.com/viralforge/ppv-access-service/internal/adapters/cache"
	eventadapter "github.com/viralforge/ppv-access-service/internal/adapters/events"
	grpcadapter "github.com/viralforge/ppv-access-service/internal/adapters/grpc"
	httpadapter "github.com/viralforge/ppv-access-service/internal/adapters/http"
	"github.com/viralforge/ppv-access-service/internal/adapters/memory"
	"github.com/viralforge/ppv-access-service/internal/adapters/payment"
	"github.com/viralforge/ppv-access-service/internal/adapters/postgres"
	"github.com/viralforge/ppv-access-service/internal/adapters/security"
	"github.com/viralforge/ppv-access-service/internal/adapters/securitygate"
	"github.com/viralforge/ppv-access-service/internal/application"
	"github.com/viralforge/ppv-access-service/internal/ports"
)

const devWebhookSecret = "whsec_local_development"

type Runtime struct {
	cfg          Config
	logger       *slog.Logger
	service      *application.Service
	httpServer   *http.Server
	grpcServer   *grpc.Server
	grpcLis      net.Listener
	outbox       *eventadapter.OutboxWorker
	inlineOutbox bool
	cleanupFn    func(context.Context)
}

// storage groups the repositories and coordination stores picked by STORE_DRIVER.
type storage struct {
	events      ports.EventRepository
	purchases   ports.PurchaseRepository
	tokens      ports.AccessTokenRepository
	violations  ports.ViolationRepository
	outbox      ports.OutboxRepository
	locker      ports.Locker
	revocations ports.RevocationStore
	ready       func(context.Context) error
	closers     []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("bootstrapping ppv access service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"store_driver", cfg.StoreDriver,
		"payment_driver", cfg.PaymentDriver,
		"security_gate_driver", cfg.SecurityGateDriver,
		"event_publisher", cfg.EventPublisher,
	)

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	fail := func(err error) (*Runtime, error) {
		store.close()
		return nil, err
	}

	payments, webhooks, err := newPayments(cfg, logger)
	if err != nil {
		return fail(err)
	}
	gate, err := newSecurityGate(cfg, logger)
	if err != nil {
		return fail(err)
	}

	playback, err := security.NewPlaybackSigner(cfg.PlaybackKeyID, cfg.PlaybackIssuer, cfg.PlaybackPrivateKeyPEM, cfg.PlaybackPublicKeyPEM)
	if err != nil {
		if !cfg.AllowEphemeralPlaybackKey {
			return fail(fmt.Errorf("init playback signer: %w", err))
		}
		logger.Warn("using ephemeral playback keys for local/dev runtime")
		playback, err = security.NewEphemeralPlaybackSigner(cfg.PlaybackKeyID, cfg.PlaybackIssuer)
		if err != nil {
			return fail(fmt.Errorf("init ephemeral playback signer: %w", err))
		}
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:               cfg.ServiceID,
			AccessValidity:            cfg.AccessValidity,
			MaxConcurrentDevices:      cfg.MaxConcurrentDevices,
			DeviceInactivityTimeout:   cfg.DeviceInactivityTimeout,
			HeartbeatInterval:         cfg.HeartbeatInterval,
			MinChargeMinor:            cfg.MinChargeMinor,
			DefaultCurrency:           cfg.DefaultCurrency,
			ViolationSuspendThreshold: cfg.ViolationSuspendThreshold,
			CriticalViolationTypes:    cfg.CriticalViolationTypes,
			SecurityGateTimeout:       cfg.SecurityGateTimeout,
			PaymentProviderTimeout:    cfg.PaymentProviderTimeout,
			IntentLockTTL:             cfg.IntentLockTTL,
			PlaybackGrantTTL:          cfg.PlaybackGrantTTL,
			AccessBaseURL:             cfg.AccessBaseURL,
		},
		Events:       store.events,
		Purchases:    store.purchases,
		Tokens:       store.tokens,
		Violations:   store.violations,
		Outbox:       store.outbox,
		Locker:       store.locker,
		Revocations:  store.revocations,
		SecurityGate: gate,
		Payments:     payments,
		Webhooks:     webhooks,
		TokenGen:     security.NewRandomTokenGenerator(),
		Playback:     playback,
	})

	if len(cfg.Catalog) > 0 {
		if err := svc.SeedCatalog(ctx, cfg.Catalog); err != nil {
			return fail(fmt.Errorf("seed catalog: %w", err))
		}
	}

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return fail(err)
	}
	store.closers = append(store.closers, closePublisher)

	trusted, err := httpadapter.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fail(err)
	}
	handler := httpadapter.NewHandler(svc, httpadapter.WithReadiness(store.ready))
	router := httpadapter.NewRouter(handler, httpadapter.RouterConfig{
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		TrustedProxies:    trusted,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	grpcadapter.Register(grpcServer, grpcadapter.NewAccessServer(svc))

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fail(fmt.Errorf("listen gRPC: %w", err))
	}

	outbox := eventadapter.NewOutboxWorker(logger, store.outbox, publisher, eventadapter.OutboxWorkerConfig{
		Interval:   cfg.OutboxPollInterval,
		BatchSize:  cfg.OutboxBatchSize,
		ClaimTTL:   cfg.OutboxClaimTTL,
		MaxRetries: cfg.OutboxMaxRetries,
	})

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		httpServer: httpServer,
		grpcServer: grpcServer,
		grpcLis:    lis,
		outbox:     outbox,
		// The memory outbox lives in the API process, so nothing else can drain it.
		inlineOutbox: cfg.StoreDriver == StoreDriverMemory,
		cleanupFn: func(context.Context) {
			store.close()
		},
	}, nil
}

func openStorage(ctx context.Context, cfg Config, logger *slog.Logger) (*storage, error) {
	if cfg.StoreDriver == StoreDriverMemory {
		logger.Warn("using in-memory storage; state is lost on restart")
		repos := memory.NewRepositories()
		store := &storage{
			events:      repos.Events,
			purchases:   repos.Purchases,
			tokens:      repos.Tokens,
			violations:  repos.Violations,
			outbox:      repos.Outbox,
			locker:      memory.NewLocker(),
			revocations: memory.NewRevocationStore(),
			ready:       func(context.Context) error { return nil },
		}
		return store, nil
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := pool.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repos := postgres.NewRepositories(pool)
	store := &storage{
		events:     repos.Events,
		purchases:  repos.Purchases,
		tokens:     repos.Tokens,
		violations: repos.Violations,
		outbox:     repos.Outbox,
		closers:    []func(){func() { _ = sqlDB.Close() }},
	}

	if cfg.RedisURL == "" {
		// Postgres advisory locks still serialize completion; the Redis lock
		// only spares the payment provider duplicate lookups across replicas.
		logger.Warn("REDIS_URL not set; intent locks and revocation cache are process local")
		store.locker = memory.NewLocker()
		store.revocations = memory.NewRevocationStore()
		store.ready = sqlDB.PingContext
		return store, nil
	}

	redisClient, err := cacheadapter.Connect(ctx, cfg.RedisURL)
	if err != nil {
		store.close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	store.closers = append(store.closers, func() { _ = redisClient.Close() })
	store.locker = cacheadapter.NewRedisLocker(redisClient, logger)
	store.revocations = cacheadapter.NewRedisRevocationStore(redisClient)
	store.ready = func(ctx context.Context) error {
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
	return store, nil
}

func newPayments(cfg Config, logger *slog.Logger) (ports.PaymentProvider, ports.WebhookVerifier, error) {
	secret := cfg.PaymentWebhookSecret
	var provider ports.PaymentProvider
	switch cfg.PaymentDriver {
	case PaymentDriverDev:
		logger.Warn("using development payment provider", "auto_settle", cfg.PaymentDevAutoSettle)
		provider = payment.NewDevProvider(cfg.PaymentDevAutoSettle)
		if secret == "" {
			secret = devWebhookSecret
		}
	default:
		httpProvider, err := payment.NewHTTPProvider(payment.HTTPProviderConfig{
			BaseURL:    cfg.PaymentBaseURL,
			SecretKey:  cfg.PaymentSecretKey,
			HTTPClient: &http.Client{Timeout: cfg.PaymentProviderTimeout},
			Logger:     logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init payment provider: %w", err)
		}
		provider = httpProvider
	}
	verifier, err := payment.NewWebhookVerifier(secret, payment.DefaultWebhookTolerance)
	if err != nil {
		return nil, nil, fmt.Errorf("init webhook verifier: %w", err)
	}
	return provider, verifier, nil
}

func newSecurityGate(cfg Config, logger *slog.Logger) (ports.SecurityGate, error) {
	if cfg.SecurityGateDriver == GateDriverHeuristic {
		logger.Warn("using local heuristic security gate", "threshold", cfg.SecurityGateThreshold)
		return securitygate.NewHeuristicGate(cfg.SecurityGateThreshold), nil
	}
	gate, err := securitygate.NewHTTPGate(securitygate.HTTPGateConfig{
		BaseURL:    cfg.SecurityGateURL,
		APIKey:     cfg.SecurityGateAPIKey,
		HTTPClient: &http.Client{Timeout: cfg.SecurityGateTimeout},
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init security gate: %w", err)
	}
	return gate, nil
}

func newPublisher(cfg Config, logger *slog.Logger) (ports.EventPublisher, func(), error) {
	if cfg.EventPublisher != PublisherKafka {
		return eventadapter.NewLoggingPublisher(logger), func() {}, nil
	}
	publisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopics)
	if err != nil {
		return nil, nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	return publisher, func() { _ = publisher.Close() }, nil
}

func (r *Runtime) RunAPI(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 3)
	go func() {
		r.logger.Info("http server started", "addr", r.httpServer.Addr)
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		r.logger.Info("grpc server started", "addr", r.grpcLis.Addr().String())
		if err := r.grpcServer.Serve(r.grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	if r.inlineOutbox {
		go func() {
			r.logger.Info("outbox worker started in-process")
			if err := r.outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("outbox worker: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
	case err := <-errCh:
		r.logger.Error("server failure", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = r.httpServer.Shutdown(shutdownCtx)
	r.grpcServer.GracefulStop()
	r.cleanupFn(shutdownCtx)
	return nil
}

func (r *Runtime) RunWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.inlineOutbox {
		return errors.New("outbox worker requires STORE_DRIVER=postgres")
	}
	_ = r.grpcLis.Close()

	r.logger.Info("outbox worker started")
	err := r.outbox.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.cleanupFn(shutdownCtx)
	return nil
}
