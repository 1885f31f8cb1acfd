// Package app wires configuration, logging, tracing, storage, the click
// counter and the HTTP router together and runs the server until a
// termination signal arrives.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tokenshrt/internal/auth"
	"github.com/patric-chuzhbe/tokenshrt/internal/clickcounter"
	"github.com/patric-chuzhbe/tokenshrt/internal/config"
	"github.com/patric-chuzhbe/tokenshrt/internal/db/jsondb"
	"github.com/patric-chuzhbe/tokenshrt/internal/db/memorystorage"
	"github.com/patric-chuzhbe/tokenshrt/internal/db/postgresdb"
	"github.com/patric-chuzhbe/tokenshrt/internal/identity"
	"github.com/patric-chuzhbe/tokenshrt/internal/ipchecker"
	"github.com/patric-chuzhbe/tokenshrt/internal/logger"
	"github.com/patric-chuzhbe/tokenshrt/internal/metrics"
	"github.com/patric-chuzhbe/tokenshrt/internal/models"
	"github.com/patric-chuzhbe/tokenshrt/internal/ratelimit"
	"github.com/patric-chuzhbe/tokenshrt/internal/router"
	"github.com/patric-chuzhbe/tokenshrt/internal/service"
	"github.com/patric-chuzhbe/tokenshrt/internal/shortid"
	"github.com/patric-chuzhbe/tokenshrt/internal/tracing"
	"github.com/patric-chuzhbe/tokenshrt/internal/user"
)

type userKeeper interface {
	FindUserByToken(ctx context.Context, token string) (*user.User, bool, error)
	UpsertUser(ctx context.Context, uid, token string) (string, error)
}

type urlsMapper interface {
	InsertShortURL(
		ctx context.Context,
		short,
		long,
		token string,
		createdAt time.Time,
	) error

	FindFullByShort(ctx context.Context, short string) (string, bool, error)

	AddClicks(ctx context.Context, clicks map[string]int64) error
}

type userUrlsKeeper interface {
	GetUserUrls(
		ctx context.Context,
		uid string,
		shortURLFormatter models.URLFormatter,
	) (models.UserUrls, error)

	GetNumberOfShortenedURLs(ctx context.Context) (int64, error)

	GetNumberOfUsers(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storage interface {
	userKeeper
	urlsMapper
	userUrlsKeeper
	pinger
	Close() error
}

// App holds everything the running service owns.
type App struct {
	cfg              *config.Config
	db               storage
	redis            *redis.Client
	clickCounter     *clickcounter.ClickCounter
	stopClickCounter context.CancelFunc
	shutdownTracing  tracing.ShutdownFunc
	httpHandler      http.Handler
}

type InitOption func(*initOptions)

type initOptions struct {
	configOptions []config.InitOption
}

// WithConfigOptions forwards options to config.New.
func WithConfigOptions(options ...config.InitOption) InitOption {
	return func(o *initOptions) {
		o.configOptions = append(o.configOptions, options...)
	}
}

// New loads the configuration and builds every component. On error the
// components built so far are released.
func New(optionsProto ...InitOption) (*App, error) {
	options := &initOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	a := &App{shutdownTracing: func(context.Context) error { return nil }}
	if err := a.init(options); err != nil {
		if releaseErr := a.release(); releaseErr != nil {
			logger.Log.Errorw("Error calling the `a.release()`", zap.Error(releaseErr))
		}
		return nil, err
	}

	return a, nil
}

func (a *App) init(options *initOptions) error {
	var err error

	a.cfg, err = config.New(options.configOptions...)
	if err != nil {
		return err
	}

	err = logger.Init(a.cfg.LogLevel)
	if err != nil {
		return err
	}

	metrics.Init()

	a.shutdownTracing, err = tracing.Init(a.cfg.OTLPEndpoint, a.cfg.ServiceName)
	if err != nil {
		return err
	}

	a.db, err = getStorageByType(a.cfg)
	if err != nil {
		return err
	}

	ids, err := getIdentifierGenerator(a.cfg)
	if err != nil {
		return err
	}

	serviceOptions := []service.Option{}
	if a.cfg.ClickCounting {
		a.clickCounter = clickcounter.New(
			a.db,
			a.cfg.ClickQueueCapacity,
			a.cfg.ClickFlushInterval,
		)
		clickCounterRunCtx, stopClickCounter := context.WithCancel(context.Background())
		a.stopClickCounter = stopClickCounter

		a.clickCounter.Run(clickCounterRunCtx)
		a.clickCounter.ListenErrors(func(err error) {
			logger.Log.Errorw("Error passed from the `a.clickCounter.ListenErrors()`", zap.Error(err))
		})

		serviceOptions = append(serviceOptions, service.WithClickCounter(a.clickCounter))
	}

	svc := service.New(a.db, ids, a.cfg.ShortURLBase, serviceOptions...)

	stateSecret, err := getStateSecret(a.cfg)
	if err != nil {
		return err
	}

	guard, err := ipchecker.New(a.cfg.TrustedSubnet, a.cfg.TrustedProxies)
	if err != nil {
		return err
	}

	routerOptions := []router.Option{router.WithCORS(a.cfg.CORSAllowedOrigins)}
	if a.cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		routerOptions = append(routerOptions, router.WithRateLimit(ratelimit.Middleware(
			ratelimit.New(a.redis),
			"urls_new",
			a.cfg.RateLimitRequests,
			a.cfg.RateLimitWindow,
			guard.ClientKey,
		)))
	}

	a.httpHandler = tracing.WithTracingHTTPMiddleware(router.New(
		svc,
		auth.New(svc, stateSecret, a.cfg.OAuthStateTTL),
		identity.NewDiscord(a.cfg.ClientID, a.cfg.ClientSecret, a.cfg.AuthCallbackURL),
		guard,
		routerOptions...,
	))

	return nil
}

// Run serves HTTP until SIGINT/SIGTERM, then shuts the server down, flushes
// the pending clicks and closes the storage.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Infow("server running", "RunAddr", a.cfg.RunAddr, "ShortURLBase", a.cfg.ShortURLBase)

	server := &http.Server{
		Addr:              a.cfg.RunAddr,
		Handler:           a.httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Log.Infoln("Received shutdown signal. Flushing clicks and exiting...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		return a.release()

	case err := <-serverErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return a.release()
		}
		_ = a.release()
		return fmt.Errorf("server error: %w", err)
	}
}

// Close finalizes resources used by App such as logging and tracing.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.shutdownTracing(ctx); err != nil {
		logger.Log.Errorw("tracer shutdown error", zap.Error(err))
	}

	if err := logger.Sync(); err != nil {
		fmt.Println("Logger sync error:", err)
	}
}

// release stops the click counter after its final flush, then closes the
// storage and the Redis client.
func (a *App) release() error {
	if a.stopClickCounter != nil {
		a.stopClickCounter()
		<-a.clickCounter.Done()
		a.stopClickCounter = nil
	}

	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
		a.db = nil
	}

	return errors.Join(errs...)
}

func getAvailableStorageType(cfg *config.Config) int {
	if cfg.DatabaseDSN != "" {
		return models.StorageTypePostgresql
	}

	if cfg.DBFileName != "" {
		return models.StorageTypeFile
	}

	return models.StorageTypeMemory
}

func getStorageByType(cfg *config.Config) (storage, error) {
	switch getAvailableStorageType(cfg) {
	case models.StorageTypeUnknown:
		return nil, errors.New("unknown storage type")

	case models.StorageTypePostgresql:
		db, err := postgresdb.New(
			context.Background(),
			cfg.DatabaseDSN,
			cfg.DBConnectionTimeout,
		)
		if err != nil {
			return nil, err
		}
		return db, nil

	case models.StorageTypeFile:
		db, err := jsondb.New(cfg.DBFileName)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	return memorystorage.New(), nil
}

func getIdentifierGenerator(cfg *config.Config) (shortid.Generator, error) {
	if cfg.IDGenerator == "clock" {
		logger.Log.Warnln("the clock identifier generator is predictable and collides under concurrency")
		return shortid.NewClock(time.Now), nil
	}

	return shortid.NewRandom()
}

func getStateSecret(cfg *config.Config) ([]byte, error) {
	if cfg.OAuthStateSecret != "" {
		return []byte(cfg.OAuthStateSecret), nil
	}

	logger.Log.Warnln("OAUTH_STATE_SECRET is not set, using a per-process random key")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("in internal/app/app.go/getStateSecret(): error while `rand.Read()` calling: %w", err)
	}

	return secret, nil
}
