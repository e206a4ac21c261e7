package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"taskflow/internal/config"
	"taskflow/internal/directory"
	"taskflow/internal/handlers"
	"taskflow/internal/identity"
	"taskflow/internal/logger"
	"taskflow/internal/middleware"
	"taskflow/internal/models/user"
	"taskflow/internal/notify"
	"taskflow/internal/repository/inmemory"
	"taskflow/internal/repository/postgres"
	"taskflow/internal/repository/sqlite"
	"taskflow/internal/service"
	"taskflow/internal/worker"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// store is what every repository backend provides: tasks, assignments and a user table
// that can stand in for the directory.
type store interface {
	service.Repository
	service.UserDirectory
	PutUser(ctx context.Context, u *user.User) error
}

type App struct {
	config     *config.Config
	server     *http.Server
	router     *chi.Mux
	repository store
	directory  service.UserDirectory
	dispatcher *worker.Dispatcher
	reconciler *worker.Reconciler
	service    *service.TaskService
	shutdowns  []func() // run in reverse order on Shutdown
}

func New(cfg *config.Config) *App {
	return &App{
		config:    cfg,
		shutdowns: make([]func(), 0),
	}
}

func (a *App) Init(ctx context.Context) error {
	if err := logger.Init(a.config.Logging.Development); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	a.shutdowns = append(a.shutdowns, func() {
		logger.Info("App: flushing logs")
		logger.Sync()
	})

	if err := a.initRepository(ctx); err != nil {
		return err
	}
	if err := a.initDirectory(ctx); err != nil {
		return err
	}
	if err := a.initDispatcher(ctx); err != nil {
		return err
	}

	a.service = service.NewTaskService(a.repository, a.directory, a.dispatcher,
		service.WithMaxRetries(*a.config.Engine.MaxRetries),
	)

	if a.config.Reconciler.Enabled {
		a.reconciler = worker.NewReconciler(a.repository, &a.config.Reconciler.Interval, &a.config.Reconciler.BatchSize)
	}

	a.initRouter()
	a.server = &http.Server{
		Addr:              a.config.GetServerAddr(),
		Handler:           otelhttp.NewHandler(a.router, "taskflow"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (a *App) initRepository(ctx context.Context) error {
	switch a.config.Repository.Type {
	case config.RepositoryPostgres:
		storage, err := postgres.New(ctx, a.config.Database)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if a.config.Database.Migrate {
			if err := storage.Migrate(ctx); err != nil {
				storage.Close()
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		a.shutdowns = append(a.shutdowns, storage.Close)
		a.repository = storage

	case config.RepositorySQLite:
		storage, err := sqlite.Open(ctx, a.config.Repository.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.shutdowns = append(a.shutdowns, func() {
			if err := storage.Close(); err != nil {
				logger.Error("App: close sqlite", err)
			}
		})
		a.repository = storage

	default:
		a.repository = inmemory.NewStorage()
	}

	logger.Info("App: repository ready", zap.String("type", a.config.Repository.Type))
	return nil
}

func (a *App) initDirectory(ctx context.Context) error {
	if a.config.Directory.Type == config.DirectoryCognito {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.config.Directory.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		a.directory = directory.NewCognito(cip.NewFromConfig(awsCfg), a.config.Directory.UserPoolID)
		logger.Info("App: cognito directory ready", zap.String("user_pool_id", a.config.Directory.UserPoolID))
		return nil
	}

	for _, seed := range a.config.Directory.Users {
		u := &user.User{
			Subject:   seed.Subject,
			Email:     strings.ToLower(strings.TrimSpace(seed.Email)),
			Name:      seed.Name,
			Enabled:   !seed.Disabled,
			Groups:    seed.Groups,
			CreatedAt: time.Now().UTC(),
		}
		if u.Name == "" {
			u.Name, _, _ = strings.Cut(u.Email, "@")
		}
		if err := a.repository.PutUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
	}
	a.directory = a.repository
	logger.Info("App: store directory ready", zap.Int("seeded", len(a.config.Directory.Users)))
	return nil
}

func (a *App) initDispatcher(ctx context.Context) error {
	var sink notify.Sink = notify.LogSink{}
	if a.config.Notifications.Sink == config.SinkSNS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.config.Notifications.Region))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
		sink = notify.NewSNSSink(sns.NewFromConfig(awsCfg), a.config.Notifications.TopicARN)
	}

	a.dispatcher = worker.NewDispatcher(sink, a.config.Notifications.QueueSize, a.config.Notifications.Workers)
	a.dispatcher.Start()
	a.shutdowns = append(a.shutdowns, func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.dispatcher.Stop(ctx); err != nil {
			logger.Error("App: notifications left undelivered", err)
		}
	})

	logger.Info("App: notification dispatcher started",
		zap.String("sink", a.config.Notifications.Sink),
		zap.Int("workers", a.config.Notifications.Workers))
	return nil
}

func (a *App) initRouter() {
	verifier := identity.NewVerifier(a.config.Auth.JWTSecret, a.config.Auth.Issuer, a.config.Auth.AdminGroup)
	taskHandler := handlers.NewTaskHandler(a.service)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.config.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(middleware.RateLimit(a.config.Server.RateLimit))
	r.Use(chimw.Timeout(a.config.Server.RequestTimeout))

	r.Get("/health", taskHandler.HealthCheck)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(verifier))
		taskHandler.Routes(r)
	})

	a.router = r
}

// Handler exposes the router for in-process tests.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves HTTP until ctx is cancelled or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if a.reconciler != nil {
		workerCtx, cancel := context.WithCancel(ctx)
		a.shutdowns = append(a.shutdowns, cancel)
		go a.reconciler.Start(workerCtx)
		logger.Info("App: reconciler started", zap.Duration("interval", a.config.Reconciler.Interval))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("App: server started", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("App: shutdown requested")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("App: server failed", serveErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("App: server shutdown", err)
	}
	a.Shutdown()
	return serveErr
}

func (a *App) Shutdown() {
	for i := len(a.shutdowns) - 1; i >= 0; i-- {
		a.shutdowns[i]()
	}
	a.shutdowns = nil
}
