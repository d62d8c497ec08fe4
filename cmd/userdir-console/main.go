package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/userdir/userdir/internal/config"
	"github.com/userdir/userdir/internal/console"
	"github.com/userdir/userdir/internal/directory/api"
	"github.com/userdir/userdir/internal/directory/users"
	"github.com/userdir/userdir/internal/observability/tracing"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// AppState holds all application services
type AppState struct {
	Logger     *zap.Logger
	Config     *config.Config
	Repository *api.Client
	Store      *users.Store
	Directory  *users.DirectoryService
	Console    *console.ConsoleService

	// ShutdownTracing flushes pending spans
	ShutdownTracing func(context.Context) error
}

func main() {
	// Load configuration
	config.Load()

	// Initialize logger with config
	logger := initLogger()
	defer func() { _ = logger.Sync() }()
	logger.Info("Configuration loaded", zap.String("source", "config.Load()"))

	// Tracing must be installed before the repository transport is built
	shutdownTracing, err := tracing.Init(context.Background(), logger.Named("tracing"), "userdir-console", version)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	as, err := newAppState(logger)
	if err != nil {
		logger.Fatal("Failed to initialize application state", zap.Error(err))
	}
	as.ShutdownTracing = shutdownTracing

	// The repository is remote and optional at startup, the directory just starts empty
	ctx, cancel := context.WithTimeout(context.Background(), config.API().Timeout)
	if err := as.Repository.HealthCheck(ctx); err != nil {
		logger.Warn("User repository not reachable at startup", zap.Error(err))
	} else {
		logger.Info("User repository reachable", zap.String("base_url", config.API().BaseURL))
	}
	cancel()

	router := setupRouter(as)

	addr := config.Console().Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	done := setupSignalHandler(as, server, logger)

	logger.Info("Starting user directory console", zap.String("address", addr))

	err = server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	<-done
	logger.Info("Server shutdown complete")
}

// newAppState wires the repository, the store and the console
func newAppState(logger *zap.Logger) (*AppState, error) {
	apiConfig := config.API()
	directoryConfig := config.Directory()

	logger.Info("Repository configuration",
		zap.String("base_url", apiConfig.BaseURL),
		zap.Duration("timeout", apiConfig.Timeout),
		zap.Int("page_size", apiConfig.PageSize))

	repository, err := api.NewClient(api.ClientConfig{
		BaseURL: apiConfig.BaseURL,
		Timeout: apiConfig.Timeout,
	}, logger.Named("repository"))
	if err != nil {
		return nil, fmt.Errorf("failed to create user repository: %w", err)
	}

	validator := users.NewValidator()
	validator.CheckDuplicates = directoryConfig.CheckDuplicates

	policy := users.Policy{
		PageSize:              apiConfig.PageSize,
		IDPolicy:              users.IDPolicy(directoryConfig.IDPolicy),
		TolerateCreateFailure: directoryConfig.TolerateCreateFailure,
		TolerateUpdateFailure: directoryConfig.TolerateUpdateFailure,
	}

	store := users.NewStore(logger.Named("store"))
	directory, err := users.NewDirectoryService(store, repository, validator, policy, logger.Named("directory"))
	if err != nil {
		return nil, fmt.Errorf("failed to create directory service: %w", err)
	}

	logger.Info("Directory configuration",
		zap.String("id_policy", string(policy.IDPolicy)),
		zap.Bool("tolerate_create_failure", policy.TolerateCreateFailure),
		zap.Bool("tolerate_update_failure", policy.TolerateUpdateFailure),
		zap.Bool("check_duplicates", validator.CheckDuplicates))

	cfg := config.Get()
	return &AppState{
		Logger:     logger,
		Config:     cfg,
		Repository: repository,
		Store:      store,
		Directory:  directory,
		Console:    console.NewConsoleService(directory, logger.Named("console"), cfg, repository),
	}, nil
}

// initLogger initializes the zap logger based on configuration
func initLogger() *zap.Logger {
	logConfig := config.Logger()

	var config zap.Config
	if logConfig.Format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	// Set log level
	switch logConfig.Level {
	case "debug":
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		config.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		config.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	return logger
}

func setupRouter(as *AppState) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestLogger(as.Logger))
	router.Use(gin.Recovery())

	as.Console.SetupRoutes(router)

	return router
}

// requestLogger logs every console request through zap instead of gin's stdout logger
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("Console request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func setupSignalHandler(as *AppState, server *http.Server, logger *zap.Logger) chan struct{} {
	done := make(chan struct{}, 1)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalCh

		logger.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Error during server shutdown", zap.Error(err))
		}

		if err := as.ShutdownTracing(ctx); err != nil {
			logger.Error("Error flushing traces", zap.Error(err))
		}

		state := as.Directory.State()
		logger.Info("Directory state at shutdown",
			zap.Int("users", len(state.Users)),
			zap.Int("current_page", state.CurrentPage))

		done <- struct{}{}
	}()

	return done
}
