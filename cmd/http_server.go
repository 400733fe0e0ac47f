package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/expense-approval/internal"
	"github.com/frahmantamala/expense-approval/internal/auth"
	"github.com/frahmantamala/expense-approval/internal/core/events"
	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/notification"
	"github.com/frahmantamala/expense-approval/internal/transport/rest"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config     *internal.Config
	Logger     *slog.Logger
	Store      requestStore
	Bus        *events.EventBus
	Dispatcher *notification.Dispatcher
	Router     *chi.Mux

	closeStore      func() error
	shutdownTracing func(context.Context) error
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "database_driver", deps.Config.Database.Driver)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		deps.shutdown(ctx)
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

// shutdown drains in-flight events and notifications before closing the
// store so late handlers can still read from it.
func (d *Dependencies) shutdown(ctx context.Context) {
	d.Bus.Close()
	if d.Dispatcher != nil {
		d.Dispatcher.Shutdown(ctx)
	}
	if err := d.closeStore(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
	if err := d.shutdownTracing(ctx); err != nil {
		d.Logger.Error("Tracer shutdown error", "error", err)
	}
}

func initializeDependencies() (*Dependencies, error) {
	cfg, lg := mustBootstrap()

	shutdownTracing, err := initTracing(cfg.Observability.Tracing)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(cfg, lg)
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus(lg)
	var dispatcher *notification.Dispatcher
	if cfg.Notification.Enabled {
		dispatcher = notification.NewDispatcher(notification.Config{
			Workers:        cfg.Notification.Workers,
			QueueSize:      cfg.Notification.QueueSize,
			DeliverTimeout: cfg.Notification.DeliverTimeout,
		}, notification.LogNotifier{Logger: lg}, lg)
		dispatcher.Subscribe(bus)
	}

	policy := workflow.DefaultPolicy()
	engine := workflow.NewEngine(store,
		workflow.WithValidator(workflow.NewValidator(policy)),
		workflow.WithPublisher(bus),
		workflow.WithLogger(lg))
	expenseService := expense.NewService(store, engine, bus, lg)
	provider := auth.NewJWTProvider(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenDuration)

	var contract *openapi3.T
	if cfg.Server.ValidateRequests {
		contract, err = rest.LoadContract()
		if err != nil {
			return nil, fmt.Errorf("failed to load API contract: %w", err)
		}
	}

	router := chi.NewRouter()
	err = rest.RegisterAllRoutes(router, rest.Dependencies{
		AuthHandler:    auth.NewHandler(provider),
		ExpenseHandler: expense.NewHandler(expenseService),
		Policy:         policy,
		Health:         rest.NewHealthHandler(map[string]rest.Pinger{cfg.Database.Driver: store}),
		OpenAPI:        contract,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         lg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}

	return &Dependencies{
		Config:          cfg,
		Logger:          lg,
		Store:           store,
		Bus:             bus,
		Dispatcher:      dispatcher,
		Router:          router,
		closeStore:      closeStore,
		shutdownTracing: shutdownTracing,
	}, nil
}
