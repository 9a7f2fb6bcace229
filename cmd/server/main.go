package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/storeops/be-approvals/internal/client"
	"github.com/storeops/be-approvals/internal/config"
	"github.com/storeops/be-approvals/internal/database"
	"github.com/storeops/be-approvals/internal/handler"
	"github.com/storeops/be-approvals/internal/logger"
	"github.com/storeops/be-approvals/internal/middleware"
	"github.com/storeops/be-approvals/internal/repository"
	"github.com/storeops/be-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Approvals Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize NATS. Notification delivery is best-effort, so a missing
	// broker only degrades to log-and-continue.
	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable; notifications disabled")
		} else {
			defer natsConn.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("NATS connection established")
		}
	}
	notifier := client.NewNotificationPublisher(natsConn, log.Logger)

	// Business calendar for business-hours deadlines
	calendar := service.DefaultCalendar()
	if cfg.CalendarPath != "" {
		calendar, err = service.LoadCalendar(cfg.CalendarPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.CalendarPath).Msg("Failed to load business calendar")
		}
		log.Info().Str("path", cfg.CalendarPath).Msg("Business calendar loaded")
	}

	// Initialize repositories
	matrixRepo := repository.NewMatrixRepository(db)
	workflowRepo := repository.NewWorkflowRepository(db)
	stepRepo := repository.NewStepRepository(db)
	delegationRepo := repository.NewDelegationRepository(db)

	// Initialize services
	now := time.Now
	resolver := service.NewMatrixResolver(matrixRepo, now, log)
	delegationResolver := service.NewDelegationResolver(delegationRepo, now)
	deadlineTracker := service.NewDeadlineTracker(calendar, now)
	authorizer := client.NewStaticAuthorizer(cfg.OverrideUserIDs)
	snapshots := client.NewSnapshotHTTPProvider(cfg.SnapshotBaseURL, 10*time.Second)

	workflowService := service.NewWorkflowService(
		resolver,
		delegationResolver,
		deadlineTracker,
		matrixRepo,
		workflowRepo,
		stepRepo,
		snapshots,
		authorizer,
		notifier,
		now,
		log,
	)
	matrixService := service.NewMatrixService(matrixRepo, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(workflowService, matrixService, delegationRepo, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Workflow routes
	mux.HandleFunc("/api/v1/workflows/initiate", httpHandler.InitiateWorkflow)
	mux.HandleFunc("/api/v1/workflows/process", httpHandler.ProcessAction)
	mux.HandleFunc("/api/v1/workflows/cancel", httpHandler.CancelWorkflow)
	mux.HandleFunc("/api/v1/workflows/escalate", httpHandler.EscalateWorkflow)
	mux.HandleFunc("/api/v1/workflows/bulk", httpHandler.BulkProcess)
	mux.HandleFunc("/api/v1/workflows/pending", httpHandler.PendingApprovals)
	mux.HandleFunc("/api/v1/workflows/overdue", httpHandler.OverdueWorkflows)
	mux.HandleFunc("/api/v1/workflows/steps", httpHandler.WorkflowSteps)

	// Matrix routes
	mux.HandleFunc("/api/v1/matrices", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			httpHandler.ListMatrices(w, r)
		case http.MethodPost:
			httpHandler.CreateMatrix(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/matrices/get", httpHandler.GetMatrix)
	mux.HandleFunc("/api/v1/matrices/update", httpHandler.UpdateMatrix)
	mux.HandleFunc("/api/v1/matrices/delete", httpHandler.DeleteMatrix)
	mux.HandleFunc("/api/v1/matrices/duplicate", httpHandler.DuplicateMatrix)
	mux.HandleFunc("/api/v1/matrices/toggle", httpHandler.ToggleMatrix)
	mux.HandleFunc("/api/v1/matrices/statistics", httpHandler.MatrixStatistics)

	// Delegation routes
	mux.HandleFunc("/api/v1/delegations", httpHandler.CreateDelegation)
	mux.HandleFunc("/api/v1/delegations/deactivate", httpHandler.DeactivateDelegation)
	mux.HandleFunc("/api/v1/delegations/targets", httpHandler.DelegationTargets)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Timeout(30 * time.Second)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}
