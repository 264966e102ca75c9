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

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/opdesk/opdesk/internal/config"
	"github.com/opdesk/opdesk/internal/domain/booking"
	"github.com/opdesk/opdesk/internal/domain/directory"
	"github.com/opdesk/opdesk/internal/domain/queue"
	"github.com/opdesk/opdesk/internal/platform/auth"
	"github.com/opdesk/opdesk/internal/platform/db"
	"github.com/opdesk/opdesk/internal/platform/middleware"
)

// PatientDirectoryAdapter adapts the directory service to the
// queue.PatientDirectory interface, avoiding circular imports between the
// queue and directory packages.
type PatientDirectoryAdapter struct {
	svc *directory.Service
}

// NewPatientDirectoryAdapter creates a new adapter.
func NewPatientDirectoryAdapter(svc *directory.Service) *PatientDirectoryAdapter {
	return &PatientDirectoryAdapter{svc: svc}
}

// Lookup implements queue.PatientDirectory.
func (a *PatientDirectoryAdapter) Lookup(ctx context.Context, id uuid.UUID) (*queue.PatientInfo, error) {
	p, err := a.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, directory.ErrPatientNotFound) {
			return nil, queue.ErrPatientNotFound
		}
		return nil, err
	}
	return &queue.PatientInfo{
		Name: p.FullName(),
		MRN:  p.MRN,
	}, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "opdesk-server",
		Short: "Outpatient front-desk queue and appointment API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the front-desk API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("down migrations are not supported; restore from a backup instead")
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case "development":
		logger.Warn().Msg("running with development auth; every request is treated as admin")
		e.Use(auth.DevAuthMiddleware())
	default:
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// DB health check endpoint
	e.GET("/health/db", db.HealthHandler(pool))

	// Queue code prefixes and counter contention budget
	prefixMap, err := cfg.QueuePrefixTable()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid queue prefix configuration")
	}
	prefixes := queue.NewPrefixTable(prefixMap, cfg.QueueDefaultPrefix)
	lockTimeout := time.Duration(cfg.QueueLockTimeoutMS) * time.Millisecond

	// Queue domain
	ticketRepo := queue.NewTicketRepoPG(pool, prefixes, lockTimeout)
	eventRepo := queue.NewCallEventRepoPG(pool)
	seqRepo := queue.NewSequenceRepoPG(pool, lockTimeout)
	queueSvc := queue.NewService(ticketRepo, eventRepo, seqRepo)

	// Patient directory domain
	patientRepo := directory.NewPatientRepoPG(pool)
	directorySvc := directory.NewService(patientRepo)

	// Booking domain
	scheduleRepo := booking.NewScheduleRepoPG(pool)
	bookingRepo := booking.NewBookingRepoPG(pool)
	bookingSvc := booking.NewService(scheduleRepo, bookingRepo)

	// Cross-domain wiring. Check-ins issue queue tickets, walk-in capacity
	// comes from the resource schedule, and tickets are decorated with
	// patient names for the display board.
	bookingSvc.SetTicketIssuer(queueSvc)
	queueSvc.SetCapacityProvider(bookingSvc)
	queueSvc.SetPatientDirectory(NewPatientDirectoryAdapter(directorySvc))

	queue.NewHandler(queueSvc).RegisterRoutes(apiV1)
	booking.NewHandler(bookingSvc).RegisterRoutes(apiV1)
	directory.NewHandler(directorySvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
