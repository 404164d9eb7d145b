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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jordanhubbard/axis/internal/auth"
	"github.com/jordanhubbard/axis/internal/axis"
	"github.com/jordanhubbard/axis/internal/logging"
	"github.com/jordanhubbard/axis/internal/store"
	"github.com/jordanhubbard/axis/pkg/config"
)

const version = "0.1.0"

var configPath string

func main() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "axis",
		Short:   "Axis - workflow governance and task execution service",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("AXIS_CONFIG"), "Path to configuration file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and queue workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, logs, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, logs)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, logs *logging.Manager) error {
	a, err := axis.New(ctx, cfg, logger, logs)
	if err != nil {
		return fmt.Errorf("failed to create axis: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		a.Shutdown(context.Background())
		return err
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Axis API listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case serveErr = <-errCh:
		logger.Error("HTTP server failed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	a.Shutdown(shutdownCtx)
	return serveErr
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	open := func() (*store.SQLStore, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return store.Open(cfg.Database.Driver(), cfg.Database.DataSource())
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.MigrateUp(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.MigrateDown(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			v, dirty, err := st.MigrationVersion()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", v, dirty)
			return nil
		},
	})
	return cmd
}

func newTokenCommand() *cobra.Command {
	var userID, companyID, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			token, err := auth.NewManager(cfg.Security.JWTSecret).GenerateToken(auth.Principal{
				UserID:    userID,
				CompanyID: companyID,
				Role:      auth.Role(role),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().StringVar(&companyID, "company", "", "Company id")
	cmd.Flags().StringVar(&role, "role", string(auth.RoleOwner), "Role: owner, admin or member")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}
