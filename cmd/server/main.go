package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jengzang/lifecycle-backend-go/internal/analysis"
	"github.com/jengzang/lifecycle-backend-go/internal/app"
	"github.com/jengzang/lifecycle-backend-go/internal/config"
	"github.com/jengzang/lifecycle-backend-go/internal/export"
	"github.com/jengzang/lifecycle-backend-go/internal/logging"
	"github.com/jengzang/lifecycle-backend-go/internal/middleware"
	"github.com/jengzang/lifecycle-backend-go/internal/models"
	"github.com/jengzang/lifecycle-backend-go/internal/tracking"
)

const shutdownTimeout = 10 * time.Second

var (
	// Global flags
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:          "lifecycle",
	Short:        "Lifecycle backend: visit timeline and sleep inference",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, tracking engine and scheduler",
	RunE:  runServe,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Feed a newline-delimited JSON event log through the tracking engine",
	Long: `Each line is one event object with a "type" of location, activity or geofence:

  {"type":"activity","kind":"still","entering":true,"time":1717452000000}
  {"type":"location","latitude":48.2,"longitude":16.37,"accuracy":15,"time":1717452060000}
  {"type":"geofence","placeId":3,"transition":"exit","time":1717480800000}

The active session is finalized at the last event time.`,
	RunE: runReplay,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a JSON backup of places, visits and sleep records",
	RunE:  runExport,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rerun sleep inference over stored stays",
	RunE:  runBackfill,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API bearer token signed with the configured secret",
	RunE:  runToken,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("LIFECYCLE_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	replayCmd.Flags().StringP("file", "f", "", "Event log to replay (required)")
	_ = replayCmd.MarkFlagRequired("file")

	exportCmd.Flags().StringP("out", "o", "-", "Output path, - for stdout")

	backfillCmd.Flags().Int("hours", 0, "Lookback window in hours (default: scheduler.lookback_hours)")

	tokenCmd.Flags().String("subject", "owner", "Token subject")
	tokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "Token lifetime")

	rootCmd.AddCommand(serveCmd, replayCmd, exportCmd, backfillCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		closeApp(a)
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		logger.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = eg.Wait()
	closeApp(a)
	return err
}

func runReplay(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := cmd.Context()
	if err := a.Engine.Start(ctx); err != nil {
		return err
	}

	stats, err := tracking.Replay(ctx, a.Engine, f)
	logger.Info("Replay finished",
		zap.Int("lines", stats.Lines),
		zap.Int("applied", stats.Applied),
		zap.Int("failed", stats.Failed),
	)
	return err
}

func runExport(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(a)

	if out == "-" {
		return a.Export(cmd.Context(), cmd.OutOrStdout())
	}

	snap, err := a.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	if err := export.WriteFile(out, snap); err != nil {
		return err
	}
	logger.Info("Exported timeline",
		zap.String("path", out),
		zap.Int("places", len(snap.Places)),
		zap.Int("visits", len(snap.Visits)),
		zap.Int("sleep", len(snap.Sleep)),
	)
	return nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	hours, _ := cmd.Flags().GetInt("hours")
	if hours <= 0 {
		hours = cfg.Scheduler.LookbackHours
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp(a)

	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)
	task, err := a.Tasks.RunTask(cmd.Context(), models.CreateTaskRequest{
		SkillName: analysis.SkillSleepBackfill,
		FromTime:  from.UnixMilli(),
		ToTime:    to.UnixMilli(),
	}, "cli")
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(task)
}

func runToken(cmd *cobra.Command, args []string) error {
	if cfg.Server.JWTSecret == "" {
		return errors.New("server.jwt_secret is not set")
	}
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	token, err := middleware.IssueToken(cfg.Server.JWTSecret, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		logger.Error("Failed to close", zap.Error(err))
	}
}
