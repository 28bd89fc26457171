package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/amaumene/shelfsync/internal/api"
	"github.com/amaumene/shelfsync/internal/config"
	"github.com/amaumene/shelfsync/internal/models"
	"github.com/amaumene/shelfsync/internal/scheduler"
	"github.com/amaumene/shelfsync/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "shelfsync",
		Short:         "Keep a personal media library in sync with its remote store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the sync engine and HTTP API",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print the library",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app) error {
					return printJSON(cmd.OutOrStdout(), a.library.LoadLibrary(ctx))
				})
			},
		},
		&cobra.Command{
			Use:   "add <status> <item-json|->",
			Short: "Add an item to the library",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var item models.LibraryItem
				if err := decodeArg(cmd.InOrStdin(), args[1], &item); err != nil {
					return err
				}
				return withApp(cmd, func(ctx context.Context, a *app) error {
					return mutationResult(cmd.OutOrStdout(), "add", a.library.AddItem(ctx, item, models.Status(args[0])))
				})
			},
		},
		&cobra.Command{
			Use:   "update <id> <update-json|->",
			Short: "Update fields of a library item",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var update models.ItemUpdate
				if err := decodeArg(cmd.InOrStdin(), args[1], &update); err != nil {
					return err
				}
				return withApp(cmd, func(ctx context.Context, a *app) error {
					return mutationResult(cmd.OutOrStdout(), "update", a.library.UpdateItem(ctx, args[0], update))
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Remove an item from the library",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd, func(ctx context.Context, a *app) error {
					return mutationResult(cmd.OutOrStdout(), "delete", a.library.DeleteItem(ctx, args[0]))
				})
			},
		},
	)

	return root
}

func runServe(ctx context.Context) error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Setup logger and tracing
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFile)
	logger.Info("Starting shelfsync")
	logger.WithFields(logrus.Fields{
		"user_id": cfg.UserID,
		"driver":  cfg.RemoteDriver,
		"cache":   cfg.CacheBackend,
	}).Info("Configuration loaded")

	shutdownTracing := utils.SetupTracing(logger)
	defer shutdownTracing(context.Background())

	// 3. Open stores and build the library controller
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// 4. Initialize scheduler
	sched := scheduler.NewScheduler(a.library, cfg.SyncInterval, cfg.TriggerMinInterval, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// 5. Initialize HTTP server
	server := api.NewServer(cfg, a.library, sched, a.registry, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			serverErrChan <- err
		}
	}()

	// 6. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("shelfsync is running")

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
		if err := server.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Error("Error during server shutdown")
		}
	}

	logger.Info("shelfsync stopped")
	return nil
}

// withApp wires the stores for a one-shot command. Logs go to stderr so the
// JSON on stdout stays clean.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFile)
	logger.SetOutput(cmd.ErrOrStderr())
	if cfg.LogLevel == "info" {
		logger.SetLevel(logrus.WarnLevel)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

// decodeArg parses arg as JSON, reading stdin when arg is "-"
func decodeArg(stdin io.Reader, arg string, v any) error {
	var r io.Reader = strings.NewReader(arg)
	if arg == "-" {
		r = stdin
	}
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("failed to parse JSON argument: %w", err)
	}
	return nil
}

func mutationResult(w io.Writer, op string, ok bool) error {
	if err := printJSON(w, map[string]bool{"success": ok}); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s failed, see log for details", op)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
