package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"CrossPoster/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll sources on the configured schedule until interrupted",
	RunE:  runDaemon,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one cycle for every due source and exit",
	RunE:  runOnce,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired edit buffer entries",
	RunE:  runSweep,
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	application, logger, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", logging.Err(err))
		return err
	}
	return nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	application, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	reports, err := application.RunOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range reports {
		s := r.Stats
		status := "done"
		if r.Aborted() {
			status = "aborted"
			failed++
		}
		fmt.Fprintf(out, "%-20s %-8s processed=%d published=%d updated=%d skipped=%d errors=%d\n",
			r.SourceID, status, s.Processed, s.Published, s.Updated, s.Skipped, s.Errors)
		if r.Err != nil {
			fmt.Fprintf(out, "  %v\n", r.Err)
		}
	}
	if len(reports) == 0 {
		fmt.Fprintln(out, "no source is due")
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cycles aborted", failed, len(reports))
	}
	return nil
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd)
	defer stop()

	application, _, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	purged, err := application.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d edit buffer entries\n", purged)
	return nil
}
