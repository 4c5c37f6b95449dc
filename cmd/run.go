package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/landrecord-scraper/internal/report"
	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

type runFlags struct {
	scope  scraper.Scope
	format string
	output string
}

// newRunCmd creates the 'run' subcommand, which scrapes one scope and prints
// its report.
func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape one district or taluka and print the run report",
		Long: `Expands the district (and optional taluka) into villages, scrapes
each one with the configured session pool and writes the run report as
JSON or CSV. Interrupting the command cancels the run; units that did not
finish are reported as canceled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.scope.District, "district", "", "district code (required)")
	cmd.Flags().StringVar(&f.scope.Taluka, "taluka", "", "taluka code; empty covers every taluka")
	cmd.Flags().StringVar(&f.scope.SurveyFilter, "survey", "", "only fetch this survey number")
	cmd.Flags().IntVar(&f.scope.MaxUnits, "max-units", 0, "stop after this many villages; 0 uses the config value")
	cmd.Flags().StringVar(&f.format, "format", "json", "report format: json or csv")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write the report to this file instead of stdout")
	_ = cmd.MarkFlagRequired("district")
	return cmd
}

func runScrape(cmd *cobra.Command, f runFlags) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	write, err := reportWriter(f.format)
	if err != nil {
		return err
	}
	if f.scope.MaxUnits < 0 {
		return errors.New("--max-units must be >= 0")
	}
	if err := rt.cfg.Validate(); err != nil {
		return err
	}

	app, err := buildApp(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 30*time.Second)
		defer cancel()
		if cerr := app.Close(ctx); cerr != nil {
			rt.logger.Warn("close failed", zap.Error(cerr))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := app.Orchestrator().Start(ctx, f.scope)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	rt.logger.Info("run started", zap.String("run_id", run.ID().String()))

	// The run ends on its own once ctx is canceled; wait without a deadline
	// so the partial report is still written.
	rep, err := run.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("wait for run: %w", err)
	}

	var out io.Writer = cmd.OutOrStdout()
	if f.output != "" {
		file, err := os.Create(f.output)
		if err != nil {
			return fmt.Errorf("create %s: %w", f.output, err)
		}
		defer func() {
			if cerr := file.Close(); cerr != nil {
				rt.logger.Warn("close report file failed", zap.Error(cerr))
			}
		}()
		out = file
	}
	if err := write(out, rep); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	rt.logger.Info("run finished",
		zap.String("run_id", rep.RunID),
		zap.String("status", rep.Status),
		zap.Int("successful", rep.Successful),
		zap.Int("failed", rep.Failed),
		zap.String("report_uri", run.ReportURI()),
	)
	return nil
}

func reportWriter(format string) (func(io.Writer, *report.Report) error, error) {
	switch format {
	case "json", "":
		return report.WriteJSON, nil
	case "csv":
		return report.WriteCSV, nil
	default:
		return nil, fmt.Errorf("unknown --format %q (want json or csv)", format)
	}
}
