package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/star/starcover/internal/coverage"
	"github.com/star/starcover/internal/report"
	"github.com/star/starcover/internal/runner"
	"github.com/star/starcover/internal/scenario"
	"github.com/star/starcover/internal/store"
)

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Aliases:   []string{"a"},
		Usage:     "Compute coverage for a scenario file",
		UsageText: "starcover analyze --scenario <file> [options]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scenario", Aliases: []string{"s"}, Required: true, Usage: "Scenario file (.yaml, .toml or .json)"},
			&cli.StringFlag{Name: "pov", Usage: "Override point of view: device or satellite"},
			&cli.StringFlag{Name: "sweep-mode", Usage: "Override sweep mode: tagged or membership"},
			&cli.BoolFlag{Name: "gaps", Usage: "Override include_coverage_gaps"},
			&cli.IntFlag{Name: "min-contacts", Usage: "Only output intervals with at least this many contacts"},
			&cli.BoolFlag{Name: "gaps-only", Usage: "Only output gap intervals"},
			&cli.IntFlag{Name: "primary", Usage: "Only output the timeline of this primary id"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "csv", Usage: "Output format: csv, json or msgpack"},
			&cli.BoolFlag{Name: "minutes", Usage: "Add a duration_min column"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Write intervals to this file instead of stdout"},
			&cli.BoolFlag{Name: "summary", Usage: "Print per-primary statistics as JSON to stderr"},
			&cli.StringFlag{Name: "db", Usage: "Also store the run in this SQLite database", EnvVars: []string{"STARCOVER_DB_PATH"}},
		},
		Action: runAnalyze,
	}
}

// applyOverrides copies explicitly set flags onto the scenario document.
func applyOverrides(cCtx *cli.Context, f *scenario.File) {
	if cCtx.IsSet("pov") {
		f.PointOfView = cCtx.String("pov")
	}
	if cCtx.IsSet("sweep-mode") {
		f.SweepMode = cCtx.String("sweep-mode")
	}
	if cCtx.IsSet("gaps") {
		f.IncludeCoverageGaps = cCtx.Bool("gaps")
	}
	if cCtx.IsSet("min-contacts") {
		f.MinContacts = cCtx.Int("min-contacts")
	}
}

func runAnalyze(cCtx *cli.Context) error {
	logger := newLogger(cCtx)

	format, err := report.ParseFormat(cCtx.String("format"))
	if err != nil {
		return err
	}
	path := cCtx.String("scenario")
	f, err := scenario.Load(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	applyOverrides(cCtx, &f)

	ctx, stop := signal.NotifyContext(cCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, res, err := runner.New(logger).Run(ctx, f, filepath.Dir(path))
	if err != nil {
		return err
	}
	for _, pf := range res.Failures {
		logger.Warn("pair skipped", "primary", pf.Primary, "counterpart", pf.Counterpart, "error", pf.Err)
	}

	if dbPath := cCtx.String("db"); dbPath != "" {
		if err := saveRun(ctx, dbPath, res); err != nil {
			return err
		}
	}

	view := runner.View{
		Primary:     cCtx.Int("primary"),
		MinContacts: f.MinContacts,
		GapsOnly:    cCtx.Bool("gaps-only"),
	}
	intervals, err := view.Select(res)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if p := cCtx.String("output"); p != "" {
		file, err := os.Create(p)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer file.Close()
		out = file
	}
	if err := report.Write(out, format, intervals, report.Options{IncludeMinutes: cCtx.Bool("minutes")}); err != nil {
		return err
	}

	if stat, err := res.MaxGap(); err == nil {
		logger.Info("max coverage gap",
			"duration_ms", stat.Duration,
			"duration_min", stat.Minutes(),
			"found", stat.Found,
		)
	}
	if cCtx.Bool("summary") {
		return report.WriteJSON(os.Stderr, coverage.Summarize(res))
	}
	return nil
}

func saveRun(ctx context.Context, dbPath string, res *coverage.Result) error {
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	run, err := st.Save(ctx, res)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	fmt.Fprintf(os.Stderr, "run %s saved to %s\n", run.ID, dbPath)
	return nil
}
