package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/star/starcover/internal/report"
	"github.com/star/starcover/internal/runner"
	"github.com/star/starcover/internal/scenario"
)

func passesCommand() *cli.Command {
	return &cli.Command{
		Name:      "passes",
		Aliases:   []string{"p"},
		Usage:     "List the passes of one satellite over one device",
		UsageText: "starcover passes --scenario <file> --device <id> --satellite <norad id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scenario", Aliases: []string{"s"}, Required: true, Usage: "Scenario file (.yaml, .toml or .json)"},
			&cli.IntFlag{Name: "device", Aliases: []string{"d"}, Required: true, Usage: "Device id"},
			&cli.IntFlag{Name: "satellite", Required: true, Usage: "Satellite id"},
			&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of a table"},
		},
		Action: func(cCtx *cli.Context) error {
			logger := newLogger(cCtx)
			path := cCtx.String("scenario")
			f, err := scenario.Load(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			r := runner.New(logger)
			sc, err := r.Resolve(cCtx.Context, f, filepath.Dir(path))
			if err != nil {
				return err
			}
			passes, err := r.Passes(cCtx.Context, sc, cCtx.Int("device"), cCtx.Int("satellite"))
			if err != nil {
				return err
			}

			if cCtx.Bool("json") {
				return report.WriteJSON(os.Stdout, passes)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "START\tEND\tDURATION\tMAX EL\tMAX EL AT")
			for _, p := range passes {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%s\n",
					p.Start.Format(time.RFC3339),
					p.End.Format(time.RFC3339),
					p.Duration().Round(time.Second),
					p.MaxElevationDeg,
					p.MaxElevationAt.Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
}
