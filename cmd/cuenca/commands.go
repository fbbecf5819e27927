package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jobrunner/cuenca/internal/adapters/earthengine"
	"github.com/jobrunner/cuenca/internal/adapters/export"
	"github.com/jobrunner/cuenca/internal/app"
	"github.com/jobrunner/cuenca/internal/config"
	"github.com/jobrunner/cuenca/internal/domain"
)

// absent is printed for values the remote reduction did not produce.
const absent = "—"

func addQueryCommands(root *cobra.Command) {
	indicesCmd := &cobra.Command{
		Use:   "indices",
		Short: "List the supported spectral indices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			renderIndices(cmd.OutOrStdout(), domain.Definitions())
		},
	}

	var statsIndex string
	var statsYear int
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print mean, min and max of an index for one year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				st, err := a.IndexService.Stats(ctx, statsYear, statsIndex)
				if err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), []domain.Stats{st})
				return nil
			})
		},
	}
	statsCmd.Flags().StringVar(&statsIndex, "index", "NDVI", "spectral index")
	statsCmd.Flags().IntVar(&statsYear, "year", 0, "year of the composite")
	_ = statsCmd.MarkFlagRequired("year")

	var seriesIndex string
	var seriesStart, seriesEnd int
	var seriesCSV bool
	seriesCmd := &cobra.Command{
		Use:   "series",
		Short: "Print the annual mean of an index over a year range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				series, err := a.IndexService.Series(ctx, seriesIndex, seriesStart, seriesEnd)
				if err != nil {
					return err
				}
				if seriesCSV {
					return export.WriteSeries(cmd.OutOrStdout(), series)
				}
				renderSeries(cmd.OutOrStdout(), series)
				return nil
			})
		},
	}
	seriesCmd.Flags().StringVar(&seriesIndex, "index", "NDVI", "spectral index")
	seriesCmd.Flags().IntVar(&seriesStart, "start", 0, "first year (default: analysis.start_year)")
	seriesCmd.Flags().IntVar(&seriesEnd, "end", 0, "last year (default: analysis.end_year)")
	seriesCmd.Flags().BoolVar(&seriesCSV, "csv", false, "write CSV instead of a table")
	seriesCmd.MarkFlagsRequiredTogether("start", "end")

	var compareIndex string
	var compareYears []int
	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the statistics of an index across years",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				stats, err := a.IndexService.Compare(ctx, compareIndex, compareYears)
				if err != nil {
					return err
				}
				renderStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
	compareCmd.Flags().StringVar(&compareIndex, "index", "NDVI", "spectral index")
	compareCmd.Flags().IntSliceVar(&compareYears, "years", nil, "years to compare (default: analysis.compare_years)")

	warmupCmd := &cobra.Command{
		Use:   "warmup",
		Short: "Precompute every series and default comparison",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				bar := progressbar.Default(int64(a.WarmupService.TaskCount()), "Warming cache")
				result, err := a.WarmupService.Run(ctx, func(done, _ int) {
					_ = bar.Set(done)
				})
				if err != nil {
					return err
				}
				_ = bar.Finish()
				fmt.Fprintf(cmd.OutOrStdout(), "%d tasks, %d failed, %d cache entries in %s\n",
					result.Tasks, result.Failed, result.CacheEntries, result.Duration)
				return nil
			})
		},
	}

	var credentialsPath string
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage Earth Engine credentials",
	}
	credentialsWriteCmd := &cobra.Command{
		Use:   "write",
		Short: "Write credentials from the environment to the credentials file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			path, err := credentialsTarget(credentialsPath, cfg.EarthEngine.CredentialsFile)
			if err != nil {
				return err
			}
			creds := earthengine.Credentials{
				ClientID:     cfg.EarthEngine.ClientID,
				ClientSecret: cfg.EarthEngine.ClientSecret,
				RefreshToken: cfg.EarthEngine.RefreshToken,
			}
			if err := creds.Validate(); err != nil {
				return err
			}
			if err := earthengine.WriteCredentialsFile(path, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credentials written to %s\n", path)
			return nil
		},
	}
	credentialsWriteCmd.Flags().StringVar(&credentialsPath, "path", "", "target file (default: earthengine.credentials_file or ~/.config/earthengine/credentials)")
	credentialsCmd.AddCommand(credentialsWriteCmd)

	root.AddCommand(indicesCmd, statsCmd, seriesCmd, compareCmd, warmupCmd, credentialsCmd)
}

// withApp loads the configuration, opens the session and runs fn. Logs go
// to stderr so that stdout carries only the command output.
func withApp(fn func(context.Context, *app.App) error) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	if err := a.Open(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func credentialsTarget(flag, configured string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if configured != "" {
		return configured, nil
	}
	return earthengine.DefaultCredentialsPath()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)
	table.SetHeader(header)
	return table
}

func renderIndices(w io.Writer, defs []domain.IndexDefinition) {
	table := newTable(w, []string{"Index", "Category", "Formula", "Title"})
	for _, d := range defs {
		table.Append([]string{
			string(d.Name),
			string(d.Category),
			d.Formula.String(),
			d.Title,
		})
	}
	table.Render()
}

func renderStats(w io.Writer, stats []domain.Stats) {
	table := newTable(w, []string{"Index", "Year", "Mean", "Min", "Max"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, st := range stats {
		table.Append([]string{
			string(st.Index),
			strconv.Itoa(st.Year),
			formatValue(st.Mean),
			formatValue(st.Min),
			formatValue(st.Max),
		})
	}
	table.Render()
}

func renderSeries(w io.Writer, s *domain.Series) {
	table := newTable(w, []string{"Year", string(s.Index)})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, p := range s.Points {
		table.Append([]string{strconv.Itoa(p.Year), formatValue(p.Value)})
	}
	table.SetFooter([]string{"Present", fmt.Sprintf("%d/%d", len(s.Present()), len(s.Points))})
	table.Render()
}

func formatValue(v *float64) string {
	if v == nil {
		return absent
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}
