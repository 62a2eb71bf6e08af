package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"OmniSpectrum/internal/di"
	"OmniSpectrum/internal/domain/models"
)

func inferCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "infer",
		Short: "Run one inference pass and write the forecast document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			p, err := di.InitializePipeline(cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			out, err := p.Inference.RunInference(cmd.Context())
			if err != nil {
				return fmt.Errorf("inference: %w", err)
			}
			if format == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			fmt.Printf("Forecast for %s written to %s\n\n", cfg.Pipeline.Symbol, cfg.Pipeline.OutputPath)
			printForecast(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	return cmd
}

func printForecast(out *models.ForecastOutput) {
	t := out.Tiles
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Metric", "Value"}),
	)
	rows := [][]string{
		{"Close", fmt.Sprintf("%.2f", out.Close)},
		{"Spot", fmt.Sprintf("%.2f (%+.2f%%)", out.SpotPrice.Current, out.SpotPrice.ChangePercent)},
		{"VIX", fmt.Sprintf("%.2f (%+.2f%%)", out.IndiaVIX.Current, out.IndiaVIX.ChangePercent)},
		{"Tilt bear/neutral/bull", fmt.Sprintf("%.3f / %.3f / %.3f", t.DirectionalTilt.Bear, t.DirectionalTilt.Neutral, t.DirectionalTilt.Bull)},
		{"Move 1d / 2d / 3d", fmt.Sprintf("%.2f / %.2f / %.2f", t.TomorrowExpectedMove, t.TwoDayExpectedMove, t.ThreeDayExpectedMove)},
		{"Weekly range", fmt.Sprintf("%.2f .. %.2f", t.WeeklyRange[0], t.WeeklyRange[1])},
		{"Monthly range", fmt.Sprintf("%.2f .. %.2f", t.MonthlyRange[0], t.MonthlyRange[1])},
		{"Expansion prob", formatProb(t.VolatilityExpansionProb)},
		{"Pattern match", fmt.Sprintf("%.4f", t.PatternMatchIndex)},
		{"Trend strength", fmt.Sprintf("%.6f", t.TrendStrength)},
		{"Model", out.ModelVersion + " " + out.ModelDate},
	}
	for _, r := range rows {
		table.Append(r)
	}
	table.Render()
}

func formatProb(p *float64) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *p*100)
}
