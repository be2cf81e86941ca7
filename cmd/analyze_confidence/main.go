package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trading-decision-engine/config"
	"trading-decision-engine/internal/database"
)

func main() {
	var (
		configPath string
		days       int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "analyze_confidence",
		Short: "Compare entry confidence with realized outcomes of closed positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			db, err := database.NewDB(ctx, cfg.Database.Config)
			if err != nil {
				return err
			}
			defer db.Close()

			since := time.Now().AddDate(0, 0, -days)
			outcomes, err := database.NewRepository(db).ConfidenceOutcomes(ctx, since)
			if err != nil {
				return fmt.Errorf("query outcomes: %w", err)
			}

			report := Analyze(outcomes, nil, nil)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(cmd.OutOrStdout(), report, days)
			return nil
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file")
	cmd.Flags().IntVar(&days, "days", 30, "look-back window in days")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printReport(w io.Writer, r Report, days int) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "CONFIDENCE vs OUTCOME, last %d days\n", days)
	fmt.Fprintln(w, rule)

	if r.Trades == 0 {
		fmt.Fprintln(w, "\nNo closed positions with a linked confidence score in this window.")
		return
	}
	fmt.Fprintf(w, "\nAnalyzing %d closed positions\n\n", r.Trades)

	fmt.Fprintf(w, "%-15s %7s %8s %8s %13s %13s %9s\n", "Confidence", "Trades", "Winners", "Losers", "Total PnL", "Avg PnL", "Win Rate")
	for _, b := range r.Buckets {
		fmt.Fprintf(w, "%5.0f%% - %5.0f%% %7d %8d %8d %+13.2f %+13.2f %8.1f%%\n",
			b.MinConf*100, minFloat(b.MaxConf, 1)*100,
			b.TotalTrades, b.WinningTrades, b.LosingTrades,
			b.TotalPnL, b.AvgPnL, b.WinRate)
	}

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, "THRESHOLD COMPARISON")
	fmt.Fprintln(w, rule)
	for _, t := range r.Thresholds {
		fmt.Fprintf(w, "\nThreshold %.0f%%\n", t.Threshold*100)
		fmt.Fprintf(w, "  included: %d trades, PnL %.2f, win rate %.1f%%\n", t.Included.TotalTrades, t.Included.TotalPnL, t.Included.WinRate)
		fmt.Fprintf(w, "  excluded: %d trades, PnL %.2f, win rate %.1f%%\n", t.Excluded.TotalTrades, t.Excluded.TotalPnL, t.Excluded.WinRate)
	}

	printGroup(w, "BY STRATEGY", r.ByStrategy)
	printGroup(w, "BY REGIME", r.ByRegime)

	fmt.Fprintln(w, "\n"+rule)
	if r.AvoidedLoss > 0 {
		fmt.Fprintf(w, "Best threshold: %.0f%% (would have avoided %.2f in net losses)\n", r.BestThreshold*100, r.AvoidedLoss)
	} else {
		fmt.Fprintln(w, "No threshold screens out a net loss; confidence does not separate outcomes yet.")
	}
}

func printGroup(w io.Writer, title string, group map[string]ConfidenceBucket) {
	fmt.Fprintf(w, "\n%s\n", title)
	keys := make([]string, 0, len(group))
	for k := range group {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b := group[k]
		fmt.Fprintf(w, "  %-18s %5d trades  PnL %+10.2f  win rate %5.1f%%\n", k, b.TotalTrades, b.TotalPnL, b.WinRate)
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
