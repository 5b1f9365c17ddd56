package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terrawatch/eo-analyzer/internal/model"
)

var (
	runQueryText  string
	runKeywords   string
	runPeriod     string
	runMaxResults int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one analysis over current disaster news",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		query := model.RunQuery{
			Keywords:   runKeywords,
			Period:     runPeriod,
			MaxResults: runMaxResults,
		}
		if runQueryText != "" {
			parsed, err := env.Pipeline.ParseQuery(ctx, runQueryText)
			if err != nil {
				return err
			}
			// Explicit flags win over the parsed request.
			if runKeywords == "" {
				query.Keywords = parsed.Keywords
			}
			if !cmd.Flags().Changed("period") && parsed.Period != "" {
				query.Period = parsed.Period
			}
			if runMaxResults == 0 {
				query.MaxResults = parsed.MaxResults
			}
			query.Since, query.Until = parsed.Since, parsed.Until
		}

		run, err := env.Pipeline.Start(ctx, query)
		if err != nil {
			return err
		}

		result, err := env.Pipeline.Execute(ctx, run)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("analysis complete",
			zap.String("run_id", run.ID),
			zap.Int("items_fetched", result.ItemsFetched),
			zap.Int("items_analyzed", result.ItemsAnalyzed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runQueryText, "query", "", "free-text request, e.g. \"floods in Spain last week\"")
	runCmd.Flags().StringVar(&runKeywords, "keywords", "", "search keywords (default: taxonomy keywords)")
	runCmd.Flags().StringVar(&runPeriod, "period", "7d", "news recency period, e.g. 24h or 7d")
	runCmd.Flags().IntVar(&runMaxResults, "max-results", 0, "max news items to fetch (default from config)")
	rootCmd.AddCommand(runCmd)
}
