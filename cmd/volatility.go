package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/volatility"
)

var volatilityLookbackDays int

var volatilityCmd = &cobra.Command{
	Use:   "volatility <subject>...",
	Short: "Recompute and store volatility scores",
	Long:  "Derives each subject's volatility components from its recent query results, stores the score, and prints the resulting tier.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fleetSize := len(env.Registry.List())
		since := time.Now().AddDate(0, 0, -volatilityLookbackDays)

		for _, arg := range args {
			subject := model.NormalizeSubject(arg)
			results, err := env.Store.ListResults(ctx, subject, since)
			if err != nil {
				return eris.Wrapf(err, "list results for %s", subject)
			}

			comps := volatility.ComponentsFromResults(results, fleetSize, time.Now())
			score := volatility.NewScore(subject, comps, time.Now())
			if err := env.Store.SaveVolatility(ctx, score); err != nil {
				return eris.Wrapf(err, "save volatility for %s", subject)
			}

			fmt.Printf("%-40s score=%.3f tier=%s (results=%d)\n", subject, score.Score, score.Tier, len(results))
		}
		return nil
	},
}

func init() {
	volatilityCmd.Flags().IntVar(&volatilityLookbackDays, "lookback-days", 30, "how far back to read results")
	rootCmd.AddCommand(volatilityCmd)
}
