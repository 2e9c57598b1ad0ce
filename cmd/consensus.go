package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/consensus-crawler/internal/consensus"
	"github.com/sells-group/consensus-crawler/internal/model"
)

var consensusJSON bool

var consensusCmd = &cobra.Command{
	Use:   "consensus <subject>",
	Short: "Aggregate provider opinions into a consensus score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		agg := consensus.NewAggregator(env.Store, env.Registry)
		if cfg.Consensus.FreshnessHours > 0 {
			agg.Freshness = cfg.Consensus.Freshness()
		}
		if cfg.Consensus.MinProviders > 0 {
			agg.MinProviders = cfg.Consensus.MinProviders
		}
		if cfg.Consensus.OutlierZ > 0 {
			agg.OutlierZ = cfg.Consensus.OutlierZ
		}

		subject := model.NormalizeSubject(args[0])
		result, err := agg.Aggregate(ctx, subject)
		if err != nil {
			return eris.Wrapf(err, "aggregate %s", subject)
		}

		if consensusJSON {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return eris.Wrap(err, "encode consensus")
			}
			fmt.Println(string(out))
			return nil
		}

		fmt.Printf("%s\n", result.Subject)
		fmt.Printf("  score:       %.2f\n", result.Score)
		fmt.Printf("  convergence: %.2f\n", result.Convergence)
		fmt.Printf("  providers:   %d\n", result.Providers)
		for _, op := range result.Opinions {
			flag := ""
			if op.Outlier {
				flag = "  [outlier]"
			}
			fmt.Printf("    %-12s %6.2f  (w=%.1f conf=%.2f)%s\n", op.Provider, op.Score, op.Weight, op.Confidence, flag)
		}
		return nil
	},
}

func init() {
	consensusCmd.Flags().BoolVar(&consensusJSON, "json", false, "print full JSON")
	rootCmd.AddCommand(consensusCmd)
}
