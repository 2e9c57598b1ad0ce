package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consensus-crawler/internal/runner"
)

var checkpointName string

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear the crawl checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print checkpoint progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		doc, err := st.LoadCheckpoint(ctx, checkpointName)
		if err != nil {
			return eris.Wrap(err, "load checkpoint")
		}
		if doc == nil {
			fmt.Printf("no checkpoint %q\n", checkpointName)
			return nil
		}

		cp := runner.NewCheckpoint()
		if err := cp.UnmarshalJSON(doc); err != nil {
			return eris.Wrap(err, "decode checkpoint")
		}

		fmt.Printf("checkpoint %q\n", checkpointName)
		fmt.Printf("  keys:      %d\n", cp.Len())
		fmt.Printf("  success:   %d\n", cp.Stats.Success)
		fmt.Printf("  failed:    %d\n", cp.Stats.Failed)
		fmt.Printf("  skipped:   %d\n", cp.Stats.Skipped)
		fmt.Printf("  saved at:  %s\n", cp.Timestamp.Format("2006-01-02 15:04:05 MST"))
		return nil
	},
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the checkpoint so the next crawl starts fresh",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.DeleteCheckpoint(ctx, checkpointName); err != nil {
			return eris.Wrap(err, "delete checkpoint")
		}
		zap.L().Info("checkpoint cleared", zap.String("name", checkpointName))
		return nil
	},
}

func init() {
	checkpointCmd.PersistentFlags().StringVar(&checkpointName, "name", "crawl", "checkpoint name")
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}
