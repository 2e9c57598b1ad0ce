package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consensus-crawler/internal/model"
	"github.com/sells-group/consensus-crawler/internal/runner"
)

var (
	crawlLimit       int
	crawlConcurrency int
	crawlPrompts     []string
	crawlCheckpoint  string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl [subject...]",
	Short: "Run a checkpointed crawl over subjects",
	Long:  "Queries the provider fleet about each subject, tiered by volatility. Subjects may be passed as arguments; otherwise pending subjects are pulled from the store. Interrupted runs resume from the checkpoint.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		var subjects []model.Subject
		if len(args) > 0 {
			for _, arg := range args {
				sub := model.Subject{ID: model.NormalizeSubject(arg), Status: model.StatusPending}
				if err := env.Store.UpsertSubject(ctx, sub); err != nil {
					return eris.Wrapf(err, "upsert subject %s", sub.ID)
				}
				subjects = append(subjects, sub)
			}
		} else {
			subjects, err = env.Store.ListPendingSubjects(ctx, crawlLimit)
			if err != nil {
				return eris.Wrap(err, "list pending subjects")
			}
		}
		if len(subjects) == 0 {
			zap.L().Info("no subjects to crawl")
			return nil
		}
		if crawlLimit > 0 && len(subjects) > crawlLimit {
			subjects = subjects[:crawlLimit]
		}

		opts := runner.Options{
			Concurrency:    crawlConcurrency,
			BatchSize:      cfg.Batch.BatchSize,
			GlobalTimeout:  cfg.Batch.GlobalTimeout(),
			InterCallDelay: cfg.Batch.InterCallDelay(),
			CheckpointName: crawlCheckpoint,
		}
		if opts.Concurrency == 0 {
			opts.Concurrency = cfg.Batch.Concurrency
		}
		if opts.CheckpointName == "" {
			opts.CheckpointName = cfg.Batch.CheckpointName
		}
		for _, p := range crawlPrompts {
			opts.PromptTypes = append(opts.PromptTypes, model.PromptType(p))
		}

		r := runner.New(env.Registry, env.Keys, env.Limiters, env.Clients, retryPolicy(), env.Store, storedTier(env.Store), opts)
		summary, err := r.Run(ctx, subjects)
		if summary != nil {
			fmt.Print(summary.String())
		}
		return err
	},
}

func init() {
	crawlCmd.Flags().IntVar(&crawlLimit, "limit", 100, "max number of subjects to process")
	crawlCmd.Flags().IntVar(&crawlConcurrency, "concurrency", 0, "concurrent subjects (0 = config default)")
	crawlCmd.Flags().StringSliceVar(&crawlPrompts, "prompt", nil, "prompt types to send (default all)")
	crawlCmd.Flags().StringVar(&crawlCheckpoint, "checkpoint", "", "checkpoint name (default from config)")
	rootCmd.AddCommand(crawlCmd)
}
