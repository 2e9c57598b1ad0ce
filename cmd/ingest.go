package main

import (
	"bufio"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consensus-crawler/internal/model"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest [subject...]",
	Short: "Queue subjects for crawling",
	Long:  "Normalizes subjects and upserts them into the store as pending. Subjects come from arguments, or one per line from --file ('-' for stdin). Blank lines and lines starting with '#' are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		raw := append([]string{}, args...)
		if ingestFile != "" {
			lines, err := readSubjectLines(ingestFile)
			if err != nil {
				return err
			}
			raw = append(raw, lines...)
		}
		if len(raw) == 0 {
			return eris.New("no subjects given")
		}

		seen := make(map[string]bool)
		queued := 0
		for _, r := range raw {
			id := model.NormalizeSubject(r)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if err := env.Store.UpsertSubject(ctx, model.Subject{ID: id, Status: model.StatusPending}); err != nil {
				return eris.Wrapf(err, "upsert subject %s", id)
			}
			queued++
		}

		zap.L().Info("subjects queued", zap.Int("queued", queued), zap.Int("input", len(raw)))
		return nil
	},
}

func readSubjectLines(path string) ([]string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, eris.Wrap(err, "open subjects file")
		}
		defer f.Close()
	}

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read subjects file")
	}
	return lines, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "file with one subject per line ('-' for stdin)")
	rootCmd.AddCommand(ingestCmd)
}
