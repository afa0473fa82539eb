package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/mangashelf/pkg/mangashelf/scan"
)

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var (
		mangaID   string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every chapter has exactly its pages stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			scanOpts := scan.Options{BatchSize: batchSize}
			if mangaID != "" {
				id, err := uuid.Parse(mangaID)
				if err != nil {
					return fmt.Errorf("invalid --manga: %w", err)
				}
				scanOpts.MangaID = &id
			}

			ctx := cmd.Context()
			app, logger, err := opts.build(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			scanOpts.Processor = scan.PageChecker{Pages: app.Catalog.Pages()}
			res, err := scan.New(app.Catalog, logger).Scan(ctx, scanOpts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range res.Failed {
				fmt.Fprintln(out, f.Err)
			}
			fmt.Fprintf(out, "checked %d chapters, %d inconsistent\n", res.Found, len(res.Failed))
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d chapters have inconsistent pages", len(res.Failed))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mangaID, "manga", "", "only check chapters of this manga")
	cmd.Flags().IntVar(&batchSize, "batch-size", scan.DefaultBatchSize, "chapters read per batch")
	return cmd
}
