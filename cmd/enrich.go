package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-leads/internal/batch"
)

var (
	enrichIDs       []string
	enrichOverwrite bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich leads by id and print the batch result",
	Example: `  venue-leads enrich --id 6f1c... --id 9a2e...
  venue-leads enrich --id 6f1c... --overwrite`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnrich(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		overwrite := cfg.Pipeline.OverwriteExisting
		if cmd.Flags().Changed("overwrite") {
			overwrite = enrichOverwrite
		}

		br, err := env.Batch.EnrichMany(ctx, batch.Request{LeadIDs: enrichIDs, Overwrite: overwrite})
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(newEnrichResponse(br))
	},
}

func init() {
	enrichCmd.Flags().StringSliceVar(&enrichIDs, "id", nil, "lead id to enrich (repeatable, required)")
	enrichCmd.Flags().BoolVar(&enrichOverwrite, "overwrite", false, "let new values replace stored enrichment data")
	_ = enrichCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(enrichCmd)
}
