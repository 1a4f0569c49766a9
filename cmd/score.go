package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/venue-leads/internal/model"
	"github.com/sells-group/venue-leads/internal/normalize"
	"github.com/sells-group/venue-leads/internal/scorer"
)

var (
	scoreFile    string
	scoreProfile string
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Normalize and score an enrichment record",
	Long: `Reads a raw enrichment record (JSON, any supported field spelling),
normalizes it and prints the lead score.

Profiles:
  detailed  enrichment-based rules (contact, capacity, catering, ...)
  coarse    pre-enrichment rules (website, email, phone, description)`,
	Example: `  venue-leads score --file record.json
  cat record.json | venue-leads score --profile coarse`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		strategy, err := scorer.ParseStrategy(scoreProfile)
		if err != nil {
			return err
		}

		in := cmd.InOrStdin()
		if scoreFile != "" && scoreFile != "-" {
			f, err := os.Open(scoreFile)
			if err != nil {
				return eris.Wrap(err, "open record")
			}
			defer f.Close() //nolint:errcheck
			in = f
		}

		out, err := scoreRecord(in, strategy, scorer.New())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// scoredRecord is the score command output.
type scoredRecord struct {
	Record model.EnrichmentRecord `json:"record"`
	Score  model.LeadScore        `json:"leadScore"`
}

func scoreRecord(r io.Reader, strategy scorer.Strategy, s *scorer.Scorer) (*scoredRecord, error) {
	var raw any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, eris.Wrap(err, "decode record")
	}
	rec := normalize.Normalize(raw)
	score := s.Score(strategy, rec)
	rec.LeadScore = &score
	return &scoredRecord{Record: rec, Score: score}, nil
}

func init() {
	scoreCmd.Flags().StringVar(&scoreFile, "file", "", "record JSON file (default stdin)")
	scoreCmd.Flags().StringVar(&scoreProfile, "profile", string(scorer.StrategyDetailed), "scoring profile: detailed or coarse")
	rootCmd.AddCommand(scoreCmd)
}
