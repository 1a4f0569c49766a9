package main

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/venue-leads/internal/model"
	"github.com/sells-group/venue-leads/internal/scorer"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from a YAML or JSON file into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(importFile)
		if err != nil {
			return eris.Wrap(err, "read leads file")
		}
		leads, err := parseLeads(data)
		if err != nil {
			return err
		}
		leads = prepareImport(leads, scorer.New())

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.UpsertLeads(ctx, leads)
		if err != nil {
			return eris.Wrap(err, "import leads")
		}

		zap.L().Info("import complete",
			zap.Int64("upserted", n),
			zap.String("file", importFile),
		)
		return nil
	},
}

// leadsFile accepts either a bare list of leads or a {leads: [...]} document.
// JSON input parses through the same YAML decoder.
type leadsFile struct {
	Leads []model.Lead `yaml:"leads"`
}

func parseLeads(data []byte) ([]model.Lead, error) {
	var list []model.Lead
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc leadsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "parse leads file")
	}
	return doc.Leads, nil
}

// prepareImport drops unnamed leads, marks the rest saved and attaches the
// coarse pre-enrichment score.
func prepareImport(leads []model.Lead, s *scorer.Scorer) []model.Lead {
	out := make([]model.Lead, 0, len(leads))
	for i, l := range leads {
		l.Name = strings.TrimSpace(l.Name)
		if l.Name == "" {
			zap.L().Warn("import: skipping lead without a name", zap.Int("index", i))
			continue
		}
		l.WebsiteURL = strings.TrimSpace(l.WebsiteURL)
		l.Status = model.LeadStatusSaved

		score := s.Coarse(scorer.SignalsFromLead(l))
		l.LeadScore = model.Int(score.Score)
		l.LeadScoreLabel = score.Potential
		out = append(out, l)
	}
	return out
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to leads YAML/JSON file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
