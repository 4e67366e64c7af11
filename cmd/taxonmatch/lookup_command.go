package main

import (
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"taxonmatch/internal/resolve"
	"taxonmatch/internal/services"
)

type lookupRow struct {
	Submitted       string `json:"submitted"`
	Family          string `json:"family,omitempty"`
	MatchedBy       string `json:"matched_by"`
	PlantNameID     string `json:"plant_name_id,omitempty"`
	TaxonStatus     string `json:"taxon_status,omitempty"`
	AcceptedID      string `json:"accepted_plant_name_id,omitempty"`
	AcceptedName    string `json:"accepted_name,omitempty"`
	AcceptedFamily  string `json:"accepted_family,omitempty"`
	AcceptedRank    string `json:"accepted_rank,omitempty"`
	AcceptedIPNIID  string `json:"accepted_ipni_id,omitempty"`
	AcceptedSpecies string `json:"accepted_species,omitempty"`
}

func newLookupCommand(ctx *commandContext) *cobra.Command {
	var family string
	var flags resolveFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "lookup <name>...",
		Short: "Resolve one or more names given on the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base := *cfg
			base.Matching.NameColumn = "name"
			base.Matching.FamilyColumn = ""
			runCfg, err := flags.apply(&base)
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			family = strings.TrimSpace(family)
			input := &resolve.Table{Header: []string{"name"}}
			tableOpts := resolve.TableOptions{NameColumn: "name"}
			if family != "" {
				input.Header = append(input.Header, "family")
				tableOpts.FamilyColumn = "family"
			}
			for _, name := range args {
				row := []string{name}
				if family != "" {
					row = append(row, family)
				}
				input.Rows = append(input.Rows, row)
			}

			var hints []string
			if family != "" {
				hints = []string{family}
				if err := resolve.CheckFamilyHints([]resolve.Submission{{Family: family}}, runCfg.Matching.FamiliesOfInterest); err != nil {
					return err
				}
			}

			runCtx := services.WithRunID(cmd.Context(), uuid.NewString())
			eng, err := openEngine(runCtx, runCfg, logger, hints)
			if err != nil {
				return err
			}
			defer eng.Close()

			_, result, err := eng.resolver.ResolveTable(runCtx, input, tableOpts)
			if err != nil {
				return err
			}

			rows := make([]lookupRow, len(args))
			for i := range args {
				rows[i] = newLookupRow(result.Submissions[i], result.At(i))
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, rows)
			}
			v := view{headers: []string{"Submitted", "Matched by", "ID", "Status", "Accepted name", "Family", "Rank", "IPNI"}}
			for _, row := range rows {
				v.rows = append(v.rows, []string{
					row.Submitted, row.MatchedBy, row.PlantNameID, row.TaxonStatus,
					row.AcceptedName, row.AcceptedFamily, row.AcceptedRank, row.AcceptedIPNIID,
				})
			}
			v.writeTo(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&family, "family", "", "Family hint applied to every name")
	cmd.Flags().StringVar(&flags.level, "level", "", "Match level: full, knms or direct")
	cmd.Flags().BoolVar(&flags.noKNMS, "no-knms", false, "Do not call the external match service")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func newLookupRow(sub resolve.Submission, res resolve.Resolution) lookupRow {
	row := lookupRow{
		Submitted: sub.Raw,
		Family:    sub.Family,
		MatchedBy: res.MatchedBy,
	}
	if !res.Resolved() {
		return row
	}
	rec := res.Record
	row.PlantNameID = rec.ID
	row.TaxonStatus = string(rec.Status)
	row.AcceptedID = rec.Accepted.ID
	row.AcceptedName = rec.Accepted.Name
	row.AcceptedFamily = rec.Accepted.Family
	row.AcceptedRank = string(rec.Accepted.Rank)
	row.AcceptedIPNIID = rec.Accepted.IPNIID
	row.AcceptedSpecies = rec.Accepted.SpeciesName
	return row
}
