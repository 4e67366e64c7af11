package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"taxonmatch/internal/config"
	"taxonmatch/internal/logging"
	"taxonmatch/internal/resolve"
	"taxonmatch/internal/services"
)

type resolveFlags struct {
	output       string
	nameColumn   string
	familyColumn string
	level        string
	workers      int
	noKNMS       bool
	quiet        bool
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var flags resolveFlags

	cmd := &cobra.Command{
		Use:   "resolve <input.csv|->",
		Short: "Resolve a table of submitted names and append accepted-name columns",
		Long: "Reads a CSV (or TSV by extension) table, resolves the name column against the\n" +
			"checklist and writes the table back with the accepted_* columns, taxon_status\n" +
			"and matched_by appended. Output rows match input rows one to one.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			runCfg, err := flags.apply(cfg)
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			input, err := readTableFile(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if err := resolve.CheckReservedColumns(input.Header); err != nil {
				return err
			}
			tableOpts := resolve.TableOptions{
				NameColumn:   runCfg.Matching.NameColumn,
				FamilyColumn: runCfg.Matching.FamilyColumn,
			}
			subs, err := input.Submissions(tableOpts)
			if err != nil {
				return err
			}
			if err := resolve.CheckFamilyHints(subs, runCfg.Matching.FamiliesOfInterest); err != nil {
				return err
			}

			runCtx := services.WithRunID(cmd.Context(), uuid.NewString())
			runLogger := logging.WithContext(runCtx, logger)
			runLogger.Info("resolve run started",
				logging.String("input", args[0]),
				logging.Int("rows", len(input.Rows)),
				logging.String("level", runCfg.Matching.Level),
			)

			eng, err := openEngine(runCtx, runCfg, logger, hintFamilies(subs))
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.resolve(runCtx, subs)
			if err != nil {
				return err
			}
			output, err := resolve.Annotate(input, result)
			if err != nil {
				return err
			}
			if err := writeTableFile(flags.output, output, cmd.OutOrStdout()); err != nil {
				return err
			}
			eng.finish()

			var written []string
			if eng.sink != nil {
				written = eng.sink.Written()
			}
			if !flags.quiet {
				printSummary(cmd.ErrOrStderr(), result, written)
			}
			if pending := result.Counts().PendingRetry; pending > 0 {
				return services.Wrap(services.ErrTransient, "cli", "resolve",
					fmt.Sprintf("%d names are still pending_retry; rerun to retry them (output was written)", pending), nil)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&flags.nameColumn, "name-column", "", "Input column holding submitted names (overrides matching.name_column)")
	cmd.Flags().StringVar(&flags.familyColumn, "family-column", "", "Input column holding family hints (overrides matching.family_column)")
	cmd.Flags().StringVar(&flags.level, "level", "", "Match level: full, knms or direct (overrides matching.level)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Concurrent workers for direct and auto-resolution")
	cmd.Flags().BoolVar(&flags.noKNMS, "no-knms", false, "Do not call the external match service")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress the run summary")
	return cmd
}

// apply returns a copy of cfg with command-line overrides applied.
func (f resolveFlags) apply(cfg *config.Config) (*config.Config, error) {
	runCfg := *cfg
	if value := strings.TrimSpace(f.nameColumn); value != "" {
		runCfg.Matching.NameColumn = value
	}
	if value := strings.TrimSpace(f.familyColumn); value != "" {
		runCfg.Matching.FamilyColumn = value
	}
	if value := strings.ToLower(strings.TrimSpace(f.level)); value != "" {
		runCfg.Matching.Level = value
	}
	if f.workers > 0 {
		runCfg.Matching.Workers = f.workers
	}
	if f.noKNMS {
		runCfg.KNMS.Enabled = false
	}
	if err := runCfg.Validate(); err != nil {
		return nil, err
	}
	return &runCfg, nil
}
