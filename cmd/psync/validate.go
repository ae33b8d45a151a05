package main

import (
	"github.com/spf13/cobra"

	"github.com/planora/planora-sync/internal/validate"
)

var validateFix bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check cached data for consistency problems",
	Long: `Fetch the current data and run the consistency checks.

Per-record checks cover required fields, date ordering, and grade ranges.
Cross-table checks find orphaned assignments, events pointing at deleted
courses or categories, courses without a schedule, multiple active
schedules, and overlapping schedule items.

With --fix, auto-fixable issues are corrected in place: dangling event
references are cleared and extra active schedules deactivated.

Examples:
  psync validate
  psync validate --fix`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sess, err := connect(ctx)
		if err != nil {
			return err
		}
		defer sess.close()

		if err := sess.engine.RefreshAll(ctx); err != nil {
			return err
		}

		report := sess.engine.Validate()
		cmd.Printf("Health score: %.2f\n", report.Stats.HealthScore())

		for table, results := range report.Results {
			for _, r := range results {
				if r.Status == validate.StatusValid {
					continue
				}
				cmd.Printf("  [%s] %s/%s: %s", r.Status, table, r.RecordID, r.Message)
				if r.SuggestedFix != "" {
					cmd.Printf(" (suggested: %s)", r.SuggestedFix)
				}
				cmd.Println()
			}
		}

		if len(report.Issues) == 0 {
			cmd.Println("No cross-table issues found")
			return nil
		}

		var fixed int
		for _, issue := range report.Issues {
			marker := " "
			if issue.AutoFixable {
				marker = "*"
			}
			cmd.Printf("%s [%s/%s] %s\n", marker, issue.Severity, issue.Type, issue.Message)

			if validateFix && issue.AutoFixable {
				if err := sess.engine.AutoFix(issue); err != nil {
					cmd.Printf("    fix failed: %v\n", err)
					continue
				}
				fixed++
			}
		}
		if validateFix {
			cmd.Printf("Fixed %d issues\n", fixed)
		} else {
			cmd.Println("Issues marked * are auto-fixable; run with --fix to apply")
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().BoolVar(&validateFix, "fix", false, "apply auto-fixes for fixable issues")
	rootCmd.AddCommand(validateCmd)
}
