package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certward/reconcile"
)

// ---------------------------------------------------------------------------
// Local types for --json output
// ---------------------------------------------------------------------------

type reportJSON struct {
	RunID     string            `json:"run_id"`
	Started   time.Time         `json:"started"`
	Finished  time.Time         `json:"finished"`
	Authority reportEntryJSON   `json:"authority"`
	Sites     []reportEntryJSON `json:"sites,omitempty"`
}

type reportEntryJSON struct {
	Name        string    `json:"name"`
	Outcome     string    `json:"outcome"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Serial      string    `json:"serial,omitempty"`
	NotAfter    time.Time `json:"not_after,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func toReportJSON(report *reconcile.Report) reportJSON {
	out := reportJSON{
		RunID:     report.RunID,
		Started:   report.Started,
		Finished:  report.Finished,
		Authority: toReportEntryJSON(report.Authority),
	}
	for _, site := range report.Sites {
		out.Sites = append(out.Sites, toReportEntryJSON(site))
	}
	return out
}

func toReportEntryJSON(entry reconcile.ReportEntry) reportEntryJSON {
	out := reportEntryJSON{
		Name:        entry.Name,
		Outcome:     entry.Outcome.String(),
		Fingerprint: string(entry.Fingerprint),
		Serial:      entry.Serial,
		NotAfter:    entry.NotAfter,
	}
	if entry.Err != nil {
		out.Error = entry.Err.Error()
	}
	return out
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

// errRunFailed marks a report with rejected identities. Returning it
// instead of exiting directly lets the deferred journal cleanup run;
// Execute turns any error into a non-zero exit.
var errRunFailed = errors.New("one or more identities could not be reconciled")

var runJSONOutput bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile all certificates once",
	Long: `Reads the configuration, resolves the root authority, and issues or
reuses a certificate for every configured site. Material is regenerated
only when its spec changed, its signing authority changed, or expiry is
near. Exits non-zero if any identity could not be reconciled.`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runJSONOutput, "json", false, "Output the run report as JSON")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	driver, cleanup, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := driver.Run(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	if runJSONOutput {
		if err := printJSONReport(report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if report.Failed() {
		return errRunFailed
	}
	return nil
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printReport(report *reconcile.Report) {
	fmt.Printf("Reconciliation run %s\n", report.RunID)
	printReportEntry("authority", report.Authority)
	for _, site := range report.Sites {
		printReportEntry("site", site)
	}
}

func printReportEntry(kind string, entry reconcile.ReportEntry) {
	if entry.Err != nil {
		fmt.Printf("  %-9s  %-28s %s: %v\n", kind, entry.Name, entry.Outcome, entry.Err)
		return
	}
	fmt.Printf("  %-9s  %-28s %-11s expires %s\n",
		kind, entry.Name, entry.Outcome, entry.NotAfter.Format("2006-01-02"))
}

func printJSONReport(report *reconcile.Report) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(toReportJSON(report))
}
