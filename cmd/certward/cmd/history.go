package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certward/journal"
)

var (
	historyLimit      int
	historyJSONOutput bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent reconciliation decisions",
	Long: `Reads the decision journal and prints the most recent authority and
site decisions, newest first. Requires a journal path in the
configuration.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries to show")
	historyCmd.Flags().BoolVar(&historyJSONOutput, "json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal == "" {
		return errors.New("no journal configured (set journal: in the configuration)")
	}

	jnl, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer jnl.Close()

	entries, err := jnl.Recent(historyLimit)
	if err != nil {
		return err
	}

	if historyJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No journal entries.")
		return nil
	}
	for _, entry := range entries {
		line := fmt.Sprintf("%s  %-9s  %-28s %s",
			entry.Time.Format(time.RFC3339), entry.Kind, entry.Name, entry.Outcome)
		if entry.Error != "" {
			line += "  " + entry.Error
		}
		fmt.Println(line)
	}
	return nil
}
