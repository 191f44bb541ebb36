package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/certward/pki"
)

var inspectJSONOutput bool

var inspectCmd = &cobra.Command{
	Use:   "inspect [file]",
	Short: "Print details of a PEM certificate",
	Long: `Parses a PEM certificate file and prints its subject, validity window,
alternate names, and the embedded spec fingerprint when present.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().BoolVar(&inspectJSONOutput, "json", false, "Output as JSON")
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading certificate: %w", err)
	}
	info, err := pki.ParseCertificatePEM(data)
	if err != nil {
		return err
	}

	if inspectJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("Subject:          %s\n", info.Subject)
	fmt.Printf("Issuer:           %s\n", info.Issuer)
	fmt.Printf("Serial:           %s\n", info.SerialNumber)
	fmt.Printf("Not before:       %s\n", info.NotBefore.Format(time.RFC3339))
	fmt.Printf("Not after:        %s\n", info.NotAfter.Format(time.RFC3339))
	fmt.Printf("Status:           %s\n", info.Status)
	fmt.Printf("Key algorithm:    %s\n", info.KeyAlgorithm)
	fmt.Printf("CA:               %t\n", info.IsCA)
	if len(info.DNSNames) > 0 {
		fmt.Printf("DNS names:        %s\n", strings.Join(info.DNSNames, ", "))
	}
	if len(info.IPAddresses) > 0 {
		fmt.Printf("IP addresses:     %s\n", strings.Join(info.IPAddresses, ", "))
	}
	fmt.Printf("SHA-256:          %s\n", info.FingerprintSHA256)
	if info.SpecFingerprint != "" {
		fmt.Printf("Spec fingerprint: %s\n", info.SpecFingerprint)
	}
	return nil
}
