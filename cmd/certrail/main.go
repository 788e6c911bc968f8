// certrail is the operator CLI for the certificate anchoring and
// delivery pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "certrail",
	Short: "Certificate anchoring and delivery pipeline",
	Long: `certrail anchors certificate hashes on-chain and delivers
certificate files to recipients by email, tracking delivery state in a
durable queue.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default certrail.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
