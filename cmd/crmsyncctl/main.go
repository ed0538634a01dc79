// crmsyncctl is the operator CLI for the CRM sync pipeline: inspect and
// reset circuit breakers, drain the dead-letter queue, and requeue stuck
// webhook log entries.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talentbridge-systems/crmsync/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config

	receiverURL string
	workerURL   string
)

var rootCmd = &cobra.Command{
	Use:   "crmsyncctl",
	Short: "CRM sync pipeline operator CLI",
	Long: `crmsyncctl is the command-line interface for operating the CRM
change-event sync pipeline.

Inspect and reset circuit breakers, list and purge the dead-letter queue,
and requeue webhook log entries that never reached the worker.`,
	Version: "0.1.0",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	rootCmd.PersistentFlags().StringVar(&receiverURL, "receiver-url", "http://localhost:8080", "receiver admin base URL")
	rootCmd.PersistentFlags().StringVar(&workerURL, "worker-url", "http://localhost:8081", "worker admin base URL")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg, _ = config.Load("")
	}
}
