package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rrockerd/rrockerd/pkg/isolate"
	"github.com/rrockerd/rrockerd/pkg/log"

	_ "github.com/rrockerd/rrockerd/pkg/service" // registers the exec-user-command thunk
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	// Re-exec'd isolated children never reach cobra: they are this
	// same binary invoked with the sentinel argv[1], and exit from
	// within this call.
	isolate.MaybeRunChild()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "rrockerd",
	Short:   "rrockerd runs commands in isolated namespaces for remote, authenticated clients",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("rrockerd version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
