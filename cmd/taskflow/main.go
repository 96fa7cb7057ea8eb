package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "taskflow",
		Short: "taskflow - component process runner",
		Long: `taskflow builds a process of components from a deployment file,
connects their interfaces and runs the periodic tasks until interrupted.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "deployment.yaml", "deployment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(DescribeCmd())
	rootCmd.AddCommand(ValidateCmd())
	rootCmd.AddCommand(MigrateCmd())
	rootCmd.AddCommand(VersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
