package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/flowcanvas/cli"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowcanvas",
	Short: "FlowCanvas workflow compiler CLI",
	Long:  "FlowCanvas compiles visual workflow canvases into the workflow IR run by the execution backend.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		quiet, _ := cmd.Flags().GetBool("quiet")
		cli.SetupLogging(cmd.ErrOrStderr(), verbose, quiet)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("flowcanvas version %s\n", version))

	rootCmd.AddCommand(cli.NewCompileCmd())
	rootCmd.AddCommand(cli.NewValidateCmd())
	rootCmd.AddCommand(cli.NewNodeTypesCmd())
	rootCmd.AddCommand(cli.NewVariablesCmd())
	rootCmd.AddCommand(cli.NewServeCmd())
}
