package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/graph"
	"github.com/petal-labs/flowcanvas/loader"
)

// NewCompileCmd creates the "compile" subcommand.
func NewCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <file>",
		Short: "Compile a canvas snapshot to workflow IR",
		Args:  cobra.ExactArgs(1),
		RunE:  runCompile,
	}

	cmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	cmd.Flags().Bool("pretty", true, "Pretty-print JSON output")
	cmd.Flags().Bool("force", false, "Write the IR even when the check reports errors")
	cmd.Flags().String("config", "", "Path to flowcanvas.yaml")

	return cmd
}

// runCompile implements the compile pipeline:
//
//	load canvas → structural validation → compile → consistency check
//	→ serialize IR → write output
func runCompile(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	stderr := cmd.ErrOrStderr()
	stdout := cmd.OutOrStdout()

	pretty, _ := cmd.Flags().GetBool("pretty")
	force, _ := cmd.Flags().GetBool("force")
	outputPath, _ := cmd.Flags().GetString("output")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := newCompiler(cfg, compiler.Options{})
	if err != nil {
		return err
	}

	g, err := loadCanvas(filePath)
	if err != nil {
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			printDiagnosticsText(stderr, diagErr.Diagnostics)
			return exitError(exitValidation, "canvas validation failed with %d error(s)", len(graph.Errors(diagErr.Diagnostics)))
		}
		return err
	}

	res := c.Compile(g)
	diags := c.Check(g, res)
	if len(diags) > 0 {
		printDiagnosticsText(stderr, diags)
	}
	if graph.HasErrors(diags) && !force {
		return exitError(exitValidation, "compile check failed with %d error(s)", len(graph.Errors(diags)))
	}

	var jsonOut []byte
	if pretty {
		jsonOut, err = json.MarshalIndent(res.Workflow, "", "  ")
	} else {
		jsonOut, err = json.Marshal(res.Workflow)
	}
	if err != nil {
		return exitError(exitRuntime, "serializing workflow: %s", err)
	}
	jsonOut = append(jsonOut, '\n')

	if outputPath != "" {
		if err := os.WriteFile(outputPath, jsonOut, 0600); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		return nil
	}
	if _, err := stdout.Write(jsonOut); err != nil {
		return fmt.Errorf("writing to stdout: %w", err)
	}
	return nil
}
