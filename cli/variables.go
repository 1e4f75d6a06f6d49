package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/flowcanvas/catalog"
	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/editor"
	"github.com/petal-labs/flowcanvas/loader"
)

// NewVariablesCmd creates the "variables" subcommand.
func NewVariablesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "variables <file> <node-id>",
		Short: "List the upstream variables a node can reference",
		Args:  cobra.ExactArgs(2),
		RunE:  runVariables,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().String("config", "", "Path to flowcanvas.yaml")

	return cmd
}

func runVariables(cmd *cobra.Command, args []string) error {
	filePath, nodeID := args[0], args[1]
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

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
			printDiagnosticsText(cmd.ErrOrStderr(), diagErr.Diagnostics)
			return exitError(exitValidation, "canvas validation failed")
		}
		return err
	}
	if _, ok := g.Index()[nodeID]; !ok {
		return exitError(exitValidation, "node %q not found in %s", nodeID, filePath)
	}

	vars := editor.New(g, editor.WithCompiler(c)).OutputVariables(nodeID)
	if format == "json" {
		if vars == nil {
			vars = []catalog.Descriptor{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(vars)
	}

	if len(vars) == 0 {
		fmt.Fprintln(out, "No upstream variables.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REFERENCE\tTYPE\tSOURCE")
	for _, v := range vars {
		fmt.Fprintf(tw, "%s\t%s\t%s.%s\n", v.Value, v.Type, v.Title, v.Label)
	}
	return tw.Flush()
}
