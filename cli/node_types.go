package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/flowcanvas/registry"
)

// NewNodeTypesCmd creates the "node-types" subcommand.
func NewNodeTypesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node-types",
		Short: "List the node types the compiler understands",
		Args:  cobra.NoArgs,
		RunE:  runNodeTypes,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runNodeTypes(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()
	defs := registry.Global().All()

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCATEGORY\tINPUTS\tOUTPUTS")
	for _, d := range defs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Type, d.Category,
			handleNames(d.Handles.Inputs, false), handleNames(d.Handles.Outputs, d.DynamicOutputs))
	}
	return tw.Flush()
}

func handleNames(hs []registry.HandleDef, dynamic bool) string {
	names := make([]string, 0, len(hs)+1)
	for _, h := range hs {
		names = append(names, h.Name)
	}
	if dynamic {
		names = append(names, "<branch>")
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
