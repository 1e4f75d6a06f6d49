package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/spf13/cobra"

	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/graph"
	"github.com/petal-labs/flowcanvas/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file|glob>...",
		Short: "Check canvas snapshots without writing IR",
		Long: "Validate compiles each canvas and reports structural and consistency " +
			"diagnostics. Arguments may be ** glob patterns.",
		Args: cobra.MinimumNArgs(1),
		RunE: runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("strict", false, "Treat warnings as errors")
	cmd.Flags().Int("workers", runtime.NumCPU(), "Files validated concurrently")
	cmd.Flags().String("config", "", "Path to flowcanvas.yaml")

	return cmd
}

// fileReport is the validation outcome of one file.
type fileReport struct {
	File        string             `json:"file"`
	Diagnostics []graph.Diagnostic `json:"diagnostics"`
	Error       string             `json:"error,omitempty"`

	code int
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	strict, _ := cmd.Flags().GetBool("strict")
	workers, _ := cmd.Flags().GetInt("workers")
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	c, err := newCompiler(cfg, compiler.Options{})
	if err != nil {
		return err
	}

	files, err := expandInputs(args)
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}

	reports, err := validateFiles(c, files, workers)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	if format == "json" {
		printReportsJSON(out, reports)
	} else {
		printReportsText(out, reports)
	}

	failed := 0
	for _, r := range reports {
		if r.code == exitFileNotFound && len(reports) == 1 {
			return exitError(exitFileNotFound, "%s", r.Error)
		}
		hasWarns := len(graph.Warnings(r.Diagnostics)) > 0
		if r.Error != "" || graph.HasErrors(r.Diagnostics) || (strict && hasWarns) {
			failed++
		}
	}
	if failed > 0 {
		return exitError(exitValidation, "validation failed for %d of %d %s",
			failed, len(reports), pluralize("file", len(reports)))
	}
	return nil
}

// expandInputs expands ** glob patterns into file paths. A pattern matching
// nothing is kept as a literal path so the loader reports it. The result is
// deduplicated and keeps argument order.
func expandInputs(patterns []string) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", p, err)
		}
		if len(matches) == 0 {
			matches = []string{p}
		}
		slices.Sort(matches)
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	return files, nil
}

type validateTask struct {
	idx  int
	path string
	wg   *sync.WaitGroup
}

// validateFiles checks files on a pool of workers. Reports come back in
// input order.
func validateFiles(c *compiler.Compiler, files []string, workers int) ([]fileReport, error) {
	if workers <= 0 {
		workers = 1
	}
	reports := make([]fileReport, len(files))
	pool, err := ants.NewPoolWithFunc(workers, func(arg any) {
		task, ok := arg.(*validateTask)
		if !ok {
			panic("validate pool args type error")
		}
		defer task.wg.Done()
		reports[task.idx] = validateFile(c, task.path)
	})
	if err != nil {
		return nil, fmt.Errorf("create validate pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		if err := pool.Invoke(&validateTask{idx: i, path: f, wg: &wg}); err != nil {
			wg.Done()
			reports[i] = fileReport{File: f, Error: err.Error(), code: exitRuntime}
		}
	}
	wg.Wait()
	return reports, nil
}

func validateFile(c *compiler.Compiler, path string) fileReport {
	r := fileReport{File: path}
	g, err := loadCanvas(path)
	if err != nil {
		var diagErr *loader.DiagnosticError
		var exitErr *ExitError
		switch {
		case errors.As(err, &diagErr):
			r.Diagnostics = diagErr.Diagnostics
		case errors.As(err, &exitErr):
			r.Error = exitErr.Message
			r.code = exitErr.Code
		default:
			r.Error = err.Error()
		}
		return r
	}
	r.Diagnostics = c.Check(g, nil)
	return r
}

func printReportsText(w io.Writer, reports []fileReport) {
	if len(reports) == 1 && reports[0].Error == "" {
		printDiagnosticsText(w, reports[0].Diagnostics)
		return
	}
	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s:\n", r.File)
		if r.Error != "" {
			fmt.Fprintf(w, "ERROR: %s\n", r.Error)
			continue
		}
		printDiagnosticsText(w, r.Diagnostics)
	}
}

// printReportsJSON writes a bare diagnostics array for a single file and a
// per-file report array otherwise.
func printReportsJSON(w io.Writer, reports []fileReport) {
	if len(reports) == 1 && reports[0].Error == "" {
		printDiagnosticsJSON(w, reports[0].Diagnostics)
		return
	}
	for i := range reports {
		if reports[i].Diagnostics == nil {
			reports[i].Diagnostics = []graph.Diagnostic{}
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(reports)
}

// printDiagnosticsText writes diagnostics as formatted text lines followed by
// a summary. Used by both the validate and compile commands.
func printDiagnosticsText(w io.Writer, diags []graph.Diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(d.Severity)
		if d.Path != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Path)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errs := graph.Errors(diags)
	warns := graph.Warnings(diags)

	switch {
	case len(errs) == 0 && len(warns) == 0:
		fmt.Fprintln(w, "Valid!")
	case len(errs) == 0 && len(warns) > 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", len(warns), pluralize("warning", len(warns)))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			len(errs), pluralize("error", len(errs)),
			len(warns), pluralize("warning", len(warns)))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []graph.Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []graph.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(diags)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
