package cli

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/config"
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/loader"
)

// SetupLogging installs the default slog logger for the CLI. verbose enables
// debug output; quiet keeps only errors.
func SetupLogging(w io.Writer, verbose, quiet bool) {
	level := slog.LevelWarn
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadConfig resolves flowcanvas.yaml from the --config flag, the
// environment, or the default locations.
func loadConfig(cmd *cobra.Command) (config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Resolve(path)
	if err != nil {
		return config.File{}, exitError(exitConfig, "loading config: %v", err)
	}
	return cfg, nil
}

// newCompiler builds a compiler resolving resources against the catalog in
// cfg.
func newCompiler(cfg config.File, opts compiler.Options) (*compiler.Compiler, error) {
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, exitError(exitConfig, "loading resource catalog: %v", err)
	}
	opts.Resources = cat
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return compiler.New(opts), nil
}

// loadCanvas reads a canvas file and maps failures onto exit codes.
// Structural errors are returned with their diagnostics so callers can print
// them.
func loadCanvas(path string) (core.Graph, error) {
	g, err := loader.LoadGraph(path)
	if err == nil {
		return g, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return core.Graph{}, exitError(exitFileNotFound, "file not found: %s", path)
	}
	var diagErr *loader.DiagnosticError
	if errors.As(err, &diagErr) {
		return core.Graph{}, diagErr
	}
	return core.Graph{}, exitError(exitInputParse, "parsing %s: %v", path, err)
}
