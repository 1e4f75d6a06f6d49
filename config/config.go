// Package config loads flowcanvas.yaml: server, store and telemetry settings
// plus the resource catalog the compiler resolves model, dataset, tool, skill
// and agent IDs against.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/flowcanvas/resource"
)

const (
	projectConfigName = "flowcanvas.yaml"
	homeConfigName    = "config.yaml"
	homeConfigDir     = ".flowcanvas"
)

// Environment variables that override the file.
const (
	EnvConfig       = "FLOWCANVAS_CONFIG"
	EnvAddr         = "FLOWCANVAS_ADDR"
	EnvStore        = "FLOWCANVAS_STORE"
	EnvSQLitePath   = "FLOWCANVAS_SQLITE_PATH"
	EnvPostgresDSN  = "FLOWCANVAS_POSTGRES_DSN"
	EnvOTLPEndpoint = "FLOWCANVAS_OTLP_ENDPOINT"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// File is the shape of flowcanvas.yaml.
type File struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Resources are listed inline, or in ResourcesFile relative to the
	// config file. Both may be used; inline entries win on ID clashes.
	Resources     resource.File `yaml:"resources"`
	ResourcesFile string        `yaml:"resources_file,omitempty"`

	// path is where the file was loaded from.
	path string
}

// ServerConfig configures `flowcanvas serve`.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// StoreConfig selects the workflow store.
type StoreConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	ServiceName  string `yaml:"service_name,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// Default returns the configuration used when no file is found.
func Default() File {
	return File{
		Server:    ServerConfig{Addr: ":8080"},
		Store:     StoreConfig{Driver: StoreMemory},
		Telemetry: TelemetryConfig{ServiceName: "flowcanvas"},
	}
}

// Path returns the file the configuration was loaded from, or "".
func (f File) Path() string {
	return f.path
}

// Discover resolves the config location with first-match semantics: an
// explicit path, then ./flowcanvas.yaml, then ~/.flowcanvas/config.yaml.
func Discover(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverFrom(explicitPath, cwd, homeDir)
}

// DiscoverFrom is a testable variant of Discover.
func DiscoverFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	explicit := strings.TrimSpace(explicitPath) != ""
	if explicit {
		candidates = append(candidates, filepath.Clean(strings.TrimSpace(explicitPath)))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if explicit {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load reads one config file over Default(). ${VAR} references in string
// settings are expanded from the environment.
func Load(path string) (File, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	f := Default()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	f.path = path
	f.Server.Addr = expandEnvValue(f.Server.Addr)
	f.Store.Driver = strings.ToLower(strings.TrimSpace(expandEnvValue(f.Store.Driver)))
	f.Store.SQLitePath = expandEnvValue(f.Store.SQLitePath)
	f.Store.PostgresDSN = expandEnvValue(f.Store.PostgresDSN)
	f.Telemetry.OTLPEndpoint = expandEnvValue(f.Telemetry.OTLPEndpoint)
	if f.ResourcesFile != "" {
		f.ResourcesFile = resolveConfigRelative(filepath.Dir(path), expandEnvValue(f.ResourcesFile))
	}
	return f, nil
}

// Resolve discovers and loads the configuration, then applies environment
// overrides. A missing file is not an error unless explicitPath is set.
func Resolve(explicitPath string) (File, error) {
	if explicitPath == "" {
		explicitPath = os.Getenv(EnvConfig)
	}
	path, found, err := Discover(explicitPath)
	if err != nil {
		return File{}, err
	}
	f := Default()
	if found {
		if f, err = Load(path); err != nil {
			return File{}, err
		}
	}
	f.ApplyEnv(os.Getenv)
	return f, f.Validate()
}

// ApplyEnv overrides settings from FLOWCANVAS_* variables. Setting a store
// DSN or path without FLOWCANVAS_STORE also selects that driver.
func (f *File) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAddr); v != "" {
		f.Server.Addr = v
	}
	if v := getenv(EnvSQLitePath); v != "" {
		f.Store.SQLitePath = v
		f.Store.Driver = StoreSQLite
	}
	if v := getenv(EnvPostgresDSN); v != "" {
		f.Store.PostgresDSN = v
		f.Store.Driver = StorePostgres
	}
	if v := getenv(EnvStore); v != "" {
		f.Store.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := getenv(EnvOTLPEndpoint); v != "" {
		f.Telemetry.OTLPEndpoint = v
	}
}

// Validate checks that the selected store driver is usable.
func (f File) Validate() error {
	switch f.Store.Driver {
	case "", StoreMemory:
		return nil
	case StoreSQLite:
		if f.Store.SQLitePath == "" {
			return errors.New("store: sqlite driver requires sqlite_path")
		}
		return nil
	case StorePostgres:
		if f.Store.PostgresDSN == "" {
			return errors.New("store: postgres driver requires postgres_dsn")
		}
		return nil
	default:
		return fmt.Errorf("store: unsupported driver %q", f.Store.Driver)
	}
}

// Catalog builds the resource catalog from the inline listing and the
// resources file.
func (f File) Catalog() (*resource.Static, error) {
	out := resource.NewStatic()
	if f.ResourcesFile != "" {
		fromFile, err := resource.LoadFile(f.ResourcesFile)
		if err != nil {
			return nil, err
		}
		for _, kind := range resource.Kinds() {
			for _, r := range fromFile.List(kind) {
				out.Add(r)
			}
		}
	}
	inline := f.Resources.Catalog()
	for _, kind := range resource.Kinds() {
		for _, r := range inline.List(kind) {
			out.Add(r)
		}
	}
	return out, nil
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(value)
}

func resolveConfigRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
