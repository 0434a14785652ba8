package config

import (
	"sort"
	"time"

	"github.com/mattjoyce/graphproc/internal/plugin"
)

// Config represents the complete graphproc configuration.
type Config struct {
	Service  ServiceConfig         `yaml:"service"`
	State    StateConfig           `yaml:"state"`
	Pipeline PipelineConfig        `yaml:"pipeline"`
	Ops      OpsConfig             `yaml:"ops,omitempty"`
	Workers  map[string]WorkerConf `yaml:"workers"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines where graph state lives.
type StateConfig struct {
	Path    string `yaml:"path"`
	BlobDir string `yaml:"blob_dir"`
}

// PipelineConfig controls queue consumption and dispatch.
type PipelineConfig struct {
	Stage         string        `yaml:"stage"`
	NextStage     string        `yaml:"next_stage,omitempty"`
	Consumers     int           `yaml:"consumers"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	ResultTimeout time.Duration `yaml:"result_timeout"`
	ResultWaits   int           `yaml:"result_waits"`
	ChunkSize     int           `yaml:"chunk_size"`
	TeeBuffer     int           `yaml:"tee_buffer"`
	TempDir       string        `yaml:"temp_dir,omitempty"`
}

// OpsConfig defines the operational HTTP endpoint.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Token, when set, is required as a bearer token on non-health routes.
	Token string `yaml:"token,omitempty"`
}

// WorkerConf enables one built-in worker. Enabled defaults to true when the
// worker is listed.
type WorkerConf struct {
	Enabled *bool          `yaml:"enabled,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// IsEnabled reports whether the worker should run.
func (w WorkerConf) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// ChecksumManifest is the on-disk .checksums format.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "graphproc",
			LogLevel: "info",
		},
		State: StateConfig{
			Path:    "./data/graph.db",
			BlobDir: "./data/blobs",
		},
		Pipeline: PipelineConfig{
			Stage:         "ingest",
			Consumers:     2,
			PollInterval:  time.Second,
			ResultTimeout: 10 * time.Second,
			ResultWaits:   6,
			ChunkSize:     32 * 1024,
			TeeBuffer:     8,
		},
		Ops: OpsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8081",
		},
		Workers: make(map[string]WorkerConf),
	}
}

// WorkerSpecs returns the enabled workers in name order.
func (c *Config) WorkerSpecs() []plugin.Spec {
	names := make([]string, 0, len(c.Workers))
	for name, wc := range c.Workers {
		if wc.IsEnabled() {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	specs := make([]plugin.Spec, 0, len(names))
	for _, name := range names {
		specs = append(specs, plugin.Spec{Name: name, Config: c.Workers[name].Config})
	}
	return specs
}
