package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a config file (or config.yaml inside a directory), interpolates
// ${VAR} references, applies defaults and GRAPHPROC_* overrides, verifies the
// .checksums manifest when one exists and validates the result.
//
// A .env file next to the config is loaded first; variables already set in
// the environment win.
func Load(configPath string) (*Config, error) {
	absPath, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}
	if err := loadDotEnv(filepath.Dir(absPath)); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	if cfg.Workers == nil {
		cfg.Workers = make(map[string]WorkerConf)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	resolveRelativePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolvePath accepts a file or a directory holding config.yaml.
func resolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func loadDotEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", filepath.Join(dir, ".env"), err)
}

// interpolateEnv replaces ${VAR} with its value. Unset variables are left in
// place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// resolveRelativePaths anchors state and temp paths at the config directory.
func resolveRelativePaths(cfg *Config, baseDir string) {
	for _, p := range []*string{&cfg.State.Path, &cfg.State.BlobDir, &cfg.Pipeline.TempDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.BlobDir == "" {
		return fmt.Errorf("state.blob_dir is required")
	}

	p := cfg.Pipeline
	switch {
	case p.Stage == "":
		return fmt.Errorf("pipeline.stage is required")
	case p.NextStage == p.Stage:
		return fmt.Errorf("pipeline.next_stage must differ from pipeline.stage (%q)", p.Stage)
	case p.Consumers <= 0:
		return fmt.Errorf("pipeline.consumers must be positive")
	case p.PollInterval <= 0:
		return fmt.Errorf("pipeline.poll_interval must be positive")
	case p.ResultTimeout <= 0:
		return fmt.Errorf("pipeline.result_timeout must be positive")
	case p.ResultWaits <= 0:
		return fmt.Errorf("pipeline.result_waits must be positive")
	case p.ChunkSize <= 0:
		return fmt.Errorf("pipeline.chunk_size must be positive")
	case p.TeeBuffer <= 0:
		return fmt.Errorf("pipeline.tee_buffer must be positive")
	}

	if cfg.Ops.Enabled && cfg.Ops.Listen == "" {
		return fmt.Errorf("ops.listen is required when ops is enabled")
	}

	for name, wc := range cfg.Workers {
		if !wc.IsEnabled() {
			continue
		}
		if err := checkUnresolvedEnvVars(wc.Config, name); err != nil {
			return err
		}
	}
	for _, s := range []struct{ field, value string }{
		{"state.path", cfg.State.Path},
		{"state.blob_dir", cfg.State.BlobDir},
		{"pipeline.temp_dir", cfg.Pipeline.TempDir},
		{"ops.token", cfg.Ops.Token},
	} {
		if m := envVarPattern.FindStringSubmatch(s.value); m != nil {
			return fmt.Errorf("%s: environment variable ${%s} is not set", s.field, m[1])
		}
	}
	return nil
}

func checkUnresolvedEnvVars(data map[string]any, workerName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if m := envVarPattern.FindStringSubmatch(v); m != nil {
				return fmt.Errorf("worker %q config.%s: environment variable ${%s} is not set", workerName, key, m[1])
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, workerName); err != nil {
				return err
			}
		}
	}
	return nil
}

// Discover finds a config when --config is not given.
// Priority order: $GRAPHPROC_CONFIG, ~/.config/graphproc, /etc/graphproc, ./config.yaml
func Discover() (string, error) {
	candidates := make([]string, 0, 4)
	if p := os.Getenv("GRAPHPROC_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "graphproc"))
	}
	candidates = append(candidates, "/etc/graphproc", "./config.yaml")

	for _, c := range candidates {
		if _, err := resolvePath(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $GRAPHPROC_CONFIG, ~/.config/graphproc, /etc/graphproc, ./config.yaml)")
}
