package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides are GRAPHPROC_* variables that take precedence over the file.
// Unset variables leave the file value alone.
type envOverrides struct {
	LogLevel      string        `env:"LOG_LEVEL"`
	StatePath     string        `env:"STATE_PATH"`
	BlobDir       string        `env:"BLOB_DIR"`
	Stage         string        `env:"STAGE"`
	NextStage     string        `env:"NEXT_STAGE"`
	Consumers     int           `env:"CONSUMERS"`
	PollInterval  time.Duration `env:"POLL_INTERVAL"`
	ResultTimeout time.Duration `env:"RESULT_TIMEOUT"`
	ResultWaits   int           `env:"RESULT_WAITS"`
	ChunkSize     int           `env:"CHUNK_SIZE"`
	TeeBuffer     int           `env:"TEE_BUFFER"`
	TempDir       string        `env:"TEMP_DIR"`
	OpsEnabled    *bool         `env:"OPS_ENABLED"`
	OpsListen     string        `env:"OPS_LISTEN"`
	OpsToken      string        `env:"OPS_TOKEN"`
}

const envPrefix = "GRAPHPROC_"

func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse %s* environment: %w", envPrefix, err)
	}

	setString(&cfg.Service.LogLevel, o.LogLevel)
	setString(&cfg.State.Path, o.StatePath)
	setString(&cfg.State.BlobDir, o.BlobDir)
	setString(&cfg.Pipeline.Stage, o.Stage)
	setString(&cfg.Pipeline.NextStage, o.NextStage)
	setString(&cfg.Pipeline.TempDir, o.TempDir)
	setString(&cfg.Ops.Listen, o.OpsListen)
	setString(&cfg.Ops.Token, o.OpsToken)
	if o.Consumers > 0 {
		cfg.Pipeline.Consumers = o.Consumers
	}
	if o.PollInterval > 0 {
		cfg.Pipeline.PollInterval = o.PollInterval
	}
	if o.ResultTimeout > 0 {
		cfg.Pipeline.ResultTimeout = o.ResultTimeout
	}
	if o.ResultWaits > 0 {
		cfg.Pipeline.ResultWaits = o.ResultWaits
	}
	if o.ChunkSize > 0 {
		cfg.Pipeline.ChunkSize = o.ChunkSize
	}
	if o.TeeBuffer > 0 {
		cfg.Pipeline.TeeBuffer = o.TeeBuffer
	}
	if o.OpsEnabled != nil {
		cfg.Ops.Enabled = *o.OpsEnabled
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
