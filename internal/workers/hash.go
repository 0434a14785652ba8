package workers

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/plugin"
)

const HashName = "hash"

type hashConfig struct {
	Keys   []string `yaml:"keys"`
	Suffix string   `yaml:"suffix"`
}

// Hash records the BLAKE3 digest of streamed values.
type Hash struct {
	base
	suffix string
}

func NewHash() *Hash { return &Hash{suffix: "blake3"} }

func (h *Hash) Name() string { return HashName }

func (h *Hash) Prepare(_ context.Context, startup plugin.StartupData) error {
	var cfg hashConfig
	if err := h.prepare(startup, &cfg); err != nil {
		return err
	}
	h.keys = cfg.Keys
	if cfg.Suffix != "" {
		h.suffix = cfg.Suffix
	}
	return nil
}

func (h *Hash) Verify() error { return h.verify() }

func (h *Hash) IsHandled(_ *graph.Element, p *graph.Property) bool {
	return h.live(p, h.suffix) && p.IsStreamed()
}

func (h *Hash) IsLocalFileRequired() bool { return false }

func (h *Hash) Execute(ctx context.Context, in io.Reader, data *plugin.WorkData) error {
	if in == nil {
		return fmt.Errorf("hash needs a streamed value")
	}
	sum := blake3.New()
	n, err := io.Copy(sum, in)
	if err != nil {
		return fmt.Errorf("read stream after %d bytes: %w", n, err)
	}
	return h.saveSibling(ctx, data, h.suffix, hex.EncodeToString(sum.Sum(nil)))
}
