package workers

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/plugin"
)

const FoldName = "fold"

type foldConfig struct {
	Keys   []string `yaml:"keys"`
	Suffix string   `yaml:"suffix"`
	// Language switches from language-neutral case folding to
	// language-specific lower casing (e.g. "tr").
	Language string `yaml:"language"`
}

// Fold stores an NFC-normalized, case-folded copy of string values so
// lookups can ignore case and composition differences.
type Fold struct {
	base
	suffix string
	caser  cases.Caser
}

func NewFold() *Fold { return &Fold{suffix: "folded", caser: cases.Fold()} }

func (f *Fold) Name() string { return FoldName }

func (f *Fold) Prepare(_ context.Context, startup plugin.StartupData) error {
	var cfg foldConfig
	if err := f.prepare(startup, &cfg); err != nil {
		return err
	}
	f.keys = cfg.Keys
	if cfg.Suffix != "" {
		f.suffix = cfg.Suffix
	}
	if cfg.Language != "" {
		tag, err := language.Parse(cfg.Language)
		if err != nil {
			return fmt.Errorf("fold language: %w", err)
		}
		f.caser = cases.Lower(tag)
	}
	return nil
}

func (f *Fold) Verify() error { return f.verify() }

func (f *Fold) IsHandled(_ *graph.Element, p *graph.Property) bool {
	if !f.live(p, f.suffix) || p.IsStreamed() {
		return false
	}
	_, ok := p.Value.(string)
	return ok
}

func (f *Fold) IsLocalFileRequired() bool { return false }

func (f *Fold) Execute(ctx context.Context, _ io.Reader, data *plugin.WorkData) error {
	s, ok := data.Property.Value.(string)
	if !ok {
		return fmt.Errorf("fold needs a string value, got %T", data.Property.Value)
	}
	return f.saveSibling(ctx, data, f.suffix, f.Apply(s))
}

// Apply normalizes s to NFC and folds its case.
func (f *Fold) Apply(s string) string {
	return f.caser.String(norm.NFC.String(s))
}
