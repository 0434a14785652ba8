package workers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mattjoyce/graphproc/internal/graph"
	"github.com/mattjoyce/graphproc/internal/plugin"
)

const SizeName = "size"

// sniffLen is how many bytes http.DetectContentType looks at.
const sniffLen = 512

type sizeConfig struct {
	Keys   []string `yaml:"keys"`
	Suffix string   `yaml:"suffix"`
}

// SizeInfo is the value Size stores.
type SizeInfo struct {
	Bytes       int64  `json:"bytes"`
	ContentType string `json:"content_type"`
}

// Size records the byte size and sniffed content type of streamed values.
// It works from the local copy rather than the stream.
type Size struct {
	base
	suffix string
}

func NewSize() *Size { return &Size{suffix: "size"} }

func (s *Size) Name() string { return SizeName }

func (s *Size) Prepare(_ context.Context, startup plugin.StartupData) error {
	var cfg sizeConfig
	if err := s.prepare(startup, &cfg); err != nil {
		return err
	}
	s.keys = cfg.Keys
	if cfg.Suffix != "" {
		s.suffix = cfg.Suffix
	}
	return nil
}

func (s *Size) Verify() error { return s.verify() }

func (s *Size) IsHandled(_ *graph.Element, p *graph.Property) bool {
	return s.live(p, s.suffix) && p.IsStreamed()
}

func (s *Size) IsLocalFileRequired() bool { return true }

func (s *Size) Execute(ctx context.Context, _ io.Reader, data *plugin.WorkData) error {
	if data.LocalFile == "" {
		return fmt.Errorf("no local copy of %s/%s", data.Property.Key, data.Property.Name)
	}
	info, err := inspectFile(data.LocalFile)
	if err != nil {
		return err
	}
	return s.saveSibling(ctx, data, s.suffix, info)
}

func inspectFile(path string) (SizeInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return SizeInfo{}, fmt.Errorf("open local copy: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return SizeInfo{}, fmt.Errorf("stat local copy: %w", err)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return SizeInfo{}, fmt.Errorf("read local copy: %w", err)
	}
	return SizeInfo{Bytes: st.Size(), ContentType: http.DetectContentType(head[:n])}, nil
}
