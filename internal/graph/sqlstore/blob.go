package sqlstore

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// fileStream is a streamed property value backed by a blob file.
type fileStream struct {
	path string
	size int64
}

func (f fileStream) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return file, nil
}

func (f fileStream) Size() int64 { return f.size }

// blobPath shards blobs by the first two hex characters of their hash.
func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.blobDir, hash[:2], hash)
}

// writeBlob copies r into the blob directory under its BLAKE3 hash. Identical
// content is stored once.
func (s *Store) writeBlob(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(s.blobDir, ".incoming-*")
	if err != nil {
		return "", 0, fmt.Errorf("create blob temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	h := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		_ = tmp.Close()
		return "", 0, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", 0, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close blob: %w", err)
	}

	hash := hex.EncodeToString(h.Sum(nil))
	dest := s.blobPath(hash)
	if _, err := os.Stat(dest); err == nil {
		return hash, size, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", 0, fmt.Errorf("create blob shard: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", 0, fmt.Errorf("store blob: %w", err)
	}
	return hash, size, nil
}
