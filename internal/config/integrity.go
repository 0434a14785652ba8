package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

const checksumsFile = ".checksums"

// IntegrityResult is the outcome of Check.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}
	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// lockedFiles lists the files covered by .checksums for a config file: the
// config itself and, when present, the .env beside it.
func lockedFiles(absPath string) []string {
	files := []string{absPath}
	dotenv := filepath.Join(filepath.Dir(absPath), ".env")
	if _, err := os.Stat(dotenv); err == nil {
		files = append(files, dotenv)
	}
	return files
}

// Lock writes .checksums next to the config file.
func Lock(configPath string) (*ChecksumManifest, error) {
	absPath, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}

	manifest := &ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      make(map[string]string),
	}
	for _, path := range lockedFiles(absPath) {
		hash, err := ComputeBlake3Hash(path)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", filepath.Base(path), err)
		}
		manifest.Hashes[filepath.Base(path)] = hash
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}
	// Restrictive permissions: the manifest is what tampering is checked against.
	if err := os.WriteFile(filepath.Join(filepath.Dir(absPath), checksumsFile), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return manifest, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, checksumsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("checksums file not found (run 'graphproc config lock'): %w", os.ErrNotExist)
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// Check reports how the config files compare with .checksums. A missing
// manifest is a warning; any mismatch is an error.
func Check(configPath string) (*IntegrityResult, error) {
	absPath, err := resolvePath(configPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(absPath)
	result := &IntegrityResult{Passed: true}

	manifest, err := LoadChecksums(dir)
	if errors.Is(err, os.ErrNotExist) {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no %s manifest in %s; run 'graphproc config lock' to enable integrity verification", checksumsFile, dir))
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	for _, path := range lockedFiles(absPath) {
		name := filepath.Base(path)
		expected, ok := manifest.Hashes[name]
		if !ok {
			result.Passed = false
			result.Errors = append(result.Errors, fmt.Sprintf("file %s not in %s manifest", name, checksumsFile))
			continue
		}
		if err := VerifyFileHash(path, expected); err != nil {
			result.Passed = false
			result.Errors = append(result.Errors, err.Error())
		}
	}
	for name := range manifest.Hashes {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			result.Passed = false
			result.Errors = append(result.Errors, fmt.Sprintf("file %s is in %s but missing from disk", name, checksumsFile))
		}
	}
	return result, nil
}

// verifyConfigHash fails Load when a manifest exists and disagrees.
func verifyConfigHash(absPath string) error {
	result, err := Check(absPath)
	if err != nil {
		return err
	}
	if !result.Passed {
		return fmt.Errorf("config verification failed: %v\n"+
			"If you edited these files intentionally, run: graphproc config lock --config %s", result.Errors, absPath)
	}
	return nil
}
