// Package manifest implements the tree-completeness and tamper-detection
// checks shared by exports, plans, and plan views: a manifest's recorded
// file listing and per-file hashes must exactly match a directory's
// contents.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aristath/fishbro/pkg/canon"
)

// TamperDetected is returned whenever verification fails, carrying a
// human-readable reason.
type TamperDetected struct {
	Reason string
}

func (e *TamperDetected) Error() string {
	return fmt.Sprintf("manifest: tamper detected: %s", e.Reason)
}

// FileHashes maps a file's relative POSIX path to its SHA-256 hex digest.
type FileHashes map[string]string

// Manifest is the minimal shape every verified manifest must expose:
// the per-file hash table and an aggregate hash over that table.
type Manifest struct {
	Files       FileHashes `json:"files_sha256"`
	FilesSHA256 string     `json:"files_sha256_digest"`
}

// HashDir walks dir (skipping the manifest file itself, if named) and
// returns the relative-POSIX-path-sorted file hash table plus its
// aggregate digest.
func HashDir(dir string, excludeNames ...string) (FileHashes, string, error) {
	exclude := make(map[string]bool, len(excludeNames))
	for _, n := range excludeNames {
		exclude[n] = true
	}

	files := FileHashes{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if exclude[filepath.Base(rel)] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[rel] = canon.SHA256Hex(data)
		return nil
	})
	if err != nil {
		return nil, "", fmt.Errorf("manifest: walk dir: %w", err)
	}

	digest, err := canon.HashValue(files)
	if err != nil {
		return nil, "", err
	}
	return files, digest, nil
}

// Verify checks that dir's actual file set and hashes match recordedFiles
// and recordedFilesDigest exactly, then (if manifestSelfHashField is
// non-empty) re-verifies fullManifestBody's self-hash via the canon
// Stamp/Verify protocol.
func Verify(dir string, recordedFiles FileHashes, recordedFilesDigest string, fullManifestBody any, manifestSelfHashField string, manifestFileName string) error {
	actual, actualDigest, err := HashDir(dir, manifestFileName)
	if err != nil {
		return err
	}

	var missingFromManifest, missingFromDir, mismatched []string
	for path, hash := range actual {
		rh, ok := recordedFiles[path]
		if !ok {
			missingFromManifest = append(missingFromManifest, path)
			continue
		}
		if rh != hash {
			mismatched = append(mismatched, path)
		}
	}
	for path := range recordedFiles {
		if _, ok := actual[path]; !ok {
			missingFromDir = append(missingFromDir, path)
		}
	}

	if len(missingFromManifest) > 0 {
		sort.Strings(missingFromManifest)
		return &TamperDetected{Reason: fmt.Sprintf("files present in directory but not in manifest: %s", strings.Join(missingFromManifest, ", "))}
	}
	if len(missingFromDir) > 0 {
		sort.Strings(missingFromDir)
		return &TamperDetected{Reason: fmt.Sprintf("files listed in manifest but missing from directory: %s", strings.Join(missingFromDir, ", "))}
	}
	if len(mismatched) > 0 {
		sort.Strings(mismatched)
		return &TamperDetected{Reason: fmt.Sprintf("sha256 mismatch for: %s", strings.Join(mismatched, ", "))}
	}
	if recordedFilesDigest != "" && actualDigest != recordedFilesDigest {
		return &TamperDetected{Reason: "files_sha256 aggregate digest mismatch"}
	}

	if manifestSelfHashField != "" {
		ok, err := canon.Verify(fullManifestBody, manifestSelfHashField)
		if err != nil {
			return &TamperDetected{Reason: fmt.Sprintf("self-hash verification error: %v", err)}
		}
		if !ok {
			return &TamperDetected{Reason: "manifest self-hash does not match canonical body"}
		}
	}
	return nil
}
