package core

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// Extraction limits.
const (
	maxExtractedBytes = 512 << 20
	maxArchiveEntries = 20000
)

// ManifestName is the manifest file at the bundle root.
const ManifestName = "manifest.json"

// ComputeBundleHash returns the "sha256:<hex>" digest of the archive bytes.
func ComputeBundleHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &HashError{Path: path, Err: err}
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &HashError{Path: path, Err: err}
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// ValidateDestPath validates that an archive entry name is a safe relative path.
// Rejects absolute paths, Windows drive letters and any ".." component that
// would escape the destination root.
func ValidateDestPath(destPath string) error {
	// Zip names always use forward slashes, but hostile archives may not
	normalized := strings.ReplaceAll(destPath, "\\", "/")

	if destPath == "" {
		return fmt.Errorf("invalid destination path: empty name")
	}

	// Check if path starts with / (Unix-style absolute or root-relative)
	if strings.HasPrefix(normalized, "/") {
		return fmt.Errorf("invalid destination path: %s (absolute paths are not allowed)", destPath)
	}

	// Check for Windows drive letters (cross-platform check: C:, D:, etc.)
	if len(normalized) >= 2 && normalized[1] == ':' &&
		(normalized[0] >= 'A' && normalized[0] <= 'Z' || normalized[0] >= 'a' && normalized[0] <= 'z') {
		return fmt.Errorf("invalid destination path: %s (absolute paths are not allowed)", destPath)
	}

	cleaned := filepath.Clean(filepath.FromSlash(normalized))
	if filepath.IsAbs(cleaned) {
		return fmt.Errorf("invalid destination path: %s (absolute paths are not allowed)", destPath)
	}

	// Check for .. that survives cleaning (path traversal attack)
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid destination path: %s (path traversal with .. is not allowed)", destPath)
	}

	return nil
}

// ExtractBundle unpacks the zip archive at archivePath into destDir.
//
// Every entry is validated before any file is written: a single unsafe entry
// (traversal, absolute path, symlink) rejects the whole archive with a
// PathTraversalError and leaves destDir untouched.
func ExtractBundle(archivePath, destDir string) (err error) {
	zr, openErr := zip.OpenReader(archivePath)
	if openErr != nil && !(errors.Is(openErr, zip.ErrInsecurePath) && zr != nil) {
		return NewExtractionError(archivePath, fmt.Errorf("%w: %v", ErrInvalidArchive, openErr))
	}
	defer func() {
		err = multierr.Append(err, zr.Close())
	}()

	if len(zr.File) > maxArchiveEntries {
		return NewExtractionError(archivePath, fmt.Errorf("%w: %d entries", ErrArchiveTooLarge, len(zr.File)))
	}

	// Validate all entries first
	var total uint64
	for _, f := range zr.File {
		if err := ValidateDestPath(f.Name); err != nil {
			return NewPathTraversalError(archivePath, f.Name)
		}
		if f.Mode()&os.ModeSymlink != 0 {
			return NewPathTraversalError(archivePath, f.Name)
		}
		total += f.UncompressedSize64
		if total > maxExtractedBytes {
			return NewExtractionError(archivePath, fmt.Errorf("%w: more than %d bytes", ErrArchiveTooLarge, maxExtractedBytes))
		}
	}

	root, absErr := filepath.Abs(destDir)
	if absErr != nil {
		return NewExtractionError(archivePath, absErr)
	}

	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(f.Name, "\\", "/")))
		// Belt and braces: the joined path must stay under root
		if target == root {
			continue
		}
		if !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return NewPathTraversalError(archivePath, f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return NewExtractionError(archivePath, err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return NewExtractionError(archivePath, fmt.Errorf("%s: %w", f.Name, err))
		}
	}
	return nil
}

func extractFile(f *zip.File, target string) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rc.Close())
	}()

	// Keep the executable bit so completeness checks can see it
	mode := os.FileMode(0o644)
	if f.Mode()&0o111 != 0 {
		mode = 0o755
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, out.Close())
	}()

	_, err = io.Copy(out, io.LimitReader(rc, maxExtractedBytes))
	return err
}

// LoadManifest reads manifest.json from the bundle root. Absence or a parse
// failure yields an empty manifest, never an error.
func LoadManifest(bundleDir string) types.Manifest {
	data, err := os.ReadFile(filepath.Join(bundleDir, ManifestName))
	if err != nil {
		return types.Manifest{}
	}
	m, err := types.ParseManifest(data)
	if err != nil {
		return types.Manifest{}
	}
	return m
}
