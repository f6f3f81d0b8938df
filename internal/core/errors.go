package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// These can be used with errors.Is() for error type checking.
var (
	// ErrPathTraversal indicates an archive entry resolves outside the extraction root
	ErrPathTraversal = errors.New("archive entry escapes extraction root")

	// ErrInvalidArchive indicates the bundle is not a readable zip archive
	ErrInvalidArchive = errors.New("invalid bundle archive")

	// ErrArchiveTooLarge indicates the archive exceeds the extraction limits
	ErrArchiveTooLarge = errors.New("bundle archive exceeds extraction limits")

	// ErrBundleNotFound indicates the bundle path does not exist
	ErrBundleNotFound = errors.New("bundle not found")

	// ErrLevelNotMet indicates the bundle is below the requested compliance level
	ErrLevelNotMet = errors.New("minimum compliance level not met")

	// ErrRiskTooHigh indicates the bundle risk score is CRITICAL or HIGH
	ErrRiskTooHigh = errors.New("bundle risk score too high")
)

// formatError renders the three-part Error/Context/Fix message.
func formatError(summary, context, fix string) string {
	return fmt.Sprintf("Error: %s\nContext: %s\nFix: %s", summary, context, fix)
}

// PathTraversalError reports an archive entry that would be written outside
// the extraction root.
type PathTraversalError struct {
	Archive string
	Entry   string
}

func (e *PathTraversalError) Error() string {
	return formatError(
		fmt.Sprintf("unsafe archive entry %q", e.Entry),
		fmt.Sprintf("Extracting %s would write outside the destination directory. No files were written.", e.Archive),
		"Rebuild the bundle with relative entry paths only (no '..', absolute paths or symlinks).",
	)
}

// Unwrap allows errors.Is(err, ErrPathTraversal).
func (e *PathTraversalError) Unwrap() error { return ErrPathTraversal }

// NewPathTraversalError creates a PathTraversalError.
func NewPathTraversalError(archive, entry string) *PathTraversalError {
	return &PathTraversalError{Archive: archive, Entry: entry}
}

// IsPathTraversal reports whether err is, or wraps, a path traversal rejection.
func IsPathTraversal(err error) bool {
	return errors.Is(err, ErrPathTraversal)
}

// ExtractionError reports a bundle that could not be opened or unpacked.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return formatError(
		fmt.Sprintf("cannot extract bundle: %v", e.Err),
		fmt.Sprintf("Bundle: %s", e.Archive),
		"Verify the file is a valid .mcpb (zip) archive, e.g. with 'unzip -l'.",
	)
}

// Unwrap returns the underlying cause.
func (e *ExtractionError) Unwrap() error { return e.Err }

// NewExtractionError creates an ExtractionError.
func NewExtractionError(archive string, err error) *ExtractionError {
	return &ExtractionError{Archive: archive, Err: err}
}

// IsExtractionError reports whether err is an ExtractionError.
func IsExtractionError(err error) bool {
	var target *ExtractionError
	return errors.As(err, &target)
}

// HashError reports a bundle whose content hash could not be computed.
type HashError struct {
	Path string
	Err  error
}

func (e *HashError) Error() string {
	return formatError(
		fmt.Sprintf("cannot hash bundle: %v", e.Err),
		fmt.Sprintf("Bundle: %s", e.Path),
		"Check that the file exists and is readable.",
	)
}

// Unwrap returns the underlying cause.
func (e *HashError) Unwrap() error { return e.Err }

// IsHashError reports whether err is a HashError.
func IsHashError(err error) bool {
	var target *HashError
	return errors.As(err, &target)
}

// PolicyError reports a scan whose result fails the caller's gate.
type PolicyError struct {
	Reason error // ErrLevelNotMet or ErrRiskTooHigh
	Detail string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%v: %s", e.Reason, e.Detail)
}

// Unwrap returns the sentinel reason.
func (e *PolicyError) Unwrap() error { return e.Reason }

// IsPolicyFailure reports whether err is a policy gate failure.
func IsPolicyFailure(err error) bool {
	var target *PolicyError
	return errors.As(err, &target)
}

// ConfigError reports an unreadable or invalid scanner configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return formatError(
		fmt.Sprintf("invalid configuration: %v", e.Err),
		"Settings come from flags, MPAK_SCANNER_* variables and config.yaml, in that order.",
		"Fix the named key or remove it to use the default.",
	)
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}
