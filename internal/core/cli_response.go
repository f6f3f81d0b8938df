package core

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/url"
)

// CLIResponse is the structured JSON envelope for machine-readable CLI output.
//
// Schema:
//
//	{
//	  "success": true|false,
//	  "data": { ... },          // Command-specific payload (omitted on error)
//	  "error": {                 // Present only on failure
//	    "code": "PATH_TRAVERSAL",
//	    "message": "Human-readable description"
//	  }
//	}
type CLIResponse struct {
	Success bool            `json:"success"`
	Data    interface{}     `json:"data,omitempty"`
	Error   *CLIErrorDetail `json:"error,omitempty"`
}

// CLIErrorDetail contains machine-readable error code and human-readable message.
type CLIErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CLI exit codes.
const (
	ExitSuccess          = 0
	ExitPolicyFailure    = 1 // level below threshold or blocking risk
	ExitBundleNotFound   = 2
	ExitInvalidArguments = 3
	ExitExtractionFailed = 4 // unreadable archive or unsafe entries
	ExitNetworkError     = 5
)

// CLI error codes for structured JSON error responses.
const (
	ErrCodeBundleNotFound   = "BUNDLE_NOT_FOUND"
	ErrCodeInvalidArguments = "INVALID_ARGUMENTS"
	ErrCodePathTraversal    = "PATH_TRAVERSAL"
	ErrCodeExtraction       = "EXTRACTION_FAILED"
	ErrCodePolicyFailed     = "POLICY_FAILED"
	ErrCodeNetworkError     = "NETWORK_ERROR"
	ErrCodeConfigError      = "CONFIG_ERROR"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// InvalidArgumentsError marks a usage error detected after flag parsing.
type InvalidArgumentsError struct {
	Message string
}

func (e *InvalidArgumentsError) Error() string { return e.Message }

// WriteCLISuccess writes a successful CLIResponse as indented JSON.
func WriteCLISuccess(w io.Writer, data interface{}) error {
	return writeCLIResponse(w, CLIResponse{Success: true, Data: data})
}

// WriteCLIError writes an error CLIResponse for err and returns the exit
// code the process should use.
func WriteCLIError(w io.Writer, err error) int {
	resp := CLIResponse{
		Success: false,
		Error:   &CLIErrorDetail{Code: CLIErrorCodeForError(err), Message: err.Error()},
	}
	_ = writeCLIResponse(w, resp) //nolint:errcheck
	return CLIExitCodeForError(err)
}

func writeCLIResponse(w io.Writer, resp CLIResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// CLIExitCodeForError maps structured error types to CLI exit codes.
func CLIExitCodeForError(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case IsPolicyFailure(err):
		return ExitPolicyFailure
	case errors.Is(err, ErrBundleNotFound):
		return ExitBundleNotFound
	case isInvalidArguments(err), IsConfigError(err):
		return ExitInvalidArguments
	case IsPathTraversal(err), IsExtractionError(err), IsHashError(err):
		return ExitExtractionFailed
	case IsNetworkError(err):
		return ExitNetworkError
	default:
		return ExitPolicyFailure
	}
}

// CLIErrorCodeForError maps structured error types to CLI error code strings.
func CLIErrorCodeForError(err error) string {
	switch {
	case IsPolicyFailure(err):
		return ErrCodePolicyFailed
	case errors.Is(err, ErrBundleNotFound):
		return ErrCodeBundleNotFound
	case isInvalidArguments(err):
		return ErrCodeInvalidArguments
	case IsConfigError(err):
		return ErrCodeConfigError
	case IsPathTraversal(err):
		return ErrCodePathTraversal
	case IsExtractionError(err), IsHashError(err):
		return ErrCodeExtraction
	case IsNetworkError(err):
		return ErrCodeNetworkError
	default:
		return ErrCodeInternalError
	}
}

// IsNetworkError reports whether err came from a network operation.
func IsNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isInvalidArguments(err error) bool {
	var target *InvalidArgumentsError
	return errors.As(err, &target)
}
