package core

import (
	"context"
	"fmt"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// Enforcement names where a control is enforced.
type Enforcement string

// Enforcement constants.
const (
	EnforcedByScanner  Enforcement = "scanner"
	EnforcedByRegistry Enforcement = "registry"
	EnforcedByClient   Enforcement = "client"
	EnforcedByBoth     Enforcement = "both"
)

// ControlInfo is the static metadata of a control.
type ControlInfo struct {
	ID          string
	Name        string
	Domain      string
	Level       types.ComplianceLevel // first level at which the control is required
	MCPSpecific bool
	Enforcement Enforcement
	Description string
}

// Bundle is the read-only context shared by all controls in one scan.
type Bundle struct {
	Dir      string         // extracted bundle root
	Manifest types.Manifest // parsed manifest.json, empty when absent or invalid
}

// Control is one independent security check.
//
// Run must not mutate the bundle. It should report its own failures through
// ERROR or SKIP results; a panic is recovered by the engine and recorded as
// ERROR.
//
//go:generate mockgen -source=control.go -destination=control_mock_test.go -package=core
type Control interface {
	Info() ControlInfo
	Run(ctx context.Context, bundle *Bundle) *types.ControlResult
}

// NewResult starts a result for the control with the given status.
func NewResult(info ControlInfo, status types.ControlStatus, findings []types.Finding) *types.ControlResult {
	if findings == nil {
		findings = []types.Finding{}
	}
	return &types.ControlResult{
		ControlID:   info.ID,
		ControlName: info.Name,
		Status:      status,
		Findings:    findings,
	}
}

// Skip returns a SKIP result for controls that are not applicable or not
// implemented.
func Skip(info ControlInfo, reason string) *types.ControlResult {
	r := NewResult(info, types.StatusSkip, nil)
	r.Error = reason
	return r
}

// Errorf returns an ERROR result for environment failures such as a missing
// tool, a timeout or an unreachable feed.
func Errorf(info ControlInfo, format string, args ...any) *types.ControlResult {
	r := NewResult(info, types.StatusError, nil)
	r.Error = fmt.Sprintf(format, args...)
	return r
}

// FindingID formats the n-th finding id of a control, e.g. "CQ-01-0003".
func FindingID(controlID string, n int) string {
	return fmt.Sprintf("%s-%04d", controlID, n)
}
