// Package types defines the finding, control result and report model shared by
// the scan engine, the control catalogue and the report consumers.
package types

import (
	"fmt"
	"strings"
)

// Severity is the severity of a single finding.
type Severity string

// Severity constants, ordered from most to least severe.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank returns a comparable weight for the severity (critical = 4, info = 0).
// Unknown values rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	case SeverityInfo:
		return 0
	default:
		return -1
	}
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Valid reports whether s is one of the five defined levels.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// ParseSeverity parses a case-insensitive severity label.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// ControlStatus is the outcome of a single control run.
type ControlStatus string

// ControlStatus constants.
const (
	StatusPass  ControlStatus = "pass"
	StatusFail  ControlStatus = "fail"
	StatusSkip  ControlStatus = "skip"  // not applicable or not implemented
	StatusError ControlStatus = "error" // control could not complete
)

// RiskScore is the overall risk tier of a bundle.
type RiskScore string

// RiskScore constants.
const (
	RiskCritical RiskScore = "CRITICAL"
	RiskHigh     RiskScore = "HIGH"
	RiskMedium   RiskScore = "MEDIUM"
	RiskLow      RiskScore = "LOW"
	RiskNone     RiskScore = "NONE"
)

// Blocking reports whether the risk tier fails a CI gate.
func (r RiskScore) Blocking() bool {
	return r == RiskCritical || r == RiskHigh
}

// Finding is a single issue reported by a control.
//
// Metadata carries structured facts the aggregation rules read, such as
// "verified" for secrets and "in_kev" / "blocking" for vulnerabilities.
type Finding struct {
	ID          string         `json:"id"`
	Control     string         `json:"control"`
	Severity    Severity       `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	File        string         `json:"file,omitempty"`
	Line        int            `json:"line,omitempty"`
	Remediation string         `json:"remediation,omitempty"`
	InDeps      bool           `json:"in_deps,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MetaBool returns a boolean metadata value, false when absent or not a bool.
func (f Finding) MetaBool(key string) bool {
	v, ok := f.Metadata[key].(bool)
	return ok && v
}

// ControlResult is the outcome of running one control.
type ControlResult struct {
	ControlID   string         `json:"control_id"`
	ControlName string         `json:"control_name"`
	Status      ControlStatus  `json:"status"`
	Findings    []Finding      `json:"findings"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	RawOutput   map[string]any `json:"raw_output,omitempty"`
}

// Passed is true only for PASS. SKIP and ERROR never count as passed.
func (r *ControlResult) Passed() bool {
	return r != nil && r.Status == StatusPass
}

// DomainResult groups the control results of one security domain.
type DomainResult struct {
	Domain   string                    `json:"domain"`
	Controls map[string]*ControlResult `json:"controls"`
}

// NewDomainResult returns an empty domain bucket.
func NewDomainResult(domain string) *DomainResult {
	return &DomainResult{Domain: domain, Controls: make(map[string]*ControlResult)}
}

// Passed is true when every non-skipped control in the domain passed.
func (d *DomainResult) Passed() bool {
	for _, c := range d.Controls {
		if c.Status == StatusSkip {
			continue
		}
		if !c.Passed() {
			return false
		}
	}
	return true
}

// Domain names.
const (
	DomainArtifactIntegrity     = "artifact_integrity"
	DomainSupplyChain           = "supply_chain"
	DomainCodeQuality           = "code_quality"
	DomainCapabilityDeclaration = "capability_declaration"
	DomainProvenance            = "provenance"
)

// Domains lists the known domains in report order.
var Domains = []string{
	DomainArtifactIntegrity,
	DomainSupplyChain,
	DomainCodeQuality,
	DomainCapabilityDeclaration,
	DomainProvenance,
}
