package types

import (
	"encoding/json"
	"fmt"
)

// WireReport is the serialized report shape consumed by the registry, the
// CLI and the job runner. Field names and nesting are a compatibility
// surface; change them only with a schema version bump.
type WireReport struct {
	Version    string                `json:"version"`
	Bundle     WireBundle            `json:"bundle"`
	Scan       WireScan              `json:"scan"`
	Compliance WireCompliance        `json:"compliance"`
	RiskScore  RiskScore             `json:"risk_score"`
	Domains    map[string]WireDomain `json:"domains"`
	Findings   []WireFinding         `json:"findings"`
	SBOM       WireSBOM              `json:"sbom"`
}

// WireBundle identifies the scanned archive.
type WireBundle struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Hash    string `json:"hash"`
}

// WireScan describes the scan run itself.
type WireScan struct {
	Timestamp      string `json:"timestamp"`
	Scanner        string `json:"scanner"`
	ScannerVersion string `json:"scanner_version"`
	DurationMS     int64  `json:"duration_ms"`
}

// WireCompliance summarizes the compliance ladder result.
type WireCompliance struct {
	Level          ComplianceLevel `json:"level"`
	LevelName      string          `json:"level_name"`
	ControlsPassed int             `json:"controls_passed"`
	ControlsFailed int             `json:"controls_failed"`
	ControlsTotal  int             `json:"controls_total"`
}

// WireDomain holds the controls of one domain.
type WireDomain struct {
	Controls map[string]WireControl `json:"controls"`
}

// WireControl is one control's status and findings.
type WireControl struct {
	Status   ControlStatus `json:"status"`
	Findings []WireFinding `json:"findings"`
	Error    string        `json:"error,omitempty"`
}

// WireFinding is a finding as serialized. Control is only set in the
// flattened findings list. File, line and remediation serialize as null
// when absent.
type WireFinding struct {
	ID          string   `json:"id"`
	Control     string   `json:"control,omitempty"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	File        *string  `json:"file"`
	Line        *int     `json:"line"`
	Remediation *string  `json:"remediation"`
}

// WireSBOM summarizes the generated SBOM.
type WireSBOM struct {
	Format         string `json:"format"`
	ComponentCount int    `json:"component_count"`
}

// ToWire converts the report into its serialized shape.
func (r *SecurityReport) ToWire() WireReport {
	level := r.ComplianceLevel()
	w := WireReport{
		Version: ReportSchemaVersion,
		Bundle: WireBundle{
			Name:    r.BundleName,
			Version: r.BundleVersion,
			Hash:    r.BundleHash,
		},
		Scan: WireScan{
			Timestamp:      r.ScanTimestamp,
			Scanner:        ScannerName,
			ScannerVersion: r.ScannerVersion,
			DurationMS:     r.DurationMS,
		},
		Compliance: WireCompliance{
			Level:          level,
			LevelName:      level.Name(),
			ControlsPassed: r.ControlsPassed(),
			ControlsFailed: r.ControlsFailed(),
			ControlsTotal:  r.ControlsTotal(),
		},
		RiskScore: r.RiskScore(),
		Domains:   make(map[string]WireDomain, len(r.Domains)),
		Findings:  []WireFinding{},
		SBOM: WireSBOM{
			Format:         r.SBOMFormat,
			ComponentCount: r.SBOMComponentCount,
		},
	}

	for name, d := range r.Domains {
		wd := WireDomain{Controls: make(map[string]WireControl, len(d.Controls))}
		for id, c := range d.Controls {
			wc := WireControl{Status: c.Status, Findings: []WireFinding{}, Error: c.Error}
			for _, f := range c.Findings {
				wc.Findings = append(wc.Findings, toWireFinding(f, false))
			}
			wd.Controls[id] = wc
		}
		w.Domains[name] = wd
	}

	for _, f := range r.AllFindings() {
		w.Findings = append(w.Findings, toWireFinding(f, true))
	}
	return w
}

// MarshalReport renders the report as indented JSON.
func MarshalReport(r *SecurityReport) ([]byte, error) {
	data, err := json.MarshalIndent(r.ToWire(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// ParseReport decodes a serialized report.
func ParseReport(data []byte) (*WireReport, error) {
	var w WireReport
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &w, nil
}

func toWireFinding(f Finding, withControl bool) WireFinding {
	wf := WireFinding{
		ID:          f.ID,
		Severity:    f.Severity,
		Title:       f.Title,
		Description: f.Description,
	}
	if withControl {
		wf.Control = f.Control
	}
	if f.File != "" {
		file := f.File
		wf.File = &file
	}
	if f.Line > 0 {
		line := f.Line
		wf.Line = &line
	}
	if f.Remediation != "" {
		rem := f.Remediation
		wf.Remediation = &rem
	}
	return wf
}
