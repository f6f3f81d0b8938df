package types

import "sort"

// Scanner identity stamped on every report.
const (
	ReportSchemaVersion = "1.0.0"
	ScannerName         = "mpak-scanner"
	SBOMFormatCycloneDX = "cyclonedx"
)

// SecurityReport is the aggregate result of one scan.
//
// ComplianceLevel and RiskScore are computed from Domains on every call and
// never cached, so they always reflect the current results.
type SecurityReport struct {
	BundleName         string
	BundleVersion      string
	BundleHash         string
	ScanTimestamp      string
	ScannerVersion     string
	DurationMS         int64
	Domains            map[string]*DomainResult
	SBOMComponentCount int
	SBOMFormat         string
}

// NewSecurityReport returns a report with one empty bucket per known domain.
func NewSecurityReport(name, version, hash string) *SecurityReport {
	r := &SecurityReport{
		BundleName:    name,
		BundleVersion: version,
		BundleHash:    hash,
		Domains:       make(map[string]*DomainResult, len(Domains)),
		SBOMFormat:    SBOMFormatCycloneDX,
	}
	for _, d := range Domains {
		r.Domains[d] = NewDomainResult(d)
	}
	return r
}

// AddResult files a control result under domain, creating the bucket if the
// domain is not one of the known domains.
func (r *SecurityReport) AddResult(domain string, result *ControlResult) {
	bucket, ok := r.Domains[domain]
	if !ok {
		bucket = NewDomainResult(domain)
		r.Domains[domain] = bucket
	}
	bucket.Controls[result.ControlID] = result
}

// DomainNames returns the domain keys in report order: known domains first,
// then any extra domains sorted by name.
func (r *SecurityReport) DomainNames() []string {
	names := make([]string, 0, len(r.Domains))
	known := make(map[string]bool, len(Domains))
	for _, d := range Domains {
		known[d] = true
		if _, ok := r.Domains[d]; ok {
			names = append(names, d)
		}
	}
	var extra []string
	for d := range r.Domains {
		if !known[d] {
			extra = append(extra, d)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// AllControls flattens every control result across domains.
func (r *SecurityReport) AllControls() map[string]*ControlResult {
	controls := make(map[string]*ControlResult)
	for _, d := range r.Domains {
		for id, c := range d.Controls {
			controls[id] = c
		}
	}
	return controls
}

// AllFindings returns every finding in domain then control-id order.
func (r *SecurityReport) AllFindings() []Finding {
	var findings []Finding
	for _, name := range r.DomainNames() {
		d := r.Domains[name]
		for _, id := range sortedControlIDs(d) {
			findings = append(findings, d.Controls[id].Findings...)
		}
	}
	return findings
}

// ComplianceLevel computes the level from the current results.
func (r *SecurityReport) ComplianceLevel() ComplianceLevel {
	return CalculateComplianceLevel(r.AllControls())
}

// RiskScore computes the risk tier from the current findings.
func (r *SecurityReport) RiskScore() RiskScore {
	return CalculateRiskScore(r.AllFindings())
}

// ControlsPassed counts controls with status PASS.
func (r *SecurityReport) ControlsPassed() int {
	return r.countStatus(func(s ControlStatus) bool { return s == StatusPass })
}

// ControlsFailed counts controls with status FAIL.
func (r *SecurityReport) ControlsFailed() int {
	return r.countStatus(func(s ControlStatus) bool { return s == StatusFail })
}

// ControlsTotal counts every control that was not skipped.
func (r *SecurityReport) ControlsTotal() int {
	return r.countStatus(func(s ControlStatus) bool { return s != StatusSkip })
}

func (r *SecurityReport) countStatus(match func(ControlStatus) bool) int {
	n := 0
	for _, c := range r.AllControls() {
		if match(c.Status) {
			n++
		}
	}
	return n
}

func sortedControlIDs(d *DomainResult) []string {
	ids := make([]string, 0, len(d.Controls))
	for id := range d.Controls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
