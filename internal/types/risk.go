package types

// Control ids the risk tiers single out.
const (
	ControlToolDescriptionSafety = "CD-03"
	ControlMaliciousPatterns     = "CQ-02"
	ControlEmbeddedSecrets       = "CQ-01"
	ControlBehavioralAnalysis    = "CQ-06"
	ControlVulnerabilityScan     = "SC-02"
	ControlRuntimeMismatch       = "CQ-07"
	ControlCredentialScope       = "CD-04"
	ControlTokenLifetime         = "CD-05"
	ControlSBOMGeneration        = "SC-01"
)

// Finding metadata keys read by the risk tiers.
const (
	MetaVerified = "verified"
	MetaInKEV    = "in_kev"
	MetaBlocking = "blocking"
)

// CalculateRiskScore reduces findings to a single risk tier.
//
// Tiers are checked from CRITICAL down and the first tier with a matching
// finding wins, so the result does not depend on finding order. A HIGH
// finding in dependency code only counts when a specific rule names it
// (verified secret, KEV match, blocking vulnerability). CRITICAL findings
// from controls without a dedicated rule rank with server-code HIGH.
func CalculateRiskScore(findings []Finding) RiskScore {
	for _, f := range findings {
		if isCriticalTier(f) {
			return RiskCritical
		}
	}

	for _, f := range findings {
		if isHighTier(f) {
			return RiskHigh
		}
	}

	for _, f := range findings {
		if f.Severity == SeverityMedium {
			return RiskMedium
		}
	}

	// LOW and INFO collapse into one tier, as do dependency findings that
	// no rule above picked up.
	if len(findings) > 0 {
		return RiskLow
	}
	return RiskNone
}

func isCriticalTier(f Finding) bool {
	criticalOrHigh := f.Severity == SeverityCritical || f.Severity == SeverityHigh

	switch f.Control {
	case ControlToolDescriptionSafety, ControlBehavioralAnalysis, ControlRuntimeMismatch:
		return criticalOrHigh
	case ControlMaliciousPatterns:
		return f.Severity == SeverityCritical
	case ControlEmbeddedSecrets:
		return f.MetaBool(MetaVerified)
	case ControlVulnerabilityScan:
		return f.Severity == SeverityCritical || f.MetaBool(MetaInKEV)
	}
	return false
}

func isHighTier(f Finding) bool {
	if !f.Severity.AtLeast(SeverityHigh) {
		return false
	}
	if !f.InDeps {
		return true
	}
	if f.Severity != SeverityHigh {
		return false
	}
	switch f.Control {
	case ControlVulnerabilityScan:
		return f.MetaBool(MetaBlocking)
	case ControlCredentialScope, ControlTokenLifetime:
		return true
	}
	return false
}
