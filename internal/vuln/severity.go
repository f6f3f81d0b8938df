package vuln

import (
	"fmt"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

// EPSSEscalationThreshold is the exploit probability above which a
// high-CVSS vulnerability blocks.
const EPSSEscalationThreshold = 0.10

// Assessment is the risk-adjusted severity of one vulnerability.
type Assessment struct {
	Severity types.Severity
	Blocking bool
	Reason   string
}

// Assess combines the advisory label, CVSS base score, EPSS probability and
// KEV membership. cvss and epss are nil when unknown. Precedence:
//
//	KEV                         -> critical, blocking
//	CVSS >= 9.0                 -> critical, blocking
//	CVSS >= 7.0, EPSS > 10%     -> high, blocking
//	CVSS >= 7.0, EPSS <= 10%    -> medium
//	CVSS >= 7.0, EPSS unknown   -> high, blocking
//	CVSS >= 4.0                 -> medium
//	CVSS <  4.0                 -> low
//	no CVSS                     -> advisory label; critical and high block
func Assess(label string, cvss, epss *float64, inKEV bool) Assessment {
	if inKEV {
		return Assessment{types.SeverityCritical, true, "KEV: actively exploited"}
	}

	if cvss != nil {
		score := *cvss
		switch {
		case score >= 9.0:
			return Assessment{types.SeverityCritical, true, fmt.Sprintf("CVSS %.1f", score)}
		case score >= 7.0:
			switch {
			case epss != nil && *epss > EPSSEscalationThreshold:
				return Assessment{types.SeverityHigh, true, fmt.Sprintf("CVSS %.1f + EPSS %s", score, percent(*epss))}
			case epss != nil:
				return Assessment{types.SeverityMedium, false,
					fmt.Sprintf("CVSS %.1f, EPSS %s (low exploit probability)", score, percent(*epss))}
			default:
				return Assessment{types.SeverityHigh, true, fmt.Sprintf("CVSS %.1f (no EPSS data)", score)}
			}
		case score >= 4.0:
			return Assessment{types.SeverityMedium, false, fmt.Sprintf("CVSS %.1f", score)}
		default:
			return Assessment{types.SeverityLow, false, fmt.Sprintf("CVSS %.1f", score)}
		}
	}

	switch label {
	case "critical":
		return Assessment{types.SeverityCritical, true, "Advisory: critical"}
	case "high":
		return Assessment{types.SeverityHigh, true, "Advisory: high"}
	case "medium", "moderate":
		return Assessment{types.SeverityMedium, false, "Advisory: " + label}
	case "low":
		return Assessment{types.SeverityLow, false, "Advisory: low"}
	default:
		return Assessment{types.SeverityInfo, false, ""}
	}
}

func percent(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}
