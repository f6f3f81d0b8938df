package vuln

import (
	"fmt"
	"strings"

	osvpb "github.com/ossf/osv-schema/bindings/go/osvschema"
	gocvss20 "github.com/pandatix/go-cvss/20"
	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// CVSSScore returns the base score (0.0 - 10.0) of a CVSS vector severity.
func CVSSScore(severity *osvpb.Severity) (float64, error) {
	if severity == nil || severity.GetScore() == "" {
		return 0, fmt.Errorf("empty severity")
	}

	score := severity.GetScore()
	switch severity.GetType() {
	case osvpb.Severity_CVSS_V2:
		vec, err := gocvss20.ParseVector(score)
		if err != nil {
			return 0, err
		}
		return vec.BaseScore(), nil
	case osvpb.Severity_CVSS_V3:
		switch {
		case strings.HasPrefix(score, "CVSS:3.0/"):
			vec, err := gocvss30.ParseVector(score)
			if err != nil {
				return 0, err
			}
			return vec.BaseScore(), nil
		case strings.HasPrefix(score, "CVSS:3.1/"):
			vec, err := gocvss31.ParseVector(score)
			if err != nil {
				return 0, err
			}
			return vec.BaseScore(), nil
		default:
			return 0, fmt.Errorf("unsupported CVSS_V3 version: %s", score)
		}
	case osvpb.Severity_CVSS_V4:
		vec, err := gocvss40.ParseVector(score)
		if err != nil {
			return 0, err
		}
		return vec.Score(), nil
	default:
		return 0, fmt.Errorf("unsupported severity type: %s", severity.GetType())
	}
}

// Preferred vector versions: 3.x first, matching what most advisories
// publish, then 4.0 and 2.0.
var scorePreference = []osvpb.Severity_Type{
	osvpb.Severity_CVSS_V3,
	osvpb.Severity_CVSS_V4,
	osvpb.Severity_CVSS_V2,
}

// BestScore picks the CVSS base score of a record, looking at the record's
// own severities first and then at per-package ones.
func BestScore(v *osvpb.Vulnerability) (float64, bool) {
	severities := append([]*osvpb.Severity(nil), v.GetSeverity()...)
	for _, a := range v.GetAffected() {
		severities = append(severities, a.GetSeverity()...)
	}

	for _, typ := range scorePreference {
		for _, s := range severities {
			if s.GetType() != typ {
				continue
			}
			if score, err := CVSSScore(s); err == nil {
				return score, true
			}
		}
	}
	return 0, false
}

// AdvisoryLabel returns the coarse severity an advisory database assigns,
// e.g. GHSA's database_specific.severity, lowercased.
func AdvisoryLabel(v *osvpb.Vulnerability) string {
	if label := v.GetDatabaseSpecific().GetFields()["severity"].GetStringValue(); label != "" {
		return strings.ToLower(label)
	}
	for _, a := range v.GetAffected() {
		if label := a.GetDatabaseSpecific().GetFields()["severity"].GetStringValue(); label != "" {
			return strings.ToLower(label)
		}
	}
	return ""
}

// CVEID returns the record id when it is a CVE, else the first CVE alias.
func CVEID(v *osvpb.Vulnerability) string {
	if strings.HasPrefix(v.GetId(), "CVE-") {
		return v.GetId()
	}
	for _, alias := range v.GetAliases() {
		if strings.HasPrefix(alias, "CVE-") {
			return alias
		}
	}
	return ""
}
