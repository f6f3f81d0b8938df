package types

// ComplianceLevel is the MTF compliance level (0-4) achieved by a bundle.
type ComplianceLevel int

// ComplianceLevel constants.
const (
	LevelNone     ComplianceLevel = 0 // does not meet L1
	LevelBasic    ComplianceLevel = 1 // personal projects
	LevelStandard ComplianceLevel = 2 // team tools, published packages
	LevelVerified ComplianceLevel = 3 // production, enterprise
	LevelAttested ComplianceLevel = 4 // critical infrastructure
)

// Name returns the human-readable level name.
func (l ComplianceLevel) Name() string {
	switch l {
	case LevelNone:
		return "None"
	case LevelBasic:
		return "Basic"
	case LevelStandard:
		return "Standard"
	case LevelVerified:
		return "Verified"
	case LevelAttested:
		return "Attested"
	default:
		return "Unknown"
	}
}

// LevelTable maps control id -> level -> required.
type LevelTable map[string]map[ComplianceLevel]bool

// req builds a row from the L1..L4 requirement flags.
func req(l1, l2, l3, l4 bool) map[ComplianceLevel]bool {
	return map[ComplianceLevel]bool{
		LevelBasic:    l1,
		LevelStandard: l2,
		LevelVerified: l3,
		LevelAttested: l4,
	}
}

// ControlLevels is the requirement table for the MTF v0.1 control set.
var ControlLevels = LevelTable{
	// Artifact integrity
	"AI-01": req(true, true, true, true),
	"AI-02": req(false, false, false, false), // reserved, enforced at the registry
	"AI-03": req(false, false, true, true),
	"AI-04": req(false, false, false, true),
	"AI-05": req(false, true, true, true),
	// Supply chain
	"SC-01": req(true, true, true, true),
	"SC-02": req(false, true, true, true),
	"SC-03": req(false, true, true, true),
	"SC-04": req(false, true, true, true),
	"SC-05": req(false, false, true, true),
	// Code quality
	"CQ-01": req(true, true, true, true),
	"CQ-02": req(true, true, true, true),
	"CQ-03": req(false, true, true, true),
	"CQ-04": req(false, false, true, true),
	"CQ-05": req(false, false, true, true),
	"CQ-06": req(false, false, false, true),
	// Capability declaration
	"CD-01": req(true, true, true, true),
	"CD-02": req(false, true, true, true),
	"CD-03": req(false, true, true, true),
	"CD-04": req(false, false, true, true),
	"CD-05": req(false, false, true, true),
	// Provenance
	"PR-01": req(false, true, true, true),
	"PR-02": req(false, true, true, true),
	"PR-03": req(false, false, true, true),
	"PR-04": req(false, false, false, true),
	"PR-05": req(false, false, true, true),
}

// MinimumLevel returns the lowest level at which the control becomes
// required, or LevelNone when it is never required.
func (t LevelTable) MinimumLevel(controlID string) ComplianceLevel {
	row := t[controlID]
	for _, l := range []ComplianceLevel{LevelBasic, LevelStandard, LevelVerified, LevelAttested} {
		if row[l] {
			return l
		}
	}
	return LevelNone
}

// Evaluate returns the highest level whose required controls all passed.
//
// Each level is checked against its full requirement set, so a table that
// is not monotonic still yields a well-defined answer. A required control
// that is missing, skipped or errored blocks the level.
func (t LevelTable) Evaluate(results map[string]*ControlResult) ComplianceLevel {
	for _, level := range []ComplianceLevel{LevelAttested, LevelVerified, LevelStandard, LevelBasic} {
		achieved := true
		for id, row := range t {
			if !row[level] {
				continue
			}
			if !results[id].Passed() {
				achieved = false
				break
			}
		}
		if achieved {
			return level
		}
	}
	return LevelNone
}

// CalculateComplianceLevel evaluates results against ControlLevels.
func CalculateComplianceLevel(results map[string]*ControlResult) ComplianceLevel {
	return ControlLevels.Evaluate(results)
}
