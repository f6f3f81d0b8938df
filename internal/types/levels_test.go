package types

import "testing"

// ============================================================================
// Helpers
// ============================================================================

// resultsFor builds PASS results for every control required at level.
func resultsFor(level ComplianceLevel) map[string]*ControlResult {
	results := make(map[string]*ControlResult)
	for id, row := range ControlLevels {
		if row[level] {
			results[id] = &ControlResult{ControlID: id, Status: StatusPass}
		}
	}
	return results
}

// ============================================================================
// Compliance Ladder Tests
// ============================================================================

func TestCalculateComplianceLevel_Ladder(t *testing.T) {
	tests := []struct {
		name  string
		level ComplianceLevel
	}{
		{"all L1 controls pass", LevelBasic},
		{"all L2 controls pass", LevelStandard},
		{"all L3 controls pass", LevelVerified},
		{"all L4 controls pass", LevelAttested},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateComplianceLevel(resultsFor(tt.level))
			if got != tt.level {
				t.Errorf("CalculateComplianceLevel() = %d, want %d", got, tt.level)
			}
		})
	}
}

func TestCalculateComplianceLevel_EmptyResults(t *testing.T) {
	if got := CalculateComplianceLevel(map[string]*ControlResult{}); got != LevelNone {
		t.Errorf("empty results = %d, want LevelNone", got)
	}
}

func TestCalculateComplianceLevel_Idempotent(t *testing.T) {
	results := resultsFor(LevelAttested)
	first := CalculateComplianceLevel(results)
	second := CalculateComplianceLevel(results)
	if first != second || first != LevelAttested {
		t.Errorf("got %d then %d, want %d twice", first, second, LevelAttested)
	}
}

func TestCalculateComplianceLevel_NonPassBlocksLevel(t *testing.T) {
	tests := []struct {
		name   string
		status ControlStatus
	}{
		{"skip blocks", StatusSkip},
		{"error blocks", StatusError},
		{"fail blocks", StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := resultsFor(LevelAttested)
			results["AI-01"].Status = tt.status

			if got := CalculateComplianceLevel(results); got != LevelNone {
				t.Errorf("AI-01 %s: level = %d, want LevelNone", tt.status, got)
			}
		})
	}
}

func TestCalculateComplianceLevel_MissingL3ControlCapsAtL2(t *testing.T) {
	results := resultsFor(LevelAttested)
	delete(results, "AI-03")

	if got := CalculateComplianceLevel(results); got != LevelStandard {
		t.Errorf("level = %d, want LevelStandard", got)
	}
}

func TestLevelTable_EvaluateNonMonotonic(t *testing.T) {
	// L2 requires X only, L1 requires Y only: a misconfigured table is still
	// evaluated level by level.
	table := LevelTable{
		"X": {LevelStandard: true},
		"Y": {LevelBasic: true},
	}
	results := map[string]*ControlResult{
		"X": {ControlID: "X", Status: StatusPass},
		"Y": {ControlID: "Y", Status: StatusFail},
	}

	// L3 and L4 have no requirements, so they are achieved trivially.
	if got := table.Evaluate(results); got != LevelAttested {
		t.Errorf("Evaluate() = %d, want LevelAttested", got)
	}

	table["X"][LevelAttested] = true
	table["X"][LevelVerified] = true
	table["Y"][LevelAttested] = true
	table["Y"][LevelVerified] = true
	if got := table.Evaluate(results); got != LevelStandard {
		t.Errorf("Evaluate() = %d, want LevelStandard", got)
	}
}

func TestLevelTable_MinimumLevel(t *testing.T) {
	tests := []struct {
		id   string
		want ComplianceLevel
	}{
		{"AI-01", LevelBasic},
		{"AI-05", LevelStandard},
		{"AI-03", LevelVerified},
		{"AI-04", LevelAttested},
		{"AI-02", LevelNone},
		{"XX-99", LevelNone},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := ControlLevels.MinimumLevel(tt.id); got != tt.want {
				t.Errorf("MinimumLevel(%s) = %d, want %d", tt.id, got, tt.want)
			}
		})
	}
}

func TestComplianceLevel_Name(t *testing.T) {
	names := map[ComplianceLevel]string{
		LevelNone:     "None",
		LevelBasic:    "Basic",
		LevelStandard: "Standard",
		LevelVerified: "Verified",
		LevelAttested: "Attested",
		7:             "Unknown",
	}
	for level, want := range names {
		if got := level.Name(); got != want {
			t.Errorf("ComplianceLevel(%d).Name() = %q, want %q", level, got, want)
		}
	}
}

func TestDomainResult_Passed(t *testing.T) {
	d := NewDomainResult(DomainProvenance)
	d.Controls["PR-01"] = &ControlResult{ControlID: "PR-01", Status: StatusPass}
	d.Controls["PR-03"] = &ControlResult{ControlID: "PR-03", Status: StatusSkip}

	if !d.Passed() {
		t.Error("domain with PASS + SKIP should pass")
	}

	d.Controls["PR-02"] = &ControlResult{ControlID: "PR-02", Status: StatusError}
	if d.Passed() {
		t.Error("domain with an ERROR control should not pass")
	}
}
