package tui

import (
	"bytes"
	"io"
	"os"

	"github.com/mpaktrust/mpak-scanner/internal/types"
)

func captureStdout(fn func()) string {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	fn()
	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

func sampleReport() *types.SecurityReport {
	r := types.NewSecurityReport("@acme/weather", "1.2.0", "abc123")
	r.ScanTimestamp = "2026-01-02T03:04:05Z"
	r.DurationMS = 842
	r.SBOMComponentCount = 12
	r.AddResult(types.DomainArtifactIntegrity, &types.ControlResult{
		ControlID: "AI-01", ControlName: "Manifest Validation", Status: types.StatusPass,
		Findings: []types.Finding{},
	})
	r.AddResult(types.DomainArtifactIntegrity, &types.ControlResult{
		ControlID: "AI-03", ControlName: "Bundle Signing", Status: types.StatusSkip,
		Findings: []types.Finding{},
	})
	secrets := make([]types.Finding, 0, 7)
	for i := 1; i <= 7; i++ {
		secrets = append(secrets, types.Finding{
			ID: "CQ-01-000" + string(rune('0'+i)), Control: "CQ-01",
			Severity: types.SeverityHigh, Title: "Potential secret: aws-access-key",
			File: "src/config.py", Line: i,
		})
	}
	r.AddResult(types.DomainCodeQuality, &types.ControlResult{
		ControlID: "CQ-01", ControlName: "No Embedded Secrets", Status: types.StatusFail,
		Findings: secrets,
	})
	r.AddResult(types.DomainCodeQuality, &types.ControlResult{
		ControlID: "CQ-02", ControlName: "No Malicious Patterns", Status: types.StatusFail,
		Findings: []types.Finding{{
			ID: "CQ-02-0001", Control: "CQ-02", Severity: types.SeverityCritical,
			Title: "Malicious pattern: cmd-overwrite",
		}},
	})
	return r
}
