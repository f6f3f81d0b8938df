package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mpaktrust/mpak-scanner/internal/types"
	"github.com/mpaktrust/mpak-scanner/internal/version"
)

// SecretHeader carries the shared callback secret.
const SecretHeader = "X-Callback-Secret"

const defaultCallbackTimeout = 30 * time.Second

// Callback statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CompletedPayload is posted after the report was uploaded.
type CompletedPayload struct {
	ScanID      string           `json:"scan_id"`
	Status      string           `json:"status"`
	RiskScore   types.RiskScore  `json:"risk_score"`
	Report      types.WireReport `json:"report"`
	ReportS3URI string           `json:"report_s3_uri"`
}

// FailedPayload is posted when any step of the job fails.
type FailedPayload struct {
	ScanID string `json:"scan_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Notifier posts JSON payloads to the callback URL.
type Notifier struct {
	url    string
	secret string
	client *http.Client
}

// NewNotifier returns a Notifier for url. A nil client gets a 30s timeout.
func NewNotifier(url, secret string, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: defaultCallbackTimeout}
	}
	return &Notifier{url: url, secret: secret, client: client}
}

// Send posts payload and returns the response status code. Any non-2xx
// status is an error.
func (n *Notifier) Send(ctx context.Context, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(SecretHeader, n.secret)

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("callback returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}
