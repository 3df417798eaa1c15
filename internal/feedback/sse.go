package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseSink relays validation summaries to an external HTTP endpoint that
// fans them out over server-sent events. The relay carries a flattened
// summary, not the full report.
type sseSink struct {
	endpoint string
	client   *http.Client
}

func newSSESink(endpoint string) *sseSink {
	return &sseSink{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

// probe checks the endpoint is reachable. Any HTTP response counts as
// reachable; only transport errors fail the probe.
func (s *sseSink) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (s *sseSink) send(e Event) error {
	payload := map[string]any{
		"type":      "hook_validation",
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Report != nil {
		r := e.Report
		payload["report_id"] = r.ReportID
		payload["tool_type"] = string(r.ToolType)
		payload["result"] = r.Result.String()
		payload["security_score"] = r.SecurityScore
		payload["execution_ms"] = float64(r.ExecutionTime) / float64(time.Millisecond)
		payload["warning_count"] = len(r.Warnings)
		payload["error_count"] = len(r.Errors)
		if r.SessionID != "" {
			payload["session_id"] = r.SessionID
		}
	}
	if e.Data != nil {
		payload["data"] = e.Data
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := s.client.Post(s.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("SSE relay returned %s", resp.Status)
	}
	return nil
}
