package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultSendTimeout bounds one provider call when no timeout is configured.
const DefaultSendTimeout = 15 * time.Second

// HTTPSender delivers messages through the provider's HTTP gateway.
type HTTPSender struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSender creates a sender for the given gateway base URL. A zero
// timeout falls back to DefaultSendTimeout.
func NewHTTPSender(baseURL string, timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &HTTPSender{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	InstanceID string `json:"instance_id"`
	To         string `json:"to"`
	Body       string `json:"body"`
}

type sendResponse struct {
	Sent      bool   `json:"sent"`
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

// Send posts one message to the gateway. Network errors and timeouts surface
// as errors; a 2xx response with sent=false is a provider-side refusal and
// comes back as an unsuccessful Result.
func (s *HTTPSender) Send(ctx context.Context, creds Credentials, destinationHandle, body string) (*Result, error) {
	if creds.APIToken == "" {
		return nil, fmt.Errorf("workspace %s has no provider token", creds.WorkspaceID)
	}

	payload, err := json.Marshal(sendRequest{
		InstanceID: creds.InstanceID,
		To:         destinationHandle,
		Body:       body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider call: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{
			Success: false,
			Reason:  fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(string(raw), 200)),
		}, nil
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !out.Sent {
		reason := out.Error
		if reason == "" {
			reason = "provider rejected message"
		}
		return &Result{Success: false, Reason: reason}, nil
	}
	return &Result{Success: true, ProviderMessageID: out.MessageID}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
