// Package leads reports newly discovered clients to an external webhook.
// Delivery is best-effort and asynchronous: campaign dispatch never waits on
// or fails because of the webhook.
package leads

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httpretry"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// WebhookNotifier posts new-lead events to a configured URL.
type WebhookNotifier struct {
	url    string
	client httpretry.Doer
}

// NewWebhookNotifier creates a notifier. An empty URL disables delivery.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: httpretry.New(&http.Client{Timeout: timeout}, 2),
	}
}

type leadEvent struct {
	Event       string    `json:"event"`
	ClientID    string    `json:"client_id"`
	WorkspaceID string    `json:"workspace_id"`
	Address     string    `json:"address"`
	DisplayName string    `json:"display_name"`
	Channel     string    `json:"channel"`
	At          time.Time `json:"at"`
}

// NotifyNewLead posts one lead event in the background. The caller's context
// is not used so an aborted dispatch does not cancel the delivery.
func (n *WebhookNotifier) NotifyNewLead(_ context.Context, client *domain.Client) {
	if n.url == "" {
		return
	}

	event := leadEvent{
		Event:       "lead.created",
		ClientID:    client.ID,
		WorkspaceID: client.WorkspaceID,
		Address:     client.Address,
		DisplayName: client.DisplayName,
		Channel:     client.Channel,
		At:          time.Now().UTC(),
	}

	go func() {
		body, err := json.Marshal(event)
		if err != nil {
			logger.Error("marshal lead event", "error", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			logger.Error("build lead webhook request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			logger.Warn("lead webhook delivery failed",
				"client_id", client.ID, "address", client.Address, "error", err)
			return
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logger.Warn("lead webhook rejected event",
				"client_id", client.ID, "status", resp.StatusCode)
		}
	}()
}
