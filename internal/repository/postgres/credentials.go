package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/outreach-engine/internal/sender"
	"github.com/ignite/outreach-engine/internal/worker"
)

// GetCredentials returns a workspace's provider credentials. Implements
// sender.CredentialStore.
func (s *Store) GetCredentials(ctx context.Context, workspaceID string) (*sender.Credentials, error) {
	var c sender.Credentials
	err := s.db.QueryRowContext(ctx, `
		SELECT workspace_id, instance_id, api_token
		FROM workspace_credentials
		WHERE workspace_id = $1`, workspaceID).
		Scan(&c.WorkspaceID, &c.InstanceID, &c.APIToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, worker.ErrNoCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("get credentials: %w", err)
	}
	return &c, nil
}

// UpsertCredentials stores or replaces a workspace's provider credentials.
func (s *Store) UpsertCredentials(ctx context.Context, c *sender.Credentials) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_credentials (workspace_id, instance_id, api_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id) DO UPDATE
		SET instance_id = EXCLUDED.instance_id, api_token = EXCLUDED.api_token, updated_at = NOW()`,
		c.WorkspaceID, c.InstanceID, c.APIToken)
	if err != nil {
		return fmt.Errorf("upsert credentials: %w", err)
	}
	return nil
}
