package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/worker"
)

// providerHandle derives the provider-side conversation handle for a
// normalized address.
func providerHandle(address string) string {
	return strings.TrimPrefix(address, "+") + "@c.us"
}

// ResolveClient finds or creates the client for a normalized address and the
// conversation for (workspace, client, channel). ON CONFLICT DO NOTHING plus
// a re-select makes concurrent resolutions of the same identity converge on
// one row.
func (s *Store) ResolveClient(ctx context.Context, workspaceID, channel, address, displayName string) (*worker.Resolution, error) {
	res := &worker.Resolution{}

	client, err := s.getClientByAddress(ctx, workspaceID, channel, address)
	if errors.Is(err, worker.ErrNotFound) {
		client, err = s.insertClient(ctx, workspaceID, channel, address, displayName)
		if err != nil {
			return nil, err
		}
		if client != nil {
			res.NewClient = true
		} else {
			// Lost the insert race; the row exists now.
			client, err = s.getClientByAddress(ctx, workspaceID, channel, address)
			if err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}
	res.Client = client

	conv, err := s.getConversationByClient(ctx, workspaceID, client.ID, channel)
	if errors.Is(err, worker.ErrNotFound) {
		conv, err = s.insertConversation(ctx, workspaceID, client.ID, channel, providerHandle(address))
		if err != nil {
			return nil, err
		}
		if conv != nil {
			res.NewConversation = true
		} else {
			conv, err = s.getConversationByClient(ctx, workspaceID, client.ID, channel)
			if err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}
	res.Conversation = conv

	return res, nil
}

func (s *Store) getClientByAddress(ctx context.Context, workspaceID, channel, address string) (*domain.Client, error) {
	var c domain.Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, address, display_name, channel, created_at, updated_at
		FROM clients
		WHERE workspace_id = $1 AND address = $2 AND channel = $3`,
		workspaceID, address, channel).
		Scan(&c.ID, &c.WorkspaceID, &c.Address, &c.DisplayName, &c.Channel, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, worker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client by address: %w", err)
	}
	return &c, nil
}

// insertClient returns nil, nil when the unique constraint swallowed the
// insert.
func (s *Store) insertClient(ctx context.Context, workspaceID, channel, address, displayName string) (*domain.Client, error) {
	c := domain.Client{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Address:     address,
		DisplayName: displayName,
		Channel:     channel,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO clients (id, workspace_id, address, display_name, channel)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, address, channel) DO NOTHING
		RETURNING created_at, updated_at`,
		c.ID, c.WorkspaceID, c.Address, c.DisplayName, c.Channel).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert client: %w", err)
	}
	return &c, nil
}

// GetClient fetches one client by ID.
func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, address, display_name, channel, created_at, updated_at
		FROM clients
		WHERE id = $1`, id).
		Scan(&c.ID, &c.WorkspaceID, &c.Address, &c.DisplayName, &c.Channel, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, worker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &c, nil
}

func (s *Store) getConversationByClient(ctx context.Context, workspaceID, clientID, channel string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, client_id, channel, provider_handle, status, last_message_at, created_at, updated_at
		FROM conversations
		WHERE workspace_id = $1 AND client_id = $2 AND channel = $3`,
		workspaceID, clientID, channel)
	return scanConversation(row)
}

// insertConversation returns nil, nil when the unique constraint swallowed
// the insert.
func (s *Store) insertConversation(ctx context.Context, workspaceID, clientID, channel, handle string) (*domain.Conversation, error) {
	c := domain.Conversation{
		ID:             uuid.NewString(),
		WorkspaceID:    workspaceID,
		ClientID:       clientID,
		Channel:        channel,
		ProviderHandle: handle,
		Status:         domain.ConversationActive,
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, workspace_id, client_id, channel, provider_handle, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workspace_id, client_id, channel) DO NOTHING
		RETURNING created_at, updated_at`,
		c.ID, c.WorkspaceID, c.ClientID, c.Channel, c.ProviderHandle, c.Status).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return &c, nil
}

// GetConversation fetches one conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, client_id, channel, provider_handle, status, last_message_at, created_at, updated_at
		FROM conversations
		WHERE id = $1`, id)
	return scanConversation(row)
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.ClientID, &c.Channel, &c.ProviderHandle, &c.Status, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, worker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

// TouchConversation bumps the last-message timestamp.
func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_at = $2, updated_at = NOW()
		WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
