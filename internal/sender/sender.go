// Package sender defines the Message Sender contract and the HTTP adapter
// that delivers messages through the chat provider's gateway API.
package sender

import "context"

// Credentials identifies a workspace's sending identity at the provider.
type Credentials struct {
	WorkspaceID string
	InstanceID  string // provider-side sender instance
	APIToken    string
}

// Result is the provider's answer for one delivery attempt.
type Result struct {
	Success           bool
	ProviderMessageID string
	Reason            string
}

// Sender delivers one message to a provider-side conversation handle. The
// provider is slow, rate-limited, and fallible; implementations must bound
// every call with a timeout, and a timeout is reported the same way as an
// explicit failure.
type Sender interface {
	Send(ctx context.Context, creds Credentials, destinationHandle, body string) (*Result, error)
}

// CredentialStore looks up a workspace's sending credentials.
type CredentialStore interface {
	GetCredentials(ctx context.Context, workspaceID string) (*Credentials, error)
}
