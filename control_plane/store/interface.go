package store

import (
	"context"
	"time"
)

// Store defines the durable storage backend for the command subsystem.
// It abstracts over Postgres (production) and an in-memory implementation
// (tests, single-node development).
//
// Status columns of a command are mutated only through MarkCommandRunning and
// MarkCommandTerminal; no other method writes status, started_at,
// completed_at, output or error_message.
type Store interface {
	// Command Operations
	CreateCommand(ctx context.Context, cmd *Command) error
	GetCommand(ctx context.Context, commandID string) (*Command, error)
	ListCommands(ctx context.Context, filter CommandFilter) ([]*Command, int, error)

	// MarkCommandRunning moves PENDING -> RUNNING with a conditional write.
	// It returns false (and no error) when the command was not in PENDING,
	// which is how redelivered change-feed events are absorbed.
	MarkCommandRunning(ctx context.Context, commandID string, at time.Time) (bool, error)

	// MarkCommandTerminal moves RUNNING -> SUCCESS|ERROR with a conditional
	// write. Returns false when the command was not RUNNING.
	MarkCommandTerminal(ctx context.Context, commandID string, status CommandStatus, output, errorMessage string, at time.Time) (bool, error)

	// Audit Operations. Entries are append-only: no update or delete exists.
	AppendAuditLog(ctx context.Context, entry *AuditLogEntry) (string, error)
	QueryAuditLogs(ctx context.Context, filter AuditFilter) ([]*AuditLogEntry, int, error)

	// Integration Operations (RESET_TOKEN target)
	UpsertIntegration(ctx context.Context, integ *Integration) error
	GetIntegration(ctx context.Context, tenantID, integrationID string) (*Integration, error)
	ListIntegrations(ctx context.Context, tenantID string) ([]*Integration, error)

	// ResetIntegrationToken flips the integration to "pending" and clears the
	// stored error, forcing a reconnection. ErrNotFound when no row matches.
	ResetIntegrationToken(ctx context.Context, tenantID, integrationID string, at time.Time) error

	// Agent Activation Operations (RESTART_AGENT and activation endpoints)
	UpsertAgentActivation(ctx context.Context, act *AgentActivation) error
	GetAgentActivation(ctx context.Context, tenantID, agentID string) (*AgentActivation, error)

	// ReactivateAgent sets the tenant-agent association back to "active".
	// ErrNotFound when the association does not exist.
	ReactivateAgent(ctx context.Context, tenantID, agentID string, at time.Time) error

	// DeactivateAgent sets the association to "inactive".
	// ErrNotFound when the association does not exist.
	DeactivateAgent(ctx context.Context, tenantID, agentID string, at time.Time) error
}
