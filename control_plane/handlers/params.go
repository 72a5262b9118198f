package handlers

import (
	"strconv"

	"github.com/opsforge/opsforge/control_plane/store"
)

// Typed parameter structs, parsed out of the command's open key/value bag
// immediately before execution. store.ValidateCommand already enforced
// presence at submission time; parsing here also catches malformed values
// that slipped through (a non-numeric message_count, for example).

// ResetTokenParams targets one tenant integration.
type ResetTokenParams struct {
	TenantID      string
	IntegrationID string
}

// ParseResetToken extracts RESET_TOKEN parameters.
func ParseResetToken(cmd *store.Command) (ResetTokenParams, error) {
	p := ResetTokenParams{
		TenantID:      cmd.Parameters[store.ParamTenantID],
		IntegrationID: cmd.Parameters[store.ParamIntegrationID],
	}
	if p.TenantID == "" || p.IntegrationID == "" {
		return p, store.ValidationErrorf("tenant_id and integration_id are required")
	}
	return p, nil
}

// RestartAgentParams targets one tenant-agent association.
type RestartAgentParams struct {
	TenantID string
	AgentID  string
}

// ParseRestartAgent extracts RESTART_AGENT parameters.
func ParseRestartAgent(cmd *store.Command) (RestartAgentParams, error) {
	p := RestartAgentParams{
		TenantID: cmd.Parameters[store.ParamTenantID],
		AgentID:  cmd.Parameters[store.ParamAgentID],
	}
	if p.TenantID == "" || p.AgentID == "" {
		return p, store.ValidationErrorf("tenant_id and agent_id are required")
	}
	return p, nil
}

// ReprocessQueueParams names a queue and caps how many messages to requeue.
type ReprocessQueueParams struct {
	QueueName    string
	MessageCount int
}

// DefaultMessageCount is used when message_count is not supplied.
const DefaultMessageCount = 10

// ParseReprocessQueue extracts REPROCESS_QUEUE parameters.
func ParseReprocessQueue(cmd *store.Command) (ReprocessQueueParams, error) {
	p := ReprocessQueueParams{
		QueueName:    cmd.Parameters[store.ParamQueueName],
		MessageCount: DefaultMessageCount,
	}
	if p.QueueName == "" {
		return p, store.ValidationErrorf("queue_name is required")
	}
	if raw := cmd.Parameters[store.ParamMessageCount]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return p, store.ValidationErrorf("message_count must be a positive integer, got %q", raw)
		}
		p.MessageCount = n
	}
	return p, nil
}
