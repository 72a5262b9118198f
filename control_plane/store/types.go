package store

import (
	"time"
)

// CommandType identifies which operational handler a command is routed to.
type CommandType string

const (
	CommandHealthCheck    CommandType = "HEALTH_CHECK"
	CommandResetToken     CommandType = "RESET_TOKEN"
	CommandRestartAgent   CommandType = "RESTART_AGENT"
	CommandReprocessQueue CommandType = "REPROCESS_QUEUE"
)

// CommandTypes is the closed set of accepted command types.
var CommandTypes = []CommandType{
	CommandHealthCheck,
	CommandResetToken,
	CommandRestartAgent,
	CommandReprocessQueue,
}

// ValidCommandType reports whether t is in the closed enumeration.
func ValidCommandType(t CommandType) bool {
	for _, known := range CommandTypes {
		if t == known {
			return true
		}
	}
	return false
}

// CommandStatus is the lifecycle state of a command.
// Transitions are strictly forward: PENDING -> RUNNING -> {SUCCESS, ERROR}.
type CommandStatus string

const (
	StatusPending CommandStatus = "PENDING"
	StatusRunning CommandStatus = "RUNNING"
	StatusSuccess CommandStatus = "SUCCESS"
	StatusError   CommandStatus = "ERROR"
)

// Terminal reports whether s admits no further transitions.
func (s CommandStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Command is a unit of administrative work submitted by an internal operator.
type Command struct {
	CommandID    string            `json:"command_id" db:"command_id"`
	CommandType  CommandType       `json:"command_type" db:"command_type"`
	Status       CommandStatus     `json:"status" db:"status"`
	TenantID     string            `json:"tenant_id,omitempty" db:"tenant_id"` // empty for global commands
	Parameters   map[string]string `json:"parameters" db:"parameters"`         // JSONB in Postgres
	CreatedBy    string            `json:"created_by" db:"created_by"`
	TraceID      string            `json:"trace_id" db:"trace_id"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	StartedAt    *time.Time        `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	Output       string            `json:"output,omitempty" db:"output"`               // set only at SUCCESS
	ErrorMessage string            `json:"error_message,omitempty" db:"error_message"` // set only at ERROR
	ExpiresAt    time.Time         `json:"expires_at" db:"expires_at"`                 // retention enforced externally
}

// CommandFilter narrows ListCommands. Zero values mean "no filter".
type CommandFilter struct {
	Status      CommandStatus
	CommandType CommandType
	TenantID    string
	Limit       int
	Offset      int
}

// AuditResult classifies the outcome recorded in an audit entry.
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditFailure AuditResult = "failure"
	AuditPartial AuditResult = "partial"
)

// AuditLogEntry is an immutable fact: who did what, with what result.
// Entries sharing a TraceID belong to one logical operation.
type AuditLogEntry struct {
	AuditLogID   string            `json:"audit_log_id" db:"id"`
	TraceID      string            `json:"trace_id" db:"trace_id"`
	TenantID     string            `json:"tenant_id,omitempty" db:"tenant_id"`
	UserID       string            `json:"user_id,omitempty" db:"user_id"`
	AgentID      string            `json:"agent_id,omitempty" db:"agent_id"`
	ActionType   string            `json:"action_type" db:"action_type"` // e.g. "command.executed:HEALTH_CHECK"
	Result       AuditResult       `json:"result" db:"result"`
	Context      map[string]string `json:"context,omitempty" db:"context"` // JSONB in Postgres
	ErrorMessage string            `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// AuditFilter narrows QueryAuditLogs. TenantID is always required.
type AuditFilter struct {
	TenantID   string
	TraceID    string
	UserID     string
	AgentID    string
	ActionType string
	Result     AuditResult
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Integration is a tenant's connection to an external system,
// the target of RESET_TOKEN.
type Integration struct {
	IntegrationID   string    `json:"integration_id" db:"id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	IntegrationName string    `json:"integration_name" db:"integration_name"`
	Status          string    `json:"status" db:"status"` // "connected", "pending", "error"
	LastError       string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// AgentActivation links a marketplace agent to a tenant,
// the target of RESTART_AGENT and the activation endpoints.
type AgentActivation struct {
	ActivationID string     `json:"activation_id" db:"id"`
	AgentID      string     `json:"agent_id" db:"agent_id"`
	TenantID     string     `json:"tenant_id" db:"tenant_id"`
	Status       string     `json:"status" db:"status"` // "active", "inactive"
	ActivatedAt  *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// MaxPageSize caps list/query responses.
const MaxPageSize = 1000

// CommandRetention is how long command records are kept before external cleanup.
const CommandRetention = 90 * 24 * time.Hour
