package store

// Required parameter keys per command type. RESET_TOKEN and RESTART_AGENT are
// tenant-scoped operations, so tenant_id travels in the parameter bag as well
// as in the command envelope.
const (
	ParamTenantID      = "tenant_id"
	ParamIntegrationID = "integration_id"
	ParamAgentID       = "agent_id"
	ParamQueueName     = "queue_name"
	ParamMessageCount  = "message_count"
)

// ValidateCommand checks the closed type enumeration and the type-specific
// required parameters before a command is accepted. Both Store
// implementations call this at the top of CreateCommand, so an invalid
// command never reaches the log.
func ValidateCommand(cmd *Command) error {
	if cmd.CommandID == "" {
		return ValidationErrorf("command_id is required")
	}
	if !ValidCommandType(cmd.CommandType) {
		return ValidationErrorf("invalid command_type %q", cmd.CommandType)
	}

	switch cmd.CommandType {
	case CommandHealthCheck:
		// No required parameters.
	case CommandResetToken:
		if err := requireParams(cmd, ParamTenantID, ParamIntegrationID); err != nil {
			return err
		}
	case CommandRestartAgent:
		if err := requireParams(cmd, ParamTenantID, ParamAgentID); err != nil {
			return err
		}
	case CommandReprocessQueue:
		if err := requireParams(cmd, ParamQueueName); err != nil {
			return err
		}
	}
	return nil
}

func requireParams(cmd *Command, keys ...string) error {
	for _, key := range keys {
		if cmd.Parameters[key] == "" {
			return ValidationErrorf("%s requires parameter %q", cmd.CommandType, key)
		}
	}
	return nil
}
