package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/opsforge/control_plane/feed"
	"github.com/opsforge/opsforge/control_plane/observability"
	"github.com/opsforge/opsforge/control_plane/permission"
	"github.com/opsforge/opsforge/control_plane/store"
)

// TraceIDHeader propagates an upstream correlation id into the command record.
const TraceIDHeader = "X-Trace-ID"

type submitCommandRequest struct {
	CommandType string            `json:"command_type"`
	Parameters  map[string]string `json:"parameters"`
}

type submitCommandResponse struct {
	*store.Command
	Message string `json:"message"`
}

// submissionGateTarget maps a command type to the capability its submission
// requires. RESTART_AGENT needs MANAGE on the target agent, the same check
// the activation endpoints run, so a submitter cannot restart an agent they
// could not activate. RESET_TOKEN rewrites integration credentials (MANAGE
// on the data resource) and REPROCESS_QUEUE mutates tenant infrastructure
// (MANAGE on the tenant). HEALTH_CHECK is plain tenant-scoped execution.
func submissionGateTarget(cmd *store.Command) (permission.ResourceType, string, permission.Action) {
	switch cmd.CommandType {
	case store.CommandRestartAgent:
		return permission.ResourceAgent, cmd.Parameters[store.ParamAgentID], permission.ActionManage
	case store.CommandResetToken:
		return permission.ResourceData, cmd.Parameters[store.ParamIntegrationID], permission.ActionManage
	case store.CommandReprocessQueue:
		return permission.ResourceTenant, cmd.TenantID, permission.ActionManage
	default:
		return permission.ResourceTenant, cmd.TenantID, permission.ActionExecute
	}
}

func (a *API) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Storm Protection
	if !a.submitLimiter.Allow() {
		observability.CommandsRejected.WithLabelValues("rate_limited").Inc()
		a.writeRateLimitError(w, "submit_command")
		return
	}

	caller, err := callerFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req submitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		observability.CommandsRejected.WithLabelValues("bad_request").Inc()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	traceID := r.Header.Get(TraceIDHeader)
	if traceID == "" {
		traceID = uuid.NewString()
	}

	now := time.Now()
	cmd := &store.Command{
		CommandID:   uuid.NewString(),
		CommandType: store.CommandType(req.CommandType),
		Status:      store.StatusPending,
		TenantID:    caller.TenantID,
		Parameters:  req.Parameters,
		CreatedBy:   caller.UserID,
		TraceID:     traceID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(store.CommandRetention),
	}

	// Validate before the gate so the gate target can trust the parameters
	// (RESTART_AGENT without agent_id is a 400, not a denial).
	if err := store.ValidateCommand(cmd); err != nil {
		observability.CommandsRejected.WithLabelValues("validation").Inc()
		writeStoreError(w, err)
		return
	}

	resourceType, resourceID, action := submissionGateTarget(cmd)
	verdict, err := a.checkPermission(r, caller, resourceType, resourceID, action,
		map[string]string{"resource": "commands", "command_type": req.CommandType})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !verdict.Allowed {
		observability.CommandsRejected.WithLabelValues("permission_denied").Inc()
		http.Error(w, verdict.Reason, http.StatusForbidden)
		return
	}

	if err := a.store.CreateCommand(r.Context(), cmd); err != nil {
		observability.CommandsRejected.WithLabelValues("validation").Inc()
		writeStoreError(w, err)
		return
	}

	// Emit the insert event that wakes the dispatcher. A failed publish
	// leaves the command PENDING for the reconciler sweep to re-emit.
	if err := a.feed.Publish(r.Context(), feed.Event{
		EventID:   uuid.NewString(),
		Kind:      feed.KindInsert,
		Command:   cmd,
		Timestamp: now,
		Source:    "api",
	}); err != nil {
		log.Printf("Failed to publish insert event for command %s: %v", cmd.CommandID, err)
	}

	observability.CommandsSubmitted.WithLabelValues(string(cmd.CommandType)).Inc()

	a.audits.Record(r.Context(), &store.AuditLogEntry{
		TraceID:    traceID,
		TenantID:   caller.TenantID,
		UserID:     caller.UserID,
		ActionType: "command.submitted:" + string(cmd.CommandType),
		Result:     store.AuditSuccess,
		Context: map[string]string{
			"command_id": cmd.CommandID,
		},
		CreatedAt: now,
	})

	writeJSON(w, http.StatusAccepted, submitCommandResponse{
		Command: cmd,
		Message: "Command accepted for execution",
	})
}

func (a *API) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract CommandID from path /internal/commands/{command_id}
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) < 3 || pathParts[2] == "" {
		http.Error(w, "Invalid command ID", http.StatusBadRequest)
		return
	}
	commandID := pathParts[2]

	caller, err := callerFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	cmd, err := a.store.GetCommand(r.Context(), commandID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Cross-tenant reads 404 rather than 403 to avoid leaking existence.
	if cmd.TenantID != caller.TenantID && caller.Role != "admin" {
		http.Error(w, "Command not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, cmd)
}

func (a *API) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !a.queryLimiter.Allow() {
		a.writeRateLimitError(w, "list_commands")
		return
	}

	caller, err := callerFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := store.CommandFilter{
		TenantID:    caller.TenantID,
		Status:      store.CommandStatus(q.Get("status")),
		CommandType: store.CommandType(q.Get("command_type")),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	commands, total, err := a.store.ListCommands(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	// Echo the effective page so clients can see the clamp applied.
	limit, offset := store.ClampPage(filter.Limit, filter.Offset)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"commands": commands,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}
