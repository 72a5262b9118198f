package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/opsforge/control_plane/permission"
	"github.com/opsforge/opsforge/control_plane/store"
)

// handleAgentAction routes /api/agents/{agent_id}/activate and
// /api/agents/{agent_id}/deactivate. Both require MANAGE on the agent.
func (a *API) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Path shape: /api/agents/{agent_id}/{action}
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 4 || pathParts[2] == "" {
		http.Error(w, "Invalid agent path", http.StatusBadRequest)
		return
	}
	agentID, action := pathParts[2], pathParts[3]

	caller, err := callerFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	verdict, err := a.checkPermission(r, caller, permission.ResourceAgent, agentID, permission.ActionManage,
		map[string]string{"resource": "agent_activations"})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !verdict.Allowed {
		http.Error(w, verdict.Reason, http.StatusForbidden)
		return
	}

	now := time.Now()
	switch action {
	case "activate":
		err = a.activateAgent(r, caller.TenantID, agentID, now)
	case "deactivate":
		err = a.store.DeactivateAgent(r.Context(), caller.TenantID, agentID, now)
	default:
		http.Error(w, "Unknown agent action", http.StatusNotFound)
		return
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	traceID := r.Header.Get(TraceIDHeader)
	if traceID == "" {
		traceID = uuid.NewString()
	}
	a.audits.Record(r.Context(), &store.AuditLogEntry{
		TraceID:    traceID,
		TenantID:   caller.TenantID,
		UserID:     caller.UserID,
		AgentID:    agentID,
		ActionType: "agent." + action + "d", // agent.activated / agent.deactivated
		Result:     store.AuditSuccess,
		CreatedAt:  now,
	})

	status := "active"
	if action == "deactivate" {
		status = "inactive"
	}
	a.wsHub.BroadcastAgentStatus(caller.TenantID, agentID, status)

	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": agentID,
		"status":   action + "d",
	})
}

// activateAgent reactivates an existing association or creates one on first use.
func (a *API) activateAgent(r *http.Request, tenantID, agentID string, now time.Time) error {
	err := a.store.ReactivateAgent(r.Context(), tenantID, agentID, now)
	if err == nil || !isNotFound(err) {
		return err
	}
	return a.store.UpsertAgentActivation(r.Context(), &store.AgentActivation{
		ActivationID: uuid.NewString(),
		AgentID:      agentID,
		TenantID:     tenantID,
		Status:       "active",
		ActivatedAt:  &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// handleGetAgentActivation returns the tenant's activation row for agents pages.
func (a *API) handleGetAgentActivation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 3 || pathParts[2] == "" {
		http.Error(w, "Invalid agent path", http.StatusBadRequest)
		return
	}
	agentID := pathParts[2]

	caller, err := callerFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	act, err := a.store.GetAgentActivation(r.Context(), caller.TenantID, agentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if act == nil {
		http.Error(w, "Agent not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, act)
}

// handleListIntegrations lists the tenant's external integrations.
func (a *API) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	caller, err := callerFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	integrations, err := a.store.ListIntegrations(r.Context(), caller.TenantID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, integrations)
}
