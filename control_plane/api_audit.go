package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opsforge/opsforge/control_plane/store"
)

func (a *API) handleQueryAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !a.queryLimiter.Allow() {
		a.writeRateLimitError(w, "audit_logs")
		return
	}

	caller, err := callerFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := store.AuditFilter{
		TenantID:   q.Get("tenant_id"), // Query defaults this to the caller's tenant
		TraceID:    q.Get("trace_id"),
		UserID:     q.Get("user_id"),
		AgentID:    q.Get("agent_id"),
		ActionType: q.Get("action_type"),
		Result:     store.AuditResult(q.Get("result")),
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	if from := q.Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			http.Error(w, "Invalid 'from' timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			http.Error(w, "Invalid 'to' timestamp, expected RFC3339", http.StatusBadRequest)
			return
		}
		filter.To = t
	}

	entries, total, err := a.audits.Query(r.Context(), caller, filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}
