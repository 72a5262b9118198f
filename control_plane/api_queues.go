package main

import (
	"net/http"
	"strings"

	"github.com/opsforge/opsforge/control_plane/permission"
)

// handleGetQueueDepths reports live and dead-letter backlog for one queue.
// Console operators read this before deciding to submit REPROCESS_QUEUE.
func (a *API) handleGetQueueDepths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !a.queryLimiter.Allow() {
		a.writeRateLimitError(w, "queue_depths")
		return
	}

	// Path shape: /api/queues/{queue_name}
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) != 3 || pathParts[2] == "" {
		http.Error(w, "Invalid queue path", http.StatusBadRequest)
		return
	}
	queueName := pathParts[2]

	caller, err := callerFromContext(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	verdict, err := a.checkPermission(r, caller, permission.ResourceTenant, caller.TenantID, permission.ActionRead,
		map[string]string{"resource": "queues", "queue_name": queueName})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if !verdict.Allowed {
		http.Error(w, verdict.Reason, http.StatusForbidden)
		return
	}

	if a.queues == nil {
		http.Error(w, "Queue introspection unavailable", http.StatusServiceUnavailable)
		return
	}

	live, dead, err := a.queues.Depths(r.Context(), queueName)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue": queueName,
		"live":  live,
		"dead":  dead,
	})
}
