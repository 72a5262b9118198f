// Package audit records "who did what, with what result" as append-only
// entries correlated by trace id.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/opsforge/opsforge/control_plane/observability"
	"github.com/opsforge/opsforge/control_plane/permission"
	"github.com/opsforge/opsforge/control_plane/store"
)

// AdminRole is the elevated role allowed to query other tenants' entries.
const AdminRole = "admin"

// Caller identifies who is querying the audit log, taken from validated
// token claims, not from request parameters.
type Caller struct {
	TenantID string
	UserID   string
	Role     string
}

// Service wraps the store's audit operations with permission and
// tenant-scoping checks.
type Service struct {
	store store.Store
	gate  *permission.Gate
}

// NewService creates the audit service.
func NewService(s store.Store, gate *permission.Gate) *Service {
	return &Service{store: s, gate: gate}
}

// Append writes one immutable entry and returns its id.
func (s *Service) Append(ctx context.Context, entry *store.AuditLogEntry) (string, error) {
	return s.store.AppendAuditLog(ctx, entry)
}

// Record is Append for callers in the asynchronous execution path: a failed
// audit write is logged and counted, never propagated, so it cannot roll
// back the operation it documents.
func (s *Service) Record(ctx context.Context, entry *store.AuditLogEntry) {
	if _, err := s.store.AppendAuditLog(ctx, entry); err != nil {
		observability.AuditWriteFailures.Inc()
		log.Printf("Audit write failed for trace %s (%s): %v", entry.TraceID, entry.ActionType, err)
	}
}

// Query returns entries visible to the caller. The tenant filter defaults to
// the caller's own tenant; asking for another tenant requires the admin role
// regardless of what the permission gate would say (defense in depth), and
// the gate must additionally allow READ on DATA.
func (s *Service) Query(ctx context.Context, caller Caller, filter store.AuditFilter) ([]*store.AuditLogEntry, int, error) {
	if caller.TenantID == "" || caller.UserID == "" {
		return nil, 0, store.UnauthorizedErrorf("missing caller identity")
	}

	if filter.TenantID == "" {
		filter.TenantID = caller.TenantID
	}
	if filter.TenantID != caller.TenantID && caller.Role != AdminRole {
		log.Printf("Cross-tenant audit query rejected: caller tenant %s requested %s", caller.TenantID, filter.TenantID)
		return nil, 0, store.UnauthorizedErrorf("cannot access audit logs from other tenants")
	}

	verdict, err := s.gate.Check(ctx, permission.Request{
		SubjectType:  permission.SubjectUser,
		SubjectID:    caller.UserID,
		ResourceType: permission.ResourceData,
		Action:       permission.ActionRead,
		Context: permission.RequestContext{
			TenantID:  caller.TenantID,
			Timestamp: time.Now(),
			Metadata:  map[string]string{"resource": "audit_logs"},
		},
	})
	if err != nil {
		return nil, 0, err
	}
	if !verdict.Allowed {
		return nil, 0, store.UnauthorizedErrorf("insufficient permissions to access audit logs: %s", verdict.Reason)
	}

	return s.store.QueryAuditLogs(ctx, filter)
}
