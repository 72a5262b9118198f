package permission

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Gate evaluates permission checks against the policy store. Evaluation is a
// pure function of policy state plus the request, so callers may check
// speculatively; denial never comes back as an error.
type Gate struct {
	policies PolicyStore
}

// NewGate creates a Gate over the given policy store.
func NewGate(policies PolicyStore) *Gate {
	return &Gate{policies: policies}
}

// Check resolves the request to allow/deny. Direct grants win over
// role-derived ones. Errors are reserved for malformed input (unknown enum
// value) and an unreachable policy store.
func (g *Gate) Check(ctx context.Context, req Request) (Result, error) {
	if !validSubject(req.SubjectType) {
		return Result{}, fmt.Errorf("unknown subject type %q", req.SubjectType)
	}
	if !validResource(req.ResourceType) {
		return Result{}, fmt.Errorf("unknown resource type %q", req.ResourceType)
	}
	if !validAction(req.Action) {
		return Result{}, fmt.Errorf("unknown action %q", req.Action)
	}
	if req.SubjectID == "" {
		return Result{}, fmt.Errorf("subject id is required")
	}

	grant, err := g.policies.FindGrant(ctx, req.SubjectType, req.SubjectID, req.ResourceType, req.ResourceID, req.Action)
	if err != nil {
		return Result{}, fmt.Errorf("policy store: %w", err)
	}

	// Users inherit role grants when no direct grant matches.
	if grant == nil && req.SubjectType == SubjectUser {
		role, err := g.policies.UserRole(ctx, req.SubjectID)
		if err != nil {
			return Result{}, fmt.Errorf("policy store: %w", err)
		}
		if role != "" {
			grant, err = g.policies.FindGrant(ctx, SubjectRole, role, req.ResourceType, req.ResourceID, req.Action)
			if err != nil {
				return Result{}, fmt.Errorf("policy store: %w", err)
			}
		}
	}

	if grant == nil {
		log.Printf("Permission denied: no grant for %s %s on %s %s (%s)",
			req.SubjectType, req.SubjectID, req.ResourceType, req.ResourceID, req.Action)
		return Result{Allowed: false, Reason: "No permission found for this action"}, nil
	}

	if !grant.Constraints.Empty() {
		if reason := evaluateConstraints(grant.Constraints, req.Context); reason != "" {
			log.Printf("Permission denied: constraint violation for %s %s: %s",
				req.SubjectType, req.SubjectID, reason)
			return Result{Allowed: false, Reason: "Constraint violation: " + reason}, nil
		}
	}

	return Result{Allowed: true, GrantID: grant.GrantID}, nil
}

// evaluateConstraints returns a denial reason, or "" when every constraint
// holds. The request timestamp drives time checks so evaluation stays
// deterministic under test.
func evaluateConstraints(c *Constraints, rc RequestContext) string {
	now := rc.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	if c.TimeWindow != nil {
		current := now.Format("15:04")
		if current < c.TimeWindow.Start || current > c.TimeWindow.End {
			return fmt.Sprintf("action only allowed between %s and %s", c.TimeWindow.Start, c.TimeWindow.End)
		}
	}

	if len(c.AllowedDays) > 0 {
		day := int(now.Weekday())
		allowed := false
		for _, d := range c.AllowedDays {
			if d == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Sprintf("action not allowed on %s", now.Weekday())
		}
	}

	if len(c.IPAllowlist) > 0 {
		ip := rc.Metadata["ipAddress"]
		allowed := false
		for _, candidate := range c.IPAllowlist {
			if candidate == ip {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Sprintf("ip %q is not allowlisted", ip)
		}
	}

	return ""
}
