package permission

import (
	"context"
	"testing"
	"time"
)

func allowRequest(userID string, resourceType ResourceType, resourceID string, action Action) Request {
	return Request{
		SubjectType:  SubjectUser,
		SubjectID:    userID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
		Context:      RequestContext{TenantID: "tenant-1"},
	}
}

func TestGateDirectGrant(t *testing.T) {
	policies := NewMemoryPolicyStore()
	grantID := policies.AddGrant(Grant{
		SubjectType:  SubjectUser,
		SubjectID:    "user-1",
		ResourceType: ResourceTenant,
		ResourceID:   "tenant-1",
		Action:       ActionExecute,
	})
	gate := NewGate(policies)

	verdict, err := gate.Check(context.Background(), allowRequest("user-1", ResourceTenant, "tenant-1", ActionExecute))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("Expected allow, got deny: %s", verdict.Reason)
	}
	if verdict.GrantID != grantID {
		t.Errorf("Expected grant id %s, got %s", grantID, verdict.GrantID)
	}
}

func TestGateDenyIsValueNotError(t *testing.T) {
	gate := NewGate(NewMemoryPolicyStore())

	verdict, err := gate.Check(context.Background(), allowRequest("user-1", ResourceTenant, "tenant-1", ActionExecute))
	if err != nil {
		t.Fatalf("Denial must not be an error, got %v", err)
	}
	if verdict.Allowed {
		t.Fatal("Expected deny")
	}
	if verdict.Reason != "No permission found for this action" {
		t.Errorf("Unexpected reason: %q", verdict.Reason)
	}
}

func TestGateRoleFallback(t *testing.T) {
	policies := NewMemoryPolicyStore()
	policies.SetUserRole("user-1", "operator")
	policies.AddGrant(Grant{
		SubjectType:  SubjectRole,
		SubjectID:    "operator",
		ResourceType: ResourceAgent,
		Action:       ActionManage, // resource-wide
	})
	gate := NewGate(policies)

	verdict, err := gate.Check(context.Background(), allowRequest("user-1", ResourceAgent, "agent-9", ActionManage))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !verdict.Allowed {
		t.Errorf("Expected role grant to apply, got deny: %s", verdict.Reason)
	}

	// Role grants do not cover other actions
	verdict, _ = gate.Check(context.Background(), allowRequest("user-1", ResourceAgent, "agent-9", ActionDelete))
	if verdict.Allowed {
		t.Error("Expected deny for unmatched action")
	}
}

func TestGateDirectGrantWinsOverRole(t *testing.T) {
	policies := NewMemoryPolicyStore()
	policies.SetUserRole("user-1", "operator")
	direct := policies.AddGrant(Grant{
		SubjectType:  SubjectUser,
		SubjectID:    "user-1",
		ResourceType: ResourceData,
		Action:       ActionRead,
	})
	policies.AddGrant(Grant{
		SubjectType:  SubjectRole,
		SubjectID:    "operator",
		ResourceType: ResourceData,
		Action:       ActionRead,
	})
	gate := NewGate(policies)

	verdict, err := gate.Check(context.Background(), allowRequest("user-1", ResourceData, "", ActionRead))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if verdict.GrantID != direct {
		t.Errorf("Expected direct grant %s, got %s", direct, verdict.GrantID)
	}
}

func TestGateInvalidEnumIsError(t *testing.T) {
	gate := NewGate(NewMemoryPolicyStore())

	req := allowRequest("user-1", "spaceship", "x", ActionRead)
	if _, err := gate.Check(context.Background(), req); err == nil {
		t.Error("Expected error for unknown resource type")
	}

	req = allowRequest("user-1", ResourceData, "x", "launch")
	if _, err := gate.Check(context.Background(), req); err == nil {
		t.Error("Expected error for unknown action")
	}

	req = allowRequest("", ResourceData, "x", ActionRead)
	if _, err := gate.Check(context.Background(), req); err == nil {
		t.Error("Expected error for missing subject id")
	}
}

func TestGateTimeWindowConstraint(t *testing.T) {
	policies := NewMemoryPolicyStore()
	policies.AddGrant(Grant{
		SubjectType:  SubjectUser,
		SubjectID:    "user-1",
		ResourceType: ResourceTenant,
		ResourceID:   "tenant-1",
		Action:       ActionExecute,
		Constraints: &Constraints{
			TimeWindow: &TimeWindow{Start: "09:00", End: "17:00"},
		},
	})
	gate := NewGate(policies)

	inside := allowRequest("user-1", ResourceTenant, "tenant-1", ActionExecute)
	inside.Context.Timestamp = time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
	verdict, err := gate.Check(context.Background(), inside)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !verdict.Allowed {
		t.Errorf("Expected allow inside window, got %s", verdict.Reason)
	}

	outside := inside
	outside.Context.Timestamp = time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	verdict, _ = gate.Check(context.Background(), outside)
	if verdict.Allowed {
		t.Error("Expected deny outside window")
	}
	if verdict.Reason != "Constraint violation: action only allowed between 09:00 and 17:00" {
		t.Errorf("Unexpected reason: %q", verdict.Reason)
	}
}

func TestGateAllowedDaysConstraint(t *testing.T) {
	policies := NewMemoryPolicyStore()
	policies.AddGrant(Grant{
		SubjectType:  SubjectUser,
		SubjectID:    "user-1",
		ResourceType: ResourceTenant,
		ResourceID:   "tenant-1",
		Action:       ActionExecute,
		Constraints: &Constraints{
			AllowedDays: []int{1, 2, 3, 4, 5}, // weekdays
		},
	})
	gate := NewGate(policies)

	monday := allowRequest("user-1", ResourceTenant, "tenant-1", ActionExecute)
	monday.Context.Timestamp = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	verdict, _ := gate.Check(context.Background(), monday)
	if !verdict.Allowed {
		t.Errorf("Expected allow on Monday, got %s", verdict.Reason)
	}

	sunday := monday
	sunday.Context.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verdict, _ = gate.Check(context.Background(), sunday)
	if verdict.Allowed {
		t.Error("Expected deny on Sunday")
	}
}

func TestGateIPAllowlistConstraint(t *testing.T) {
	policies := NewMemoryPolicyStore()
	policies.AddGrant(Grant{
		SubjectType:  SubjectUser,
		SubjectID:    "user-1",
		ResourceType: ResourceData,
		Action:       ActionRead,
		Constraints: &Constraints{
			IPAllowlist: []string{"10.0.0.5", "10.0.0.6"},
		},
	})
	gate := NewGate(policies)

	req := allowRequest("user-1", ResourceData, "", ActionRead)
	req.Context.Metadata = map[string]string{"ipAddress": "10.0.0.5"}
	verdict, _ := gate.Check(context.Background(), req)
	if !verdict.Allowed {
		t.Errorf("Expected allow for listed IP, got %s", verdict.Reason)
	}

	req.Context.Metadata = map[string]string{"ipAddress": "192.168.1.1"}
	verdict, _ = gate.Check(context.Background(), req)
	if verdict.Allowed {
		t.Error("Expected deny for unlisted IP")
	}
}

func TestGateExpiredGrant(t *testing.T) {
	policies := NewMemoryPolicyStore()
	expired := time.Now().Add(-time.Hour)
	policies.AddGrant(Grant{
		SubjectType:  SubjectUser,
		SubjectID:    "user-1",
		ResourceType: ResourceData,
		Action:       ActionRead,
		ExpiresAt:    &expired,
	})
	gate := NewGate(policies)

	verdict, err := gate.Check(context.Background(), allowRequest("user-1", ResourceData, "", ActionRead))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if verdict.Allowed {
		t.Error("Expected deny for expired grant")
	}
}
