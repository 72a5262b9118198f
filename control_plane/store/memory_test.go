package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestCommand(id string, cmdType CommandType, params map[string]string) *Command {
	return &Command{
		CommandID:   id,
		CommandType: cmdType,
		TenantID:    "tenant-1",
		Parameters:  params,
		CreatedBy:   "user-1",
		TraceID:     "trace-" + id,
	}
}

func TestCreateCommandValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Unknown type never reaches the log
	err := s.CreateCommand(ctx, newTestCommand("cmd-1", "DELETE_EVERYTHING", nil))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for unknown type, got %v", err)
	}

	// Missing required parameter
	err = s.CreateCommand(ctx, newTestCommand("cmd-2", CommandResetToken, map[string]string{
		ParamTenantID: "tenant-1",
	}))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for missing integration_id, got %v", err)
	}

	// Nothing was stored
	if _, _, err := s.ListCommands(ctx, CommandFilter{}); err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	_, total, _ := s.ListCommands(ctx, CommandFilter{})
	if total != 0 {
		t.Errorf("Expected empty store after rejected submissions, got %d commands", total)
	}
}

func TestCreateCommandDefaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	cmd := newTestCommand("cmd-1", CommandHealthCheck, nil)
	cmd.Status = StatusRunning // callers cannot choose an initial status
	if err := s.CreateCommand(ctx, cmd); err != nil {
		t.Fatalf("CreateCommand failed: %v", err)
	}

	got, err := s.GetCommand(ctx, "cmd-1")
	if err != nil {
		t.Fatalf("GetCommand failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Expected new command to be PENDING, got %s", got.Status)
	}
	if got.ExpiresAt.Sub(got.CreatedAt) != CommandRetention {
		t.Errorf("Expected retention of %v, got %v", CommandRetention, got.ExpiresAt.Sub(got.CreatedAt))
	}
}

func TestCreateCommandDuplicateID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateCommand(ctx, newTestCommand("cmd-1", CommandHealthCheck, nil)); err != nil {
		t.Fatalf("CreateCommand failed: %v", err)
	}
	err := s.CreateCommand(ctx, newTestCommand("cmd-1", CommandHealthCheck, nil))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for duplicate id, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateCommand(ctx, newTestCommand("cmd-1", CommandHealthCheck, nil)); err != nil {
		t.Fatalf("CreateCommand failed: %v", err)
	}

	claimed, err := s.MarkCommandRunning(ctx, "cmd-1", now)
	if err != nil || !claimed {
		t.Fatalf("Expected first claim to succeed, got claimed=%v err=%v", claimed, err)
	}

	// Redelivered event: claim must be a no-op, not an error
	claimed, err = s.MarkCommandRunning(ctx, "cmd-1", now)
	if err != nil {
		t.Fatalf("Second claim returned error: %v", err)
	}
	if claimed {
		t.Error("Expected second claim to be rejected")
	}

	done, err := s.MarkCommandTerminal(ctx, "cmd-1", StatusSuccess, "all good", "", now)
	if err != nil || !done {
		t.Fatalf("Expected terminal transition to succeed, got done=%v err=%v", done, err)
	}

	got, _ := s.GetCommand(ctx, "cmd-1")
	if got.Status != StatusSuccess {
		t.Errorf("Expected SUCCESS, got %s", got.Status)
	}
	if got.Output != "all good" {
		t.Errorf("Expected output to be recorded, got %q", got.Output)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("Expected started_at and completed_at to be set")
	}

	// Terminal states are final
	done, err = s.MarkCommandTerminal(ctx, "cmd-1", StatusError, "", "late failure", now)
	if err != nil {
		t.Fatalf("Terminal transition on finished command returned error: %v", err)
	}
	if done {
		t.Error("Expected transition on terminal command to be rejected")
	}
	got, _ = s.GetCommand(ctx, "cmd-1")
	if got.Status != StatusSuccess || got.ErrorMessage != "" {
		t.Errorf("Terminal command was mutated: status=%s error=%q", got.Status, got.ErrorMessage)
	}
}

func TestMarkTerminalRequiresTerminalStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.CreateCommand(ctx, newTestCommand("cmd-1", CommandHealthCheck, nil)); err != nil {
		t.Fatalf("CreateCommand failed: %v", err)
	}
	if _, err := s.MarkCommandTerminal(ctx, "cmd-1", StatusRunning, "", "", time.Now()); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for non-terminal status, got %v", err)
	}
}

func TestListCommandsFilterAndPagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		cmd := newTestCommand(commandID(i), CommandHealthCheck, nil)
		cmd.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if i%2 == 1 {
			cmd.TenantID = "tenant-2"
		}
		if err := s.CreateCommand(ctx, cmd); err != nil {
			t.Fatalf("CreateCommand failed: %v", err)
		}
	}

	commands, total, err := s.ListCommands(ctx, CommandFilter{TenantID: "tenant-1"})
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("Expected 3 commands for tenant-1, got %d", total)
	}
	// Newest first
	for i := 1; i < len(commands); i++ {
		if commands[i].CreatedAt.After(commands[i-1].CreatedAt) {
			t.Error("Expected newest-first ordering")
		}
	}

	// Pagination walks the same ordering
	page1, total, _ := s.ListCommands(ctx, CommandFilter{TenantID: "tenant-1", Limit: 2})
	page2, _, _ := s.ListCommands(ctx, CommandFilter{TenantID: "tenant-1", Limit: 2, Offset: 2})
	if total != 3 || len(page1) != 2 || len(page2) != 1 {
		t.Errorf("Expected pages of 2+1 with total 3, got %d+%d total %d", len(page1), len(page2), total)
	}

	// Status filter
	s.MarkCommandRunning(ctx, commands[0].CommandID, base)
	running, _, _ := s.ListCommands(ctx, CommandFilter{TenantID: "tenant-1", Status: StatusRunning})
	if len(running) != 1 {
		t.Errorf("Expected 1 RUNNING command, got %d", len(running))
	}
}

func commandID(i int) string {
	return string(rune('a'+i)) + "-cmd"
}

func TestAuditLogAppendAndQuery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.AppendAuditLog(ctx, &AuditLogEntry{TenantID: "tenant-1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for missing trace/action, got %v", err)
	}

	entries := []*AuditLogEntry{
		{TraceID: "trace-1", TenantID: "tenant-1", UserID: "user-1", ActionType: "command.executed:HEALTH_CHECK", Result: AuditSuccess},
		{TraceID: "trace-1", TenantID: "tenant-1", UserID: "user-1", ActionType: "command.submitted:HEALTH_CHECK", Result: AuditSuccess},
		{TraceID: "trace-2", TenantID: "tenant-1", UserID: "user-2", ActionType: "agent.activated", Result: AuditFailure, ErrorMessage: "boom"},
		{TraceID: "trace-3", TenantID: "tenant-2", UserID: "user-3", ActionType: "agent.activated", Result: AuditSuccess},
	}
	for _, e := range entries {
		if _, err := s.AppendAuditLog(ctx, e); err != nil {
			t.Fatalf("AppendAuditLog failed: %v", err)
		}
	}

	// Tenant scoping is mandatory
	if _, _, err := s.QueryAuditLogs(ctx, AuditFilter{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected validation error for missing tenant, got %v", err)
	}

	// Trace correlation
	got, total, err := s.QueryAuditLogs(ctx, AuditFilter{TenantID: "tenant-1", TraceID: "trace-1"})
	if err != nil {
		t.Fatalf("QueryAuditLogs failed: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Errorf("Expected 2 entries for trace-1, got %d", total)
	}

	// Result filter
	failures, _, _ := s.QueryAuditLogs(ctx, AuditFilter{TenantID: "tenant-1", Result: AuditFailure})
	if len(failures) != 1 || failures[0].ErrorMessage != "boom" {
		t.Errorf("Expected the single failure entry, got %d", len(failures))
	}

	// Entries from other tenants never leak
	t1, _, _ := s.QueryAuditLogs(ctx, AuditFilter{TenantID: "tenant-1"})
	for _, e := range t1 {
		if e.TenantID != "tenant-1" {
			t.Errorf("Entry from tenant %s leaked into tenant-1 query", e.TenantID)
		}
	}
}

func TestPageSizeClamp(t *testing.T) {
	limit, offset := ClampPage(5000, -3)
	if limit != MaxPageSize {
		t.Errorf("Expected limit clamped to %d, got %d", MaxPageSize, limit)
	}
	if offset != 0 {
		t.Errorf("Expected negative offset clamped to 0, got %d", offset)
	}

	limit, _ = ClampPage(0, 0)
	if limit != 50 {
		t.Errorf("Expected default limit 50, got %d", limit)
	}
}

func TestResetIntegrationToken(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.ResetIntegrationToken(ctx, "tenant-1", "integ-1", now)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected not found for unknown integration, got %v", err)
	}

	if err := s.UpsertIntegration(ctx, &Integration{
		IntegrationID:   "integ-1",
		TenantID:        "tenant-1",
		IntegrationName: "crm",
		Status:          "error",
		LastError:       "expired credentials",
	}); err != nil {
		t.Fatalf("UpsertIntegration failed: %v", err)
	}

	if err := s.ResetIntegrationToken(ctx, "tenant-1", "integ-1", now); err != nil {
		t.Fatalf("ResetIntegrationToken failed: %v", err)
	}

	integ, err := s.GetIntegration(ctx, "tenant-1", "integ-1")
	if err != nil {
		t.Fatalf("GetIntegration failed: %v", err)
	}
	if integ.Status != "pending" {
		t.Errorf("Expected status pending, got %s", integ.Status)
	}
	if integ.LastError != "" {
		t.Errorf("Expected last_error cleared, got %q", integ.LastError)
	}

	// Other tenants cannot reset it
	if err := s.ResetIntegrationToken(ctx, "tenant-2", "integ-1", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected not found for wrong tenant, got %v", err)
	}
}

func TestAgentActivationLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.ReactivateAgent(ctx, "tenant-1", "agent-1", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected not found for unknown activation, got %v", err)
	}

	if err := s.UpsertAgentActivation(ctx, &AgentActivation{
		ActivationID: "act-1",
		AgentID:      "agent-1",
		TenantID:     "tenant-1",
		Status:       "active",
	}); err != nil {
		t.Fatalf("UpsertAgentActivation failed: %v", err)
	}

	if err := s.DeactivateAgent(ctx, "tenant-1", "agent-1", now); err != nil {
		t.Fatalf("DeactivateAgent failed: %v", err)
	}
	act, _ := s.GetAgentActivation(ctx, "tenant-1", "agent-1")
	if act.Status != "inactive" {
		t.Errorf("Expected inactive, got %s", act.Status)
	}

	if err := s.ReactivateAgent(ctx, "tenant-1", "agent-1", now); err != nil {
		t.Fatalf("ReactivateAgent failed: %v", err)
	}
	act, _ = s.GetAgentActivation(ctx, "tenant-1", "agent-1")
	if act.Status != "active" {
		t.Errorf("Expected active, got %s", act.Status)
	}
	if act.ActivatedAt == nil {
		t.Error("Expected activated_at to be set")
	}
}
