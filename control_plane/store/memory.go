package store

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore holds the in-memory state of commands, audit entries,
// integrations and activations. It implements the Store interface.
type MemoryStore struct {
	mu          sync.RWMutex
	commands    map[string]*Command
	audit       []*AuditLogEntry
	integs      map[string]*Integration     // key: tenantID/integrationID
	activations map[string]*AgentActivation // key: tenantID/agentID
	auditSeq    int
}

// NewMemoryStore initializes a new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		commands:    make(map[string]*Command),
		integs:      make(map[string]*Integration),
		activations: make(map[string]*AgentActivation),
	}
}

func scopedKey(tenantID, id string) string {
	return tenantID + "/" + id
}

// --- Command Operations ---

func (s *MemoryStore) CreateCommand(ctx context.Context, cmd *Command) error {
	if err := ValidateCommand(cmd); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.commands[cmd.CommandID]; exists {
		return ValidationErrorf("command %s already exists", cmd.CommandID)
	}
	cmd.Status = StatusPending
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	if cmd.ExpiresAt.IsZero() {
		cmd.ExpiresAt = cmd.CreatedAt.Add(CommandRetention)
	}
	stored := *cmd
	s.commands[cmd.CommandID] = &stored
	return nil
}

func (s *MemoryStore) GetCommand(ctx context.Context, commandID string) (*Command, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cmd, ok := s.commands[commandID]
	if !ok {
		return nil, NotFoundErrorf("command %s", commandID)
	}
	// Return copy
	cmdCopy := *cmd
	return &cmdCopy, nil
}

func (s *MemoryStore) ListCommands(ctx context.Context, filter CommandFilter) ([]*Command, int, error) {
	limit, offset := ClampPage(filter.Limit, filter.Offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*Command, 0, len(s.commands))
	for _, cmd := range s.commands {
		if filter.Status != "" && cmd.Status != filter.Status {
			continue
		}
		if filter.CommandType != "" && cmd.CommandType != filter.CommandType {
			continue
		}
		if filter.TenantID != "" && cmd.TenantID != filter.TenantID {
			continue
		}
		matched = append(matched, cmd)
	}

	// Newest first, command_id as tie-breaker for a stable order.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CommandID > matched[j].CommandID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	matched = page(matched, limit, offset)

	result := make([]*Command, 0, len(matched))
	for _, cmd := range matched {
		cmdCopy := *cmd
		result = append(result, &cmdCopy)
	}
	return result, total, nil
}

func (s *MemoryStore) MarkCommandRunning(ctx context.Context, commandID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[commandID]
	if !ok {
		return false, NotFoundErrorf("command %s", commandID)
	}
	if cmd.Status != StatusPending {
		return false, nil
	}
	cmd.Status = StatusRunning
	started := at
	cmd.StartedAt = &started
	return true, nil
}

func (s *MemoryStore) MarkCommandTerminal(ctx context.Context, commandID string, status CommandStatus, output, errorMessage string, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, ValidationErrorf("%s is not a terminal status", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd, ok := s.commands[commandID]
	if !ok {
		return false, NotFoundErrorf("command %s", commandID)
	}
	if cmd.Status != StatusRunning {
		return false, nil
	}
	cmd.Status = status
	completed := at
	cmd.CompletedAt = &completed
	if status == StatusSuccess {
		cmd.Output = output
	} else {
		cmd.ErrorMessage = errorMessage
	}
	return true, nil
}

// --- Audit Operations ---

func (s *MemoryStore) AppendAuditLog(ctx context.Context, entry *AuditLogEntry) (string, error) {
	if entry.TraceID == "" || entry.ActionType == "" {
		return "", ValidationErrorf("audit entry requires trace_id and action_type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditSeq++
	stored := *entry
	stored.AuditLogID = fmt.Sprintf("audit-%d", s.auditSeq)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, &stored)
	return stored.AuditLogID, nil
}

func (s *MemoryStore) QueryAuditLogs(ctx context.Context, filter AuditFilter) ([]*AuditLogEntry, int, error) {
	if filter.TenantID == "" {
		return nil, 0, ValidationErrorf("audit query requires tenant_id")
	}
	limit, offset := ClampPage(filter.Limit, filter.Offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*AuditLogEntry
	for _, entry := range s.audit {
		if entry.TenantID != filter.TenantID {
			continue
		}
		if filter.TraceID != "" && entry.TraceID != filter.TraceID {
			continue
		}
		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}
		if filter.AgentID != "" && entry.AgentID != filter.AgentID {
			continue
		}
		if filter.ActionType != "" && entry.ActionType != filter.ActionType {
			continue
		}
		if filter.Result != "" && entry.Result != filter.Result {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && entry.CreatedAt.After(filter.To) {
			continue
		}
		matched = append(matched, entry)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	matched = page(matched, limit, offset)

	result := make([]*AuditLogEntry, 0, len(matched))
	for _, entry := range matched {
		entryCopy := *entry
		result = append(result, &entryCopy)
	}
	return result, total, nil
}

// --- Integration Operations ---

func (s *MemoryStore) UpsertIntegration(ctx context.Context, integ *Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if integ.CreatedAt.IsZero() {
		integ.CreatedAt = now
	}
	integ.UpdatedAt = now
	stored := *integ
	s.integs[scopedKey(integ.TenantID, integ.IntegrationID)] = &stored
	return nil
}

func (s *MemoryStore) GetIntegration(ctx context.Context, tenantID, integrationID string) (*Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	integ, ok := s.integs[scopedKey(tenantID, integrationID)]
	if !ok {
		return nil, NotFoundErrorf("integration %s for tenant %s", integrationID, tenantID)
	}
	integCopy := *integ
	return &integCopy, nil
}

func (s *MemoryStore) ListIntegrations(ctx context.Context, tenantID string) ([]*Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := scopedKey(tenantID, "")
	var result []*Integration
	for key, integ := range s.integs {
		if strings.HasPrefix(key, prefix) {
			integCopy := *integ
			result = append(result, &integCopy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].IntegrationID < result[j].IntegrationID
	})
	return result, nil
}

func (s *MemoryStore) ResetIntegrationToken(ctx context.Context, tenantID, integrationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	integ, ok := s.integs[scopedKey(tenantID, integrationID)]
	if !ok {
		return NotFoundErrorf("integration %s for tenant %s", integrationID, tenantID)
	}
	integ.Status = "pending"
	integ.LastError = ""
	integ.UpdatedAt = at
	return nil
}

// --- Agent Activation Operations ---

func (s *MemoryStore) UpsertAgentActivation(ctx context.Context, act *AgentActivation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if act.CreatedAt.IsZero() {
		act.CreatedAt = now
	}
	act.UpdatedAt = now
	stored := *act
	s.activations[scopedKey(act.TenantID, act.AgentID)] = &stored
	return nil
}

func (s *MemoryStore) GetAgentActivation(ctx context.Context, tenantID, agentID string) (*AgentActivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	act, ok := s.activations[scopedKey(tenantID, agentID)]
	if !ok {
		return nil, NotFoundErrorf("agent %s not found for tenant %s", agentID, tenantID)
	}
	actCopy := *act
	return &actCopy, nil
}

func (s *MemoryStore) ReactivateAgent(ctx context.Context, tenantID, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	act, ok := s.activations[scopedKey(tenantID, agentID)]
	if !ok {
		return NotFoundErrorf("agent %s not found for tenant %s", agentID, tenantID)
	}
	act.Status = "active"
	activated := at
	act.ActivatedAt = &activated
	act.UpdatedAt = at
	return nil
}

func (s *MemoryStore) DeactivateAgent(ctx context.Context, tenantID, agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	act, ok := s.activations[scopedKey(tenantID, agentID)]
	if !ok {
		return NotFoundErrorf("agent %s not found for tenant %s", agentID, tenantID)
	}
	act.Status = "inactive"
	act.UpdatedAt = at
	return nil
}

// ClampPage applies the paging defaults and the hard cap. Both backends run
// it before querying; the HTTP layer runs it to echo the effective page.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxPageSize {
		log.Printf("Page limit %d exceeds cap, clamping to %d", limit, MaxPageSize)
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
