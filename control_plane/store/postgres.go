package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying connection pool so the permission policy store
// and health probes can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// --- Command Operations ---

func (s *PostgresStore) CreateCommand(ctx context.Context, cmd *Command) error {
	if err := ValidateCommand(cmd); err != nil {
		return err
	}
	cmd.Status = StatusPending
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	if cmd.ExpiresAt.IsZero() {
		cmd.ExpiresAt = cmd.CreatedAt.Add(CommandRetention)
	}

	query := `
		INSERT INTO operational_commands (command_id, command_type, status, tenant_id, parameters, created_by, trace_id, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		cmd.CommandID, cmd.CommandType, cmd.Status, nullable(cmd.TenantID),
		cmd.Parameters, cmd.CreatedBy, cmd.TraceID, cmd.CreatedAt, cmd.ExpiresAt,
	)
	return err
}

func (s *PostgresStore) GetCommand(ctx context.Context, commandID string) (*Command, error) {
	query := `
		SELECT command_id, command_type, status, tenant_id, parameters, created_by, trace_id, created_at, started_at, completed_at, output, error_message, expires_at
		FROM operational_commands WHERE command_id = $1
	`
	cmd, err := scanCommand(s.pool.QueryRow(ctx, query, commandID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundErrorf("command %s", commandID)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *PostgresStore) ListCommands(ctx context.Context, filter CommandFilter) ([]*Command, int, error) {
	limit, offset := ClampPage(filter.Limit, filter.Offset)

	where := "WHERE 1=1"
	args := []interface{}{}
	idx := 1
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.CommandType != "" {
		where += fmt.Sprintf(" AND command_type = $%d", idx)
		args = append(args, filter.CommandType)
		idx++
	}
	if filter.TenantID != "" {
		where += fmt.Sprintf(" AND tenant_id = $%d", idx)
		args = append(args, filter.TenantID)
		idx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM operational_commands " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT command_id, command_type, status, tenant_id, parameters, created_by, trace_id, created_at, started_at, completed_at, output, error_message, expires_at
		FROM operational_commands %s
		ORDER BY created_at DESC, command_id DESC
		LIMIT $%d OFFSET $%d
	`, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var commands []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, 0, err
		}
		commands = append(commands, cmd)
	}
	return commands, total, rows.Err()
}

// MarkCommandRunning is the conditional PENDING -> RUNNING write. The WHERE
// clause on status is the compare-and-swap that makes redelivered insert
// events (and concurrent consumers racing on the same command) collapse to a
// single execution.
func (s *PostgresStore) MarkCommandRunning(ctx context.Context, commandID string, at time.Time) (bool, error) {
	query := `
		UPDATE operational_commands
		SET status = $2, started_at = $3
		WHERE command_id = $1 AND status = $4
	`
	tag, err := s.pool.Exec(ctx, query, commandID, StatusRunning, at, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) MarkCommandTerminal(ctx context.Context, commandID string, status CommandStatus, output, errorMessage string, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, ValidationErrorf("%s is not a terminal status", status)
	}

	var query string
	var tagArgs []interface{}
	if status == StatusSuccess {
		query = `
			UPDATE operational_commands
			SET status = $2, completed_at = $3, output = $4
			WHERE command_id = $1 AND status = $5
		`
		tagArgs = []interface{}{commandID, status, at, output, StatusRunning}
	} else {
		query = `
			UPDATE operational_commands
			SET status = $2, completed_at = $3, error_message = $4
			WHERE command_id = $1 AND status = $5
		`
		tagArgs = []interface{}{commandID, status, at, errorMessage, StatusRunning}
	}

	tag, err := s.pool.Exec(ctx, query, tagArgs...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Audit Operations ---

func (s *PostgresStore) AppendAuditLog(ctx context.Context, entry *AuditLogEntry) (string, error) {
	if entry.TraceID == "" || entry.ActionType == "" {
		return "", ValidationErrorf("audit entry requires trace_id and action_type")
	}

	query := `
		INSERT INTO audit_logs (trace_id, tenant_id, user_id, agent_id, action_type, result, context, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING id
	`
	var auditLogID string
	err := s.pool.QueryRow(ctx, query,
		entry.TraceID, nullable(entry.TenantID), nullable(entry.UserID), nullable(entry.AgentID),
		entry.ActionType, entry.Result, entry.Context, nullable(entry.ErrorMessage),
	).Scan(&auditLogID)
	if err != nil {
		return "", err
	}
	return auditLogID, nil
}

func (s *PostgresStore) QueryAuditLogs(ctx context.Context, filter AuditFilter) ([]*AuditLogEntry, int, error) {
	if filter.TenantID == "" {
		return nil, 0, ValidationErrorf("audit query requires tenant_id")
	}
	limit, offset := ClampPage(filter.Limit, filter.Offset)

	where := "WHERE tenant_id = $1"
	args := []interface{}{filter.TenantID}
	idx := 2
	if filter.TraceID != "" {
		where += fmt.Sprintf(" AND trace_id = $%d", idx)
		args = append(args, filter.TraceID)
		idx++
	}
	if filter.UserID != "" {
		where += fmt.Sprintf(" AND user_id = $%d", idx)
		args = append(args, filter.UserID)
		idx++
	}
	if filter.AgentID != "" {
		where += fmt.Sprintf(" AND agent_id = $%d", idx)
		args = append(args, filter.AgentID)
		idx++
	}
	if filter.ActionType != "" {
		where += fmt.Sprintf(" AND action_type = $%d", idx)
		args = append(args, filter.ActionType)
		idx++
	}
	if filter.Result != "" {
		where += fmt.Sprintf(" AND result = $%d", idx)
		args = append(args, filter.Result)
		idx++
	}
	if !filter.From.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", idx)
		args = append(args, filter.From)
		idx++
	}
	if !filter.To.IsZero() {
		where += fmt.Sprintf(" AND created_at <= $%d", idx)
		args = append(args, filter.To)
		idx++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_logs " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, trace_id, tenant_id, user_id, agent_id, action_type, result, context, error_message, created_at
		FROM audit_logs %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		var e AuditLogEntry
		var tenantID, userID, agentID, errorMessage *string
		if err := rows.Scan(
			&e.AuditLogID, &e.TraceID, &tenantID, &userID, &agentID,
			&e.ActionType, &e.Result, &e.Context, &errorMessage, &e.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		e.TenantID = deref(tenantID)
		e.UserID = deref(userID)
		e.AgentID = deref(agentID)
		e.ErrorMessage = deref(errorMessage)
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

// --- Integration Operations ---

func (s *PostgresStore) UpsertIntegration(ctx context.Context, integ *Integration) error {
	query := `
		INSERT INTO tenant_integrations (id, tenant_id, integration_name, status, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			integration_name = EXCLUDED.integration_name,
			status = EXCLUDED.status,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		integ.IntegrationID, integ.TenantID, integ.IntegrationName, integ.Status, nullable(integ.LastError),
	)
	return err
}

func (s *PostgresStore) GetIntegration(ctx context.Context, tenantID, integrationID string) (*Integration, error) {
	query := `
		SELECT id, tenant_id, integration_name, status, last_error, created_at, updated_at
		FROM tenant_integrations WHERE tenant_id = $1 AND id = $2
	`
	var integ Integration
	var lastError *string
	err := s.pool.QueryRow(ctx, query, tenantID, integrationID).Scan(
		&integ.IntegrationID, &integ.TenantID, &integ.IntegrationName, &integ.Status,
		&lastError, &integ.CreatedAt, &integ.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundErrorf("integration %s for tenant %s", integrationID, tenantID)
	}
	if err != nil {
		return nil, err
	}
	integ.LastError = deref(lastError)
	return &integ, nil
}

func (s *PostgresStore) ListIntegrations(ctx context.Context, tenantID string) ([]*Integration, error) {
	query := `
		SELECT id, tenant_id, integration_name, status, last_error, created_at, updated_at
		FROM tenant_integrations WHERE tenant_id = $1 ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Integration
	for rows.Next() {
		var integ Integration
		var lastError *string
		if err := rows.Scan(
			&integ.IntegrationID, &integ.TenantID, &integ.IntegrationName, &integ.Status,
			&lastError, &integ.CreatedAt, &integ.UpdatedAt,
		); err != nil {
			return nil, err
		}
		integ.LastError = deref(lastError)
		result = append(result, &integ)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ResetIntegrationToken(ctx context.Context, tenantID, integrationID string, at time.Time) error {
	query := `
		UPDATE tenant_integrations
		SET status = 'pending', last_error = NULL, updated_at = $3
		WHERE tenant_id = $1 AND id = $2
	`
	tag, err := s.pool.Exec(ctx, query, tenantID, integrationID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundErrorf("integration %s for tenant %s", integrationID, tenantID)
	}
	return nil
}

// --- Agent Activation Operations ---

func (s *PostgresStore) UpsertAgentActivation(ctx context.Context, act *AgentActivation) error {
	query := `
		INSERT INTO agent_activations (id, agent_id, tenant_id, status, activated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (agent_id, tenant_id) DO UPDATE SET
			status = EXCLUDED.status,
			activated_at = EXCLUDED.activated_at,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		act.ActivationID, act.AgentID, act.TenantID, act.Status, act.ActivatedAt,
	)
	return err
}

func (s *PostgresStore) GetAgentActivation(ctx context.Context, tenantID, agentID string) (*AgentActivation, error) {
	query := `
		SELECT id, agent_id, tenant_id, status, activated_at, created_at, updated_at
		FROM agent_activations WHERE tenant_id = $1 AND agent_id = $2
	`
	var act AgentActivation
	err := s.pool.QueryRow(ctx, query, tenantID, agentID).Scan(
		&act.ActivationID, &act.AgentID, &act.TenantID, &act.Status,
		&act.ActivatedAt, &act.CreatedAt, &act.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NotFoundErrorf("agent %s not found for tenant %s", agentID, tenantID)
	}
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func (s *PostgresStore) ReactivateAgent(ctx context.Context, tenantID, agentID string, at time.Time) error {
	query := `
		UPDATE agent_activations
		SET status = 'active', activated_at = $3, updated_at = $3
		WHERE tenant_id = $1 AND agent_id = $2
	`
	tag, err := s.pool.Exec(ctx, query, tenantID, agentID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundErrorf("agent %s not found for tenant %s", agentID, tenantID)
	}
	return nil
}

func (s *PostgresStore) DeactivateAgent(ctx context.Context, tenantID, agentID string, at time.Time) error {
	query := `
		UPDATE agent_activations
		SET status = 'inactive', updated_at = $3
		WHERE tenant_id = $1 AND agent_id = $2
	`
	tag, err := s.pool.Exec(ctx, query, tenantID, agentID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundErrorf("agent %s not found for tenant %s", agentID, tenantID)
	}
	return nil
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCommand(row rowScanner) (*Command, error) {
	var cmd Command
	var tenantID, output, errorMessage *string
	err := row.Scan(
		&cmd.CommandID, &cmd.CommandType, &cmd.Status, &tenantID, &cmd.Parameters,
		&cmd.CreatedBy, &cmd.TraceID, &cmd.CreatedAt, &cmd.StartedAt, &cmd.CompletedAt,
		&output, &errorMessage, &cmd.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	cmd.TenantID = deref(tenantID)
	cmd.Output = deref(output)
	cmd.ErrorMessage = deref(errorMessage)
	return &cmd, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
