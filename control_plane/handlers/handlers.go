// Package handlers holds the strategy table: one bounded unit of work per
// command type, invoked by the change-feed dispatcher.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/opsforge/opsforge/control_plane/queue"
	"github.com/opsforge/opsforge/control_plane/store"
)

// Handler executes one command and returns its human-readable output.
// A returned error drives the command to the ERROR terminal state.
type Handler func(ctx context.Context, cmd *store.Command) (string, error)

// Registry is the closed strategy table keyed by command type. It is built
// once at startup; the dispatcher treats a missing entry as an unknown
// command type.
type Registry map[store.CommandType]Handler

// NewRegistry wires the four handlers against their dependencies. Listing
// every member of the closed enum here keeps routing a single-point change.
func NewRegistry(st store.Store, redeliverer queue.Redeliverer, probes []Probe) Registry {
	return Registry{
		store.CommandHealthCheck:    HealthCheck(probes),
		store.CommandResetToken:     ResetToken(st),
		store.CommandRestartAgent:   RestartAgent(st),
		store.CommandReprocessQueue: ReprocessQueue(redeliverer),
	}
}

// ResetToken flips the target integration back to "pending" and clears its
// stored error, forcing a reconnection on the next sync.
func ResetToken(st store.Store) Handler {
	return func(ctx context.Context, cmd *store.Command) (string, error) {
		p, err := ParseResetToken(cmd)
		if err != nil {
			return "", err
		}
		if err := st.ResetIntegrationToken(ctx, p.TenantID, p.IntegrationID, time.Now().UTC()); err != nil {
			return "", err
		}
		return fmt.Sprintf("Token reset successfully for integration %s", p.IntegrationID), nil
	}
}

// RestartAgent re-activates the tenant-agent association.
func RestartAgent(st store.Store) Handler {
	return func(ctx context.Context, cmd *store.Command) (string, error) {
		p, err := ParseRestartAgent(cmd)
		if err != nil {
			return "", err
		}
		if err := st.ReactivateAgent(ctx, p.TenantID, p.AgentID, time.Now().UTC()); err != nil {
			return "", err
		}
		return fmt.Sprintf("Agent %s restarted successfully for tenant %s", p.AgentID, p.TenantID), nil
	}
}

// ReprocessQueue moves messages from the named queue's dead-letter list back
// onto the live list, up to the requested count.
func ReprocessQueue(redeliverer queue.Redeliverer) Handler {
	return func(ctx context.Context, cmd *store.Command) (string, error) {
		p, err := ParseReprocessQueue(cmd)
		if err != nil {
			return "", err
		}
		moved, err := redeliverer.Redeliver(ctx, p.QueueName, p.MessageCount)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Reprocessed %d messages from queue %s", moved, p.QueueName), nil
	}
}
