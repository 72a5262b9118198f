package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/opsforge/opsforge/control_plane/observability"
	"github.com/opsforge/opsforge/control_plane/store"
)

// TransitionManager is the single authority for moving commands through the
// status state machine. Every transition is conditional on the required
// source state, so redelivered change-feed events and racing consumers
// collapse to no-ops instead of duplicate executions.
type TransitionManager struct {
	store store.Store
}

// NewTransitionManager creates the manager over the given store.
func NewTransitionManager(s store.Store) *TransitionManager {
	return &TransitionManager{store: s}
}

// MarkRunning attempts PENDING -> RUNNING. The false return is the signal
// that someone else already claimed the command; callers must skip handler
// execution in that case.
func (m *TransitionManager) MarkRunning(ctx context.Context, commandID string) (bool, error) {
	ok, err := m.store.MarkCommandRunning(ctx, commandID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if !ok {
		observability.FeedRedeliveries.Inc()
		log.Printf("Warning: command %s is no longer PENDING, skipping duplicate delivery", commandID)
	}
	return ok, nil
}

// MarkSuccess attempts RUNNING -> SUCCESS with the handler's output.
func (m *TransitionManager) MarkSuccess(ctx context.Context, commandID, output string) error {
	ok, err := m.store.MarkCommandTerminal(ctx, commandID, store.StatusSuccess, output, "", time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("Warning: command %s was not RUNNING, dropping SUCCESS transition", commandID)
	}
	return nil
}

// MarkError attempts RUNNING -> ERROR with the captured failure message.
func (m *TransitionManager) MarkError(ctx context.Context, commandID, errorMessage string) error {
	ok, err := m.store.MarkCommandTerminal(ctx, commandID, store.StatusError, "", errorMessage, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("Warning: command %s was not RUNNING, dropping ERROR transition", commandID)
	}
	return nil
}
