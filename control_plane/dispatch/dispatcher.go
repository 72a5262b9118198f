// Package dispatch consumes command change events and drives each new
// command through its handler and the status state machine.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/opsforge/opsforge/control_plane/audit"
	"github.com/opsforge/opsforge/control_plane/feed"
	"github.com/opsforge/opsforge/control_plane/handlers"
	"github.com/opsforge/opsforge/control_plane/observability"
	"github.com/opsforge/opsforge/control_plane/store"
)

// Broadcaster pushes command status changes to the operator console.
type Broadcaster interface {
	BroadcastCommand(cmd *store.Command)
}

// DefaultHandlerTimeout bounds a single handler invocation so a hung
// downstream cannot pin a feed consumer forever.
const DefaultHandlerTimeout = 60 * time.Second

// Dispatcher routes change-feed events to command handlers. It holds no
// business logic of its own: filtering, the strategy lookup and the
// transition calls are all it does.
type Dispatcher struct {
	store       store.Store
	transitions *TransitionManager
	registry    handlers.Registry
	audits      *audit.Service
	hub         Broadcaster // optional
	timeout     time.Duration
}

// NewDispatcher wires the dispatcher. hub may be nil.
func NewDispatcher(s store.Store, registry handlers.Registry, audits *audit.Service, hub Broadcaster, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return &Dispatcher{
		store:       s,
		transitions: NewTransitionManager(s),
		registry:    registry,
		audits:      audits,
		hub:         hub,
		timeout:     timeout,
	}
}

// Run consumes the feed until the context is cancelled. Each batch is read,
// processed and only then acknowledged, which is what makes delivery
// at-least-once: a consumer crash between read and ack redelivers the batch.
func (d *Dispatcher) Run(ctx context.Context, src feed.Source, batchSize int, block time.Duration) {
	log.Printf("Dispatcher started (batch=%d, handler timeout=%v)", batchSize, d.timeout)
	for {
		if ctx.Err() != nil {
			log.Println("Dispatcher stopped")
			return
		}

		batch, err := src.ReadBatch(ctx, batchSize, block)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Dispatcher stopped")
				return
			}
			log.Printf("Feed read failed, retrying: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(batch) == 0 {
			continue
		}

		events := make([]feed.Event, 0, len(batch))
		ids := make([]string, 0, len(batch))
		for _, msg := range batch {
			events = append(events, msg.Event)
			ids = append(ids, msg.ID)
		}

		d.ProcessBatch(ctx, events)

		if err := src.Ack(ctx, ids...); err != nil {
			// The batch will come back; the transition guards absorb it.
			log.Printf("Failed to ack %d feed messages: %v", len(ids), err)
		}
	}
}

// ProcessBatch handles one batch of change events. A single command's
// failure is captured into its own terminal state and never stops the
// remaining events.
func (d *Dispatcher) ProcessBatch(ctx context.Context, events []feed.Event) {
	observability.FeedBatchSize.Observe(float64(len(events)))

	for _, event := range events {
		if err := d.processEvent(ctx, event); err != nil {
			log.Printf("Error processing feed event %s: %v", event.EventID, err)
		}
	}
}

// processEvent applies the filtering rule and drives one command. Returned
// errors are infrastructure failures (store unreachable); handler failures
// are captured, not returned.
func (d *Dispatcher) processEvent(ctx context.Context, event feed.Event) error {
	// Only brand-new commands still in PENDING are work. Everything else on
	// the feed is a no-op by design.
	if event.Kind != feed.KindInsert {
		return nil
	}
	cmd := event.Command
	if cmd == nil {
		log.Printf("Feed event %s has no post-image, skipping", event.EventID)
		return nil
	}
	if cmd.Status != store.StatusPending {
		return nil
	}

	claimed, err := d.transitions.MarkRunning(ctx, cmd.CommandID)
	if err != nil {
		return fmt.Errorf("mark running %s: %w", cmd.CommandID, err)
	}
	if !claimed {
		// Redelivery of an already-claimed command.
		return nil
	}

	log.Printf("Processing command %s (%s)", cmd.CommandID, cmd.CommandType)

	output, execErr := d.execute(ctx, cmd)

	if execErr != nil {
		observability.CommandsExecuted.WithLabelValues(string(cmd.CommandType), string(store.StatusError)).Inc()
		if err := d.transitions.MarkError(ctx, cmd.CommandID, execErr.Error()); err != nil {
			return fmt.Errorf("mark error %s: %w", cmd.CommandID, err)
		}
		d.recordExecution(ctx, cmd, store.AuditFailure, execErr.Error())
		log.Printf("Command %s failed: %v", cmd.CommandID, execErr)
		d.broadcast(ctx, cmd.CommandID)
		return nil
	}

	observability.CommandsExecuted.WithLabelValues(string(cmd.CommandType), string(store.StatusSuccess)).Inc()
	if err := d.transitions.MarkSuccess(ctx, cmd.CommandID, output); err != nil {
		return fmt.Errorf("mark success %s: %w", cmd.CommandID, err)
	}
	d.recordExecution(ctx, cmd, store.AuditSuccess, "")
	log.Printf("Command %s executed successfully", cmd.CommandID)
	d.broadcast(ctx, cmd.CommandID)
	return nil
}

// execute invokes the handler with a deadline, converting unknown types and
// handler panics into captured errors.
func (d *Dispatcher) execute(ctx context.Context, cmd *store.Command) (output string, err error) {
	handler, ok := d.registry[cmd.CommandType]
	if !ok {
		return "", fmt.Errorf("Unknown command type: %s", cmd.CommandType)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	output, err = handler(execCtx, cmd)
	observability.CommandDuration.WithLabelValues(string(cmd.CommandType)).Observe(time.Since(start).Seconds())
	return output, err
}

// recordExecution appends the audit fact for one command execution. Audit
// failures are logged inside Record and never affect the command outcome.
func (d *Dispatcher) recordExecution(ctx context.Context, cmd *store.Command, result store.AuditResult, errorMessage string) {
	traceID := cmd.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	d.audits.Record(ctx, &store.AuditLogEntry{
		TraceID:    traceID,
		TenantID:   cmd.TenantID,
		UserID:     cmd.CreatedBy,
		ActionType: fmt.Sprintf("command.executed:%s", cmd.CommandType),
		Result:     result,
		Context: map[string]string{
			"command_id":   cmd.CommandID,
			"command_type": string(cmd.CommandType),
		},
		ErrorMessage: errorMessage,
	})
}

// broadcast pushes the post-transition record to the console stream.
func (d *Dispatcher) broadcast(ctx context.Context, commandID string) {
	if d.hub == nil {
		return
	}
	cmd, err := d.store.GetCommand(ctx, commandID)
	if err != nil {
		log.Printf("Failed to load command %s for broadcast: %v", commandID, err)
		return
	}
	d.hub.BroadcastCommand(cmd)
}
