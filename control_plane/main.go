package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/opsforge/opsforge/control_plane/audit"
	"github.com/opsforge/opsforge/control_plane/dispatch"
	"github.com/opsforge/opsforge/control_plane/feed"
	"github.com/opsforge/opsforge/control_plane/handlers"
	"github.com/opsforge/opsforge/control_plane/idempotency"
	"github.com/opsforge/opsforge/control_plane/middleware"
	"github.com/opsforge/opsforge/control_plane/permission"
	"github.com/opsforge/opsforge/control_plane/queue"
	"github.com/opsforge/opsforge/control_plane/store"
)

func generateConsumerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "dispatcher"
	}
	return hostname + "-" + uuid.NewString()[:8]
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	ctx := context.Background()

	// Durable store: Postgres in production, memory for single-node dev.
	var s store.Store
	var policies permission.PolicyStore
	var pgStore *store.PostgresStore

	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		var err error
		pgStore, err = store.NewPostgresStore(ctx, connString)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		s = pgStore
		policies = permission.NewPostgresPolicyStore(pgStore.Pool())
		log.Println("Using Postgres store")
	} else {
		s = store.NewMemoryStore()
		policies = permission.NewMemoryPolicyStore()
		log.Println("DATABASE_URL not set. Using in-memory store (single-node dev only)")
	}

	// Redis carries the change feed and the reprocessable work queues.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     envOr("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis (required for the command feed): %v", err)
	}

	group := envOr("FEED_GROUP", "command-dispatchers")
	consumer := envOr("FEED_CONSUMER", generateConsumerID())
	commandFeed, err := feed.NewRedisFeedFromClient(redisClient, feed.DefaultStream, group, consumer)
	if err != nil {
		log.Fatalf("Failed to initialize command feed: %v", err)
	}
	log.Printf("Command feed ready (group=%s consumer=%s)", group, consumer)

	workQueues := queue.NewRedisQueue(redisClient)

	// Permission gate and audit trail.
	gate := permission.NewGate(policies)
	audits := audit.NewService(s, gate)

	// Handler registry with health probes matching the configured backends.
	probes := []handlers.Probe{
		handlers.NewStoreProbe("command_store", s),
		handlers.NewRedisProbe(redisClient),
	}
	if pgStore != nil {
		probes = append(probes, handlers.NewPostgresProbe(pgStore.Pool()))
	}
	registry := handlers.NewRegistry(s, workQueues, probes)

	// Handler timeout bounds each command execution.
	timeout := dispatch.DefaultHandlerTimeout
	if v := os.Getenv("COMMAND_TIMEOUT_SECONDS"); v != "" {
		var secs int
		fmt.Sscanf(v, "%d", &secs)
		if secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	log.Printf("[CONFIG] Handler timeout: %v", timeout)

	idemStore := idempotency.NewStore()
	api := NewAPI(s, commandFeed, gate, audits, workQueues, idemStore)

	// Start WebSocket hub before the dispatcher can broadcast into it.
	go api.wsHub.Run(ctx)

	dispatcher := dispatch.NewDispatcher(s, registry, audits, api.wsHub, timeout)

	batchSize := 16
	if v := os.Getenv("FEED_BATCH_SIZE"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			batchSize = n
		}
	}
	go dispatcher.Run(ctx, commandFeed, batchSize, 5*time.Second)

	// Re-emit insert events for commands stuck in PENDING (lost publishes).
	go runPendingSweep(ctx, s, commandFeed)

	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Auth resolves the tenant from the token; the tenant middleware then
	// rejects requests whose X-Tenant-ID header disagrees with it.
	authed := func(h http.Handler) http.Handler {
		return middleware.AuthMiddleware(middleware.TenantMiddleware(h))
	}

	// Internal command surface
	http.Handle("/internal/commands", authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			api.handleListCommands(w, r)
			return
		}
		// Wrap with idempotency for POST
		api.withIdempotency(api.handleSubmitCommand)(w, r)
	})))
	http.Handle("/internal/commands/", authed(http.HandlerFunc(api.handleGetCommand)))

	// Console surface
	http.Handle("/api/audit-logs", authed(http.HandlerFunc(api.handleQueryAuditLogs)))
	http.Handle("/api/integrations", authed(http.HandlerFunc(api.handleListIntegrations)))
	http.Handle("/api/queues/", authed(http.HandlerFunc(api.handleGetQueueDepths)))
	http.Handle("/api/agents/", authed(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			api.withIdempotency(api.handleAgentAction)(w, r)
			return
		}
		api.handleGetAgentActivation(w, r)
	})))
	http.Handle("/api/commands/stream", authed(http.HandlerFunc(api.handleCommandStream)))

	// Metrics Endpoint
	http.Handle("/metrics", promhttp.Handler())

	port := envOr("PORT", "8080")
	log.Printf("OpsForge command plane listening on :%s", port)

	// Wrap all routes with CORS middleware for console access
	handler := middleware.CORSMiddleware(http.DefaultServeMux)

	log.Fatal(http.ListenAndServe(":"+port, handler))
}

// runPendingSweep periodically republishes insert events for commands that
// have sat in PENDING longer than the grace period. Together with the
// dispatcher's conditional RUNNING claim this makes delivery at-least-once
// even when the submit-path publish is lost.
func runPendingSweep(ctx context.Context, s store.Store, publisher feed.Publisher) {
	const (
		sweepInterval = 60 * time.Second
		pendingGrace  = 2 * time.Minute
	)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			commands, _, err := s.ListCommands(ctx, store.CommandFilter{
				Status: store.StatusPending,
				Limit:  store.MaxPageSize,
			})
			if err != nil {
				log.Printf("Pending sweep failed to list commands: %v", err)
				continue
			}

			for _, cmd := range commands {
				if time.Since(cmd.CreatedAt) < pendingGrace {
					continue
				}
				event := feed.Event{
					EventID:   uuid.NewString(),
					Kind:      feed.KindInsert,
					Command:   cmd,
					Timestamp: time.Now(),
					Source:    "sweep",
				}
				if err := publisher.Publish(ctx, event); err != nil {
					log.Printf("Pending sweep failed to republish command %s: %v", cmd.CommandID, err)
					continue
				}
				log.Printf("Pending sweep republished command %s (age %v)", cmd.CommandID, time.Since(cmd.CreatedAt).Round(time.Second))
			}
		}
	}
}
