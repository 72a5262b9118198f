package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/opsforge/opsforge/control_plane/store"
)

// Probe checks one downstream dependency.
type Probe interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthReport is the HEALTH_CHECK output payload.
type HealthReport struct {
	Status    string          `json:"status"` // "healthy" or "degraded"
	Checks    map[string]bool `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
}

// HealthCheck probes every configured dependency independently. One probe's
// failure (error or panic) becomes false in the checks map and must not
// abort the others; degraded is reported as SUCCESS output, never as an
// execution error.
func HealthCheck(probes []Probe) Handler {
	return func(ctx context.Context, cmd *store.Command) (string, error) {
		report := HealthReport{
			Status:    "healthy",
			Checks:    make(map[string]bool, len(probes)),
			Timestamp: time.Now().UTC(),
		}

		for _, probe := range probes {
			ok := runProbe(ctx, probe)
			report.Checks[probe.Name()] = ok
			if !ok {
				report.Status = "degraded"
			}
		}

		out, err := json.Marshal(report)
		if err != nil {
			return "", fmt.Errorf("marshal health report: %w", err)
		}
		return string(out), nil
	}
}

func runProbe(ctx context.Context, probe Probe) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Health probe %s panicked: %v", probe.Name(), r)
			ok = false
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := probe.Check(probeCtx); err != nil {
		log.Printf("Health probe %s failed: %v", probe.Name(), err)
		return false
	}
	return true
}

// PostgresProbe pings the relational store.
type PostgresProbe struct {
	pool *pgxpool.Pool
}

func NewPostgresProbe(pool *pgxpool.Pool) *PostgresProbe {
	return &PostgresProbe{pool: pool}
}

func (p *PostgresProbe) Name() string { return "postgres" }

func (p *PostgresProbe) Check(ctx context.Context) error {
	var one int
	return p.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// RedisProbe pings the feed/queue backend.
type RedisProbe struct {
	client *redis.Client
}

func NewRedisProbe(client *redis.Client) *RedisProbe {
	return &RedisProbe{client: client}
}

func (p *RedisProbe) Name() string { return "redis" }

func (p *RedisProbe) Check(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// StoreProbe checks whatever Store implementation is configured by running a
// cheap read. Used when the control plane runs on the in-memory store.
type StoreProbe struct {
	name string
	st   store.Store
}

func NewStoreProbe(name string, st store.Store) *StoreProbe {
	return &StoreProbe{name: name, st: st}
}

func (p *StoreProbe) Name() string { return p.name }

func (p *StoreProbe) Check(ctx context.Context) error {
	_, _, err := p.st.ListCommands(ctx, store.CommandFilter{Limit: 1})
	return err
}
