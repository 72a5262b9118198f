package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/opsforge/opsforge/control_plane/audit"
	"github.com/opsforge/opsforge/control_plane/feed"
	"github.com/opsforge/opsforge/control_plane/idempotency"
	"github.com/opsforge/opsforge/control_plane/middleware"
	"github.com/opsforge/opsforge/control_plane/observability"
	"github.com/opsforge/opsforge/control_plane/permission"
	"github.com/opsforge/opsforge/control_plane/queue"
	"github.com/opsforge/opsforge/control_plane/store"
)

// IdempotencyKeyHeader lets clients safely retry command submissions.
const IdempotencyKeyHeader = "X-Idempotency-Key"

type API struct {
	store  store.Store
	feed   feed.Publisher
	gate   *permission.Gate
	audits *audit.Service
	queues queue.DepthReader

	wsHub *CommandHub

	idempotency *idempotency.Store

	// Storm Protection
	submitLimiter *rate.Limiter
	queryLimiter  *rate.Limiter
}

func NewAPI(s store.Store, publisher feed.Publisher, gate *permission.Gate, audits *audit.Service, queues queue.DepthReader, idempotencyStore *idempotency.Store) *API {
	api := &API{
		store:       s,
		feed:        publisher,
		gate:        gate,
		audits:      audits,
		queues:      queues,
		idempotency: idempotencyStore,
		// Allow 50 submissions/sec, burst 100
		submitLimiter: rate.NewLimiter(rate.Limit(50), 100),
		// Allow 200 reads/sec, burst 400
		queryLimiter: rate.NewLimiter(rate.Limit(200), 400),
	}

	// Initialize WebSocket hub
	api.wsHub = NewCommandHub()

	return api
}

// Wrapper for capturing response
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

func (a *API) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			next(w, r)
			return
		}

		// Keys are scoped per tenant so one tenant cannot replay another's response.
		if tenantID, err := middleware.GetTenantFromContext(r.Context()); err == nil {
			key = tenantID + ":" + key
		}

		if resp, found := a.idempotency.Get(key); found {
			for k, v := range resp.Headers {
				for _, val := range v {
					w.Header().Add(k, val)
				}
			}
			w.WriteHeader(resp.StatusCode)
			w.Write(resp.Body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next(rec, r)

		a.idempotency.Set(key, idempotency.Response{
			StatusCode: rec.statusCode,
			Body:       rec.body,
			Headers:    rec.Header(),
		})
	}
}

// writeRateLimitError writes a 429 response with Jittered Retry-After
func (a *API) writeRateLimitError(w http.ResponseWriter, endpoint string) {
	observability.APIRateLimited.WithLabelValues(endpoint).Inc()

	// Jitter: 1s base + 0-1000ms random
	retryAfter := 1000 + rand.Intn(1000)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter/1000)) // Seconds
	http.Error(w, "Too Many Requests (Storm Protection Active)", http.StatusTooManyRequests)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeStoreError maps the store's sentinel errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Printf("Internal error: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// callerFromContext assembles the caller identity injected by the auth middleware.
func callerFromContext(r *http.Request) (audit.Caller, error) {
	tenantID, err := middleware.GetTenantFromContext(r.Context())
	if err != nil {
		return audit.Caller{}, err
	}
	userID, err := middleware.GetUserFromContext(r.Context())
	if err != nil {
		return audit.Caller{}, err
	}
	role, err := middleware.GetRoleFromContext(r.Context())
	if err != nil {
		return audit.Caller{}, err
	}
	return audit.Caller{TenantID: tenantID, UserID: userID, Role: role}, nil
}

// clientIP extracts the caller address for constraint evaluation.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// checkPermission runs the gate and records denials. The denied verdict is
// returned to the handler, which decides the HTTP shape.
func (a *API) checkPermission(r *http.Request, caller audit.Caller, resourceType permission.ResourceType, resourceID string, action permission.Action, metadata map[string]string) (permission.Result, error) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["ipAddress"] = clientIP(r)

	verdict, err := a.gate.Check(r.Context(), permission.Request{
		SubjectType:  permission.SubjectUser,
		SubjectID:    caller.UserID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
		Context: permission.RequestContext{
			TenantID: caller.TenantID,
			Metadata: metadata,
		},
	})
	if err != nil {
		return verdict, err
	}
	if !verdict.Allowed {
		observability.PermissionDenials.WithLabelValues(string(resourceType), string(action)).Inc()
	}
	return verdict, nil
}
