// Package permission is the capability gate: every mutating entry point of
// the command subsystem asks it whether a subject may perform an action on a
// resource before taking effect.
package permission

import (
	"context"
	"time"
)

// SubjectType identifies who is asking.
type SubjectType string

const (
	SubjectUser  SubjectType = "user"
	SubjectRole  SubjectType = "role"
	SubjectAgent SubjectType = "agent"
)

// ResourceType identifies what is being accessed.
type ResourceType string

const (
	ResourceAgent  ResourceType = "agent"
	ResourceTenant ResourceType = "tenant"
	ResourceUser   ResourceType = "user"
	ResourceData   ResourceType = "data"
)

// Action is the operation being attempted.
type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionExecute Action = "execute"
	ActionDelete  Action = "delete"
	ActionManage  Action = "manage"
)

func validSubject(s SubjectType) bool {
	return s == SubjectUser || s == SubjectRole || s == SubjectAgent
}

func validResource(r ResourceType) bool {
	return r == ResourceAgent || r == ResourceTenant || r == ResourceUser || r == ResourceData
}

func validAction(a Action) bool {
	switch a {
	case ActionRead, ActionWrite, ActionExecute, ActionDelete, ActionManage:
		return true
	}
	return false
}

// RequestContext carries the tenant and diagnostic metadata a constraint may
// need (caller IP under "ipAddress", requested sub-resource under "resource").
type RequestContext struct {
	TenantID  string
	Timestamp time.Time
	Metadata  map[string]string
}

// Request is one permission check.
type Request struct {
	SubjectType  SubjectType
	SubjectID    string
	ResourceType ResourceType
	ResourceID   string // empty matches resource-wide grants
	Action       Action
	Context      RequestContext
}

// Result is the gate's verdict. "Not allowed" is a value, never an error.
type Result struct {
	Allowed bool
	Reason  string
	GrantID string
}

// TimeWindow restricts a grant to a daily interval, HH:MM inclusive.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Constraints optionally narrow when a grant applies. Field names match the
// JSONB documents stored alongside each grant.
type Constraints struct {
	TimeWindow  *TimeWindow `json:"timeWindow,omitempty"`
	AllowedDays []int       `json:"allowedDays,omitempty"` // 0=Sunday .. 6=Saturday
	IPAllowlist []string    `json:"ipWhitelist,omitempty"`
}

// Empty reports whether no constraint is set.
func (c *Constraints) Empty() bool {
	return c == nil || (c.TimeWindow == nil && len(c.AllowedDays) == 0 && len(c.IPAllowlist) == 0)
}

// Grant is one stored permission row.
type Grant struct {
	GrantID      string
	SubjectType  SubjectType
	SubjectID    string
	ResourceType ResourceType
	ResourceID   string // empty means all resources of the type
	Action       Action
	Constraints  *Constraints
	GrantedAt    time.Time
	ExpiresAt    *time.Time
}

// PolicyStore resolves grants and user roles. FindGrant returns nil (not an
// error) when no live grant matches; errors mean the store is unreachable.
type PolicyStore interface {
	FindGrant(ctx context.Context, subjectType SubjectType, subjectID string, resourceType ResourceType, resourceID string, action Action) (*Grant, error)
	UserRole(ctx context.Context, userID string) (string, error)
}
