package cds

import (
	"strings"
	"sync"
	"time"

	"github.com/cdss/cdss/internal/domain/medical"
	"github.com/cdss/cdss/internal/platform/middleware"
)

const DefaultAuditCapacity = 1000

// AuditTrail keeps the most recent audit entries in memory. It records both
// analysis events and, as a middleware.AuditRecorder, every API access.
type AuditTrail struct {
	mu      sync.Mutex
	entries []medical.AuditEntry
	next    int
	full    bool
	nowFunc func() time.Time
}

func NewAuditTrail(capacity int) *AuditTrail {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditTrail{entries: make([]medical.AuditEntry, capacity), nowFunc: time.Now}
}

// Add stores e, filling its id and timestamp when unset. The oldest entry is
// overwritten once the trail is full.
func (t *AuditTrail) Add(e medical.AuditEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.nowFunc().UTC()
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.ID == "" {
		e.ID = medical.GenerateAuditID(now)
	}
	t.entries[t.next] = e
	t.next = (t.next + 1) % len(t.entries)
	if t.next == 0 {
		t.full = true
	}
}

// Recent returns up to limit entries, newest first.
func (t *AuditTrail) Recent(limit int) []medical.AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	size := t.next
	if t.full {
		size = len(t.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]medical.AuditEntry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (t.next - 1 - i + len(t.entries)) % len(t.entries)
		out = append(out, t.entries[idx])
	}
	return out
}

// RecordAccess implements middleware.AuditRecorder.
func (t *AuditTrail) RecordAccess(a middleware.AuditEntry) error {
	t.Add(medical.AuditEntry{
		Timestamp:    a.Timestamp,
		Action:       auditAction(a.Action),
		ActorID:      a.UserID,
		ActorRole:    strings.Join(a.UserRoles, ","),
		ResourceType: a.Resource,
		ResourceID:   a.ResourceID,
		IPAddress:    a.IPAddress,
		UserAgent:    a.UserAgent,
		Details: map[string]any{
			"requestId":  a.RequestID,
			"path":       a.Path,
			"statusCode": a.StatusCode,
		},
	})
	return nil
}

// auditAction maps the middleware's read/create/update/delete onto the
// audit action names.
func auditAction(action string) string {
	if action == "read" || action == "" {
		return medical.AuditView
	}
	return action
}
