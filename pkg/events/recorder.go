package events

import (
	"context"
	"sync"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Recorder keeps every audit record, invalidation and notification in
// memory. It backs the hooks when no broker is configured and in tests.
type Recorder struct {
	mu            sync.Mutex
	audits        []models.AuditRecord
	invalidations []models.Invalidation
	notifications []models.Notification
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(_ context.Context, record models.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, record)
	return nil
}

func (r *Recorder) Invalidate(_ context.Context, invalidations ...models.Invalidation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidations = append(r.invalidations, invalidations...)
	return nil
}

func (r *Recorder) Notify(_ context.Context, notification models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, notification)
	return nil
}

func (r *Recorder) Audits() []models.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuditRecord(nil), r.audits...)
}

func (r *Recorder) Invalidations() []models.Invalidation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Invalidation(nil), r.invalidations...)
}

func (r *Recorder) Notifications() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.notifications...)
}
