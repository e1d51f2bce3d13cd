package ledger

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Recorder writes audit entries on a best-effort basis: failures are logged
// and swallowed, never returned to the operation that triggered them.
type Recorder struct {
	Log   AuditLog
	Clock Clock
}

func NewRecorder(auditLog AuditLog, clock Clock) *Recorder {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Recorder{Log: auditLog, Clock: clock}
}

// Record appends entry, filling ID and Timestamp when unset.
func (r *Recorder) Record(ctx context.Context, entry AuditEntry) {
	if r == nil || r.Log == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.Clock.Now()
	}
	if err := r.Log.Append(ctx, entry); err != nil {
		log.Printf("[Audit] failed to record %s on %s %s: %v", entry.Action, entry.Entity, entry.EntityID, err)
	}
}
