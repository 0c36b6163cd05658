package audit

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Event identifies the type of security-relevant action being logged.
type Event string

const (
	LoginSuccess       Event = "login_success"
	LoginFailure       Event = "login_failure"
	LoginLocked        Event = "login_locked"
	TokenRefreshed     Event = "token_refreshed"
	Logout             Event = "logout"
	CertIssued         Event = "cert_issued"
	CertIssueFailed    Event = "cert_issue_failed"
	CertRevoked        Event = "cert_revoked"
	CertRevokeFailed   Event = "cert_revoke_failed"
	CertDownloaded     Event = "cert_downloaded"
	CertListed         Event = "cert_listed"
	RequestRateLimited Event = "request_rate_limited"
)

// Entry is one append-only audit record. CorrelationID ties the entry to
// every other log line emitted while serving the same request.
type Entry struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlationId"`
	Event         Event     `json:"event"`
	Actor         string    `json:"actor,omitempty"`
	ClientIP      string    `json:"clientIP,omitempty"`
	Target        string    `json:"target,omitempty"`
	Outcome       string    `json:"outcome"`
	Detail        string    `json:"detail,omitempty"`
	Time          time.Time `json:"time"`
}

// Logger emits audit entries to the structured application log and appends
// them to the durable store. A nil store keeps log-only behavior.
type Logger struct {
	entry *log.Entry
	store *Store
}

func NewLogger(store *Store) *Logger {
	return &Logger{
		entry: log.WithField("component", "audit"),
		store: store,
	}
}

// Record completes and persists the entry. Store failures are logged but do
// not fail the request being audited.
func (l *Logger) Record(e Entry) {
	if len(e.ID) == 0 {
		e.ID = uuid.New().String()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	l.entry.WithFields(log.Fields{
		"event":          e.Event,
		"actor":          e.Actor,
		"client_ip":      e.ClientIP,
		"target":         e.Target,
		"outcome":        e.Outcome,
		"correlation_id": e.CorrelationID,
	}).Info(e.Detail)
	if l.store != nil {
		if err := l.store.Append(e); err != nil {
			l.entry.Errorf("can't append audit entry: %v", err)
		}
	}
}
