package attrkit

import (
	"github.com/attrkit/attrkit/pkg/attrkit/attribution"
)

// Status is a read-only, point-in-time view of the tracker.
type Status struct {
	// QueueSize is the number of events awaiting delivery.
	QueueSize int

	// InFlight reports whether a batch send is currently on the wire.
	InFlight bool

	// Online reports whether the last delivery attempt reached the
	// endpoint.
	Online bool

	// VisitorID is the persistent anonymous installation identifier.
	VisitorID string

	// UserID is the bound user identifier, empty before Identify.
	UserID string

	// SessionID is the current session identifier, empty when the
	// session has expired and no event has started a new one.
	SessionID string

	// Attribution is the canonical attribution snapshot.
	Attribution attribution.Record

	// ConversionValue is the current conversion value; ConversionSet
	// reports whether any event has set it.
	ConversionValue int
	ConversionSet   bool
}

// Status captures the current state of the tracker. Values are
// consistent per field, not across fields.
func (t *Tracker) Status() Status {
	t.identityMu.Lock()
	visitorID, userID := t.visitorID, t.userID
	t.identityMu.Unlock()

	s := Status{
		QueueSize:   t.queue.Size(),
		InFlight:    t.scheduler.InFlight(),
		Online:      t.scheduler.Online(),
		VisitorID:   visitorID,
		UserID:      userID,
		Attribution: t.resolver.Snapshot(),
	}

	if sess, active := t.sessions.Current(); active {
		s.SessionID = sess.ID
	}
	if t.encoder != nil {
		s.ConversionValue, s.ConversionSet = t.encoder.Value()
	}
	return s
}
